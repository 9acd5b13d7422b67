/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osmmesh/osmgw/config"
	"github.com/osmmesh/osmgw/store"
)

var queueLimit int

func init() {
	RootCmd.AddCommand(queueCmd)
	queueCmd.Flags().IntVarP(&queueLimit, "limit", "l", 50, "max reports to show")
}

// queueCmd is an operator tool: it inspects the durable queue on disk
// without going through the daemon.
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show pending reports in the durable queue",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		cfg, err := config.Load()
		if err != nil {
			log.Fatal(err)
		}
		if err := printQueue(cfg.DBPath, queueLimit); err != nil {
			log.Fatal(err)
		}
	},
}

func printQueue(dbPath string, limit int) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := st.PendingPage(limit)
	if err != nil {
		return err
	}
	total, err := st.TotalQueue()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(40)
	table.SetHeader([]string{"QUEUE ID", "ORIGIN", "CREATED (UTC)", "LAT", "LON", "LAST ERROR", "TEXT"})
	for _, r := range pending {
		table.Append([]string{
			r.QueueID,
			r.Origin,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.5f", r.Lat),
			fmt.Sprintf("%.5f", r.Lon),
			r.LastError,
			r.TextNormalized,
		})
	}
	table.Render()
	fmt.Printf("Pending: %d total, %d shown\n", total, len(pending))
	return nil
}
