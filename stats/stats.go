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

// Package stats exposes gateway counters over a small JSON HTTP endpoint
// for scraping, plus process health gathered via gopsutil.
package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

var procStartTime = time.Now()

// Stats holds the gateway counters. All increments are atomic.
type Stats struct {
	RxPackets     atomic.Int64
	RxPositions   atomic.Int64
	RxCommands    atomic.Int64
	Accepted      atomic.Int64
	Rejected      atomic.Int64
	Duplicates    atomic.Int64
	Published     atomic.Int64
	PublishErrors atomic.Int64
	AcksSent      atomic.Int64
	Reconnects    atomic.Int64
}

// New returns zeroed stats.
func New() *Stats {
	return &Stats{}
}

// Start runs the monitoring HTTP server. Blocks; run it in a goroutine.
func (s *Stats) Start(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", port)
	log.Infof("Starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Monitoring listener failed: %v", err)
	}
}

func (s *Stats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

func (s *Stats) toMap() map[string]int64 {
	out := map[string]int64{
		"rx.packets":       s.RxPackets.Load(),
		"rx.positions":     s.RxPositions.Load(),
		"rx.commands":      s.RxCommands.Load(),
		"reports.accepted": s.Accepted.Load(),
		"reports.rejected": s.Rejected.Load(),
		"reports.dup":      s.Duplicates.Load(),
		"publish.ok":       s.Published.Load(),
		"publish.err":      s.PublishErrors.Load(),
		"acks.sent":        s.AcksSent.Load(),
		"radio.reconnects": s.Reconnects.Load(),

		"process.alive":  1,
		"process.uptime": int64(time.Since(procStartTime).Seconds()),

		"runtime.goroutines": int64(runtime.NumGoroutine()),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if val, err := proc.MemoryInfo(); err == nil {
			out["process.rss"] = int64(val.RSS)
		}
		if val, err := proc.NumFDs(); err == nil {
			out["process.num_fds"] = int64(val)
		}
		if val, err := proc.NumThreads(); err == nil {
			out["process.num_threads"] = int64(val)
		}
	}

	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	out["runtime.mem.alloc"] = int64(m.Alloc)
	out["runtime.mem.sys"] = int64(m.Sys)
	out["runtime.gc.count"] = int64(m.NumGC)

	return out
}

// Uptime returns how long the process has been alive, for #osmstatus.
func Uptime() time.Duration {
	return time.Since(procStartTime).Round(time.Second)
}
