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

package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/command"
	"github.com/osmmesh/osmgw/publisher"
	"github.com/osmmesh/osmgw/stats"
	"github.com/osmmesh/osmgw/store"
)

// listPreviewLen bounds the text preview per line of #osmlist so the
// reply fits mesh frames.
const listPreviewLen = 30

// statusReply answers #osmstatus with connectivity, uptime and queue
// depth.
func (g *Gateway) statusReply(origin, lang string) string {
	total, err := g.st.TotalQueue()
	if err != nil {
		log.Errorf("Reading total queue: %v", err)
	}
	_, _, mine, err := g.st.OriginStats(origin, g.loc)
	if err != nil {
		log.Errorf("Reading stats for %s: %v", origin, err)
	}
	return command.MsgStatus(lang, g.internetOK(), g.adapter.Connected(),
		stats.Uptime().String(), total, mine)
}

// internetOK probes the upstream API host. Any HTTP response counts as
// connectivity; only transport errors mean offline.
func (g *Gateway) internetOK() bool {
	req, err := http.NewRequest(http.MethodHead, g.cfg.OSMAPIURL, nil)
	if err != nil {
		return false
	}
	resp, err := g.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// countReply answers #osmcount.
func (g *Gateway) countReply(origin, lang string) string {
	total, today, _, err := g.st.OriginStats(origin, g.loc)
	if err != nil {
		log.Errorf("Reading stats for %s: %v", origin, err)
	}
	return command.MsgCount(lang, today, total)
}

// listReply answers #osmlist with the origin's newest reports.
func (g *Gateway) listReply(origin string, n int, lang string) string {
	reports, err := g.st.RecentReports(origin, n)
	if err != nil {
		log.Errorf("Listing reports for %s: %v", origin, err)
	}
	if len(reports) == 0 {
		return command.MsgListEmpty(lang)
	}

	var b strings.Builder
	b.WriteString(command.MsgListHeader(lang, len(reports)))
	for _, r := range reports {
		b.WriteString("\n")
		b.WriteString(formatListLine(r, g.loc))
	}
	return b.String()
}

func formatListLine(r store.Report, loc *time.Location) string {
	icon := "⏳"
	ref := r.QueueID
	if r.Status == store.StatusSent {
		icon = "✅"
		if r.UpstreamURL != "" {
			ref = r.UpstreamURL
		} else {
			ref = publisher.NoteURL(r.UpstreamID)
		}
	}
	preview := []rune(r.TextNormalized)
	if len(preview) > listPreviewLen {
		preview = append(preview[:listPreviewLen-1], '…')
	}
	when := r.CreatedAt.In(loc).Format("02/01 15:04")
	return fmt.Sprintf("%s %s %s\n%s", icon, when, string(preview), ref)
}

// queueReply answers #osmqueue.
func (g *Gateway) queueReply(origin, lang string) string {
	total, err := g.st.TotalQueue()
	if err != nil {
		log.Errorf("Reading total queue: %v", err)
	}
	_, _, mine, err := g.st.OriginStats(origin, g.loc)
	if err != nil {
		log.Errorf("Reading stats for %s: %v", origin, err)
	}
	return command.MsgQueue(lang, total, mine)
}

// nodesMax caps the #osmnodes listing.
const nodesMax = 10

// nodesReply answers #osmnodes with every origin the cache has heard
// from, most recent first.
func (g *Gateway) nodesReply(lang string) string {
	origins := g.cache.Origins()
	if len(origins) == 0 {
		return command.MsgNodesEmpty(lang)
	}
	if len(origins) > nodesMax {
		origins = origins[:nodesMax]
	}

	now := g.clk.Monotonic()
	var b strings.Builder
	b.WriteString(command.MsgNodesHeader(lang, len(origins)))
	for _, origin := range origins {
		age, _ := g.cache.Age(origin, now)
		b.WriteString(fmt.Sprintf("\n%s (%ds)", origin, int(age.Seconds())))
	}
	return b.String()
}

// langReply handles #osmlang, persisting the preference so every later
// reply to this origin switches language.
func (g *Gateway) langReply(origin, code, lang string) string {
	if !command.ValidLang(code) {
		return command.MsgLangInvalid(lang)
	}
	if err := g.st.SetUserLanguage(origin, code); err != nil {
		log.Errorf("Storing language for %s: %v", origin, err)
		return command.MsgLangInvalid(lang)
	}
	return command.MsgLangSet(code, code)
}
