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

// Package notify emits directed acknowledgements back through the radio
// link under a per-origin anti-spam budget. Acks are best-effort: a
// failed transmit is never retried, and a promotion announcement is
// latched in the store the moment it is attempted.
package notify

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/command"
	"github.com/osmmesh/osmgw/publisher"
	"github.com/osmmesh/osmgw/store"
)

// Anti-spam budget: at most BudgetMax directed acks per origin per
// rolling BudgetWindow; beyond that a single summary per window.
const (
	BudgetWindow = 60 * time.Second
	BudgetMax    = 3
)

// privacySuffixEvery controls the cadence of the privacy reminder on
// success acks.
const privacySuffixEvery = 5

// SuffixMode says how the privacy reminder is applied to an ack.
type SuffixMode int

const (
	// SuffixAlways: reminder on every ack (rejections, queued, duplicate).
	SuffixAlways SuffixMode = iota
	// SuffixEveryFifth: reminder only on every 5th successful report.
	SuffixEveryFifth
	// SuffixNever: no reminder (promotions, broadcasts).
	SuffixNever
)

// Sender is the slice of the radio adapter the notifier uses.
type Sender interface {
	SendDirect(origin, text string) bool
	SendBroadcast(text string) bool
}

// Store is the slice of the durable store the notifier uses.
type Store interface {
	UnannouncedSent() ([]store.Report, error)
	MarkAnnounced(queueID string) error
	SentCount(origin string) (int, error)
}

// LangResolver returns the language for an origin.
type LangResolver func(origin string) string

// Notifier emits acknowledgements and promotion announcements.
type Notifier struct {
	sender Sender
	store  Store
	lang   LangResolver
	clk    clockwork.Clock
	dryRun bool

	mu          sync.Mutex
	ackHistory  map[string][]time.Time
	lastSummary map[string]time.Time
}

// New builds a Notifier.
func New(sender Sender, st Store, lang LangResolver, clk clockwork.Clock, dryRun bool) *Notifier {
	return &Notifier{
		sender:      sender,
		store:       st,
		lang:        lang,
		clk:         clk,
		dryRun:      dryRun,
		ackHistory:  make(map[string][]time.Time),
		lastSummary: make(map[string]time.Time),
	}
}

// Ack sends one directed acknowledgement, applying the privacy suffix
// per mode and charging the origin's anti-spam budget. Returns whether a
// transmit was attempted (budget allowed it).
func (n *Notifier) Ack(origin, body string, mode SuffixMode) bool {
	if !n.allowAck(origin) {
		log.Warningf("Ack to %s suppressed by anti-spam budget", origin)
		return false
	}
	msg := n.withSuffix(origin, body, mode)
	n.transmit(origin, msg)
	return true
}

// AnnounceSent walks reports that reached sent without their origin
// knowing and announces the promotion. Every walked report is marked
// announced regardless of transmit success, so a dead radio does not
// cause an announcement storm after reconnect.
func (n *Notifier) AnnounceSent() {
	reports, err := n.store.UnannouncedSent()
	if err != nil {
		log.Errorf("Listing unannounced reports: %v", err)
		return
	}

	collapsed := make(map[string]int)
	for _, r := range reports {
		lang := n.lang(r.Origin)
		if n.allowAck(r.Origin) {
			body := command.MsgPromoted(lang, r.QueueID, r.UpstreamID, noteURL(r))
			n.transmit(r.Origin, body)
		} else {
			collapsed[r.Origin]++
		}
		if err := n.store.MarkAnnounced(r.QueueID); err != nil {
			log.Errorf("Marking %s announced: %v", r.QueueID, err)
		}
	}

	for origin, count := range collapsed {
		if !n.allowSummary(origin) {
			continue
		}
		n.transmit(origin, command.MsgFlushSummary(n.lang(origin), count))
	}
}

// Broadcast sends an unbudgeted broadcast frame.
func (n *Notifier) Broadcast(body string) bool {
	if n.dryRun {
		log.Infof("[DRY_RUN] Would broadcast: %.60s", body)
		return true
	}
	return n.sender.SendBroadcast(body)
}

func (n *Notifier) transmit(origin, msg string) {
	if n.dryRun {
		log.Infof("[DRY_RUN] Would send to %s: %.60s", origin, msg)
		return
	}
	if !n.sender.SendDirect(origin, msg) {
		// acks are never retried, drop it
		log.Warningf("Ack to %s not transmitted (radio down?)", origin)
	}
}

func (n *Notifier) withSuffix(origin, body string, mode SuffixMode) string {
	lang := n.lang(origin)
	switch mode {
	case SuffixAlways:
		return body + "\n" + command.PrivacySuffix(lang)
	case SuffixEveryFifth:
		sent, err := n.store.SentCount(origin)
		if err == nil && sent > 0 && sent%privacySuffixEvery == 0 {
			return body + "\n" + command.PrivacySuffix(lang)
		}
	}
	return body
}

// allowAck charges one directed ack against the origin's budget.
func (n *Notifier) allowAck(origin string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clk.Now()
	cutoff := now.Add(-BudgetWindow)
	kept := n.ackHistory[origin][:0]
	for _, t := range n.ackHistory[origin] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= BudgetMax {
		n.ackHistory[origin] = kept
		return false
	}
	n.ackHistory[origin] = append(kept, now)
	return true
}

// allowSummary permits at most one collapsed summary per budget window.
func (n *Notifier) allowSummary(origin string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clk.Now()
	if last, ok := n.lastSummary[origin]; ok && now.Sub(last) < BudgetWindow {
		return false
	}
	n.lastSummary[origin] = now
	return true
}

func noteURL(r store.Report) string {
	if r.UpstreamURL != "" {
		return r.UpstreamURL
	}
	return publisher.NoteURL(r.UpstreamID)
}
