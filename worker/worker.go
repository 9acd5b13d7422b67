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

// Package worker drains the pending report queue towards the upstream
// API on a fixed period. It also hosts the one-shot clock-skew
// correction (a Pi without RTC boots with a bogus clock; once NTP syncs,
// pending timestamps written before the sync get shifted) and the
// optional daily broadcast.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/command"
	"github.com/osmmesh/osmgw/notify"
	"github.com/osmmesh/osmgw/publisher"
	"github.com/osmmesh/osmgw/stats"
	"github.com/osmmesh/osmgw/store"
)

// PageSize is how many pending reports one flush tick will attempt.
const PageSize = 10

// skewThreshold is the minimum clock delta worth correcting.
const skewThreshold = 60 * time.Second

// Publisher is the slice of the upstream client the worker uses.
type Publisher interface {
	Publish(ctx context.Context, lat, lon float64, text, locale string) publisher.Result
}

// Clock is the slice of the gateway clock the worker uses.
type Clock interface {
	NowUTC() time.Time
	Synced() bool
	Sleeper() clockwork.Clock
}

// Worker is the periodic flush loop.
type Worker struct {
	st       *store.Store
	pub      Publisher
	notifier *notify.Notifier
	clk      Clock
	sleeper  clockwork.Clock
	stats    *stats.Stats
	lang     notify.LangResolver
	interval time.Duration

	broadcastEnabled bool
	broadcastLang    string
	loc              *time.Location

	firstCycle bool
}

// New builds a flush worker.
func New(st *store.Store, pub Publisher, notifier *notify.Notifier, clk Clock, st8 *stats.Stats,
	lang notify.LangResolver, interval time.Duration, broadcastEnabled bool, broadcastLang string, loc *time.Location) *Worker {
	return &Worker{
		st:               st,
		pub:              pub,
		notifier:         notifier,
		clk:              clk,
		sleeper:          clk.Sleeper(),
		stats:            st8,
		lang:             lang,
		interval:         interval,
		broadcastEnabled: broadcastEnabled,
		broadcastLang:    broadcastLang,
		loc:              loc,
		firstCycle:       true,
	}
}

// Run executes flush ticks until ctx is cancelled. The first tick runs
// immediately on start so a backlog left from the previous run drains
// without waiting a full period.
func (w *Worker) Run(ctx context.Context) {
	log.Info("Flush worker started")
	ticker := w.sleeper.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			log.Info("Flush worker stopped")
			return
		case <-ticker.Chan():
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	w.maybeCorrectClock()

	sent := w.FlushPending(ctx)
	if sent > 0 {
		log.Infof("Flushed %d reports upstream", sent)
	}

	w.notifier.AnnounceSent()

	// skipped on the very first cycle so a crash loop cannot spam the mesh
	if w.broadcastEnabled && !w.firstCycle {
		w.maybeDailyBroadcast()
	}
	w.firstCycle = false
}

// FlushPending drains one page of pending reports, oldest first. A
// transient failure stops the page (the channel is likely down); a
// permanent failure records the error and moves on. Returns the number
// of reports promoted to sent.
func (w *Worker) FlushPending(ctx context.Context) int {
	pending, err := w.st.PendingPage(PageSize)
	if err != nil {
		log.Errorf("Listing pending reports: %v", err)
		return 0
	}

	sent := 0
	for _, r := range pending {
		if ctx.Err() != nil {
			return sent
		}
		res := w.pub.Publish(ctx, r.Lat, r.Lon, r.TextNormalized, w.lang(r.Origin))
		switch res.Status {
		case publisher.Ok:
			if err := w.st.MarkSent(r.QueueID, res.NoteID, res.URL, w.clk.NowUTC()); err != nil {
				if errors.Is(err, store.ErrNotPending) {
					// raced with an immediate send, nothing to do
					continue
				}
				log.Errorf("Marking %s sent: %v", r.QueueID, err)
				continue
			}
			w.stats.Published.Add(1)
			sent++
		case publisher.TransientFailure:
			w.stats.PublishErrors.Add(1)
			if err := w.st.RecordError(r.QueueID, res.Tag); err != nil {
				log.Errorf("Recording error on %s: %v", r.QueueID, err)
			}
			// no point burning through the rest of the page
			return sent
		case publisher.PermanentFailure:
			w.stats.PublishErrors.Add(1)
			log.Errorf("Report %s permanently rejected upstream (%s), leaving pending for operator", r.QueueID, res.Tag)
			if err := w.st.RecordError(r.QueueID, res.Tag); err != nil {
				log.Errorf("Recording error on %s: %v", r.QueueID, err)
			}
		}
	}
	return sent
}

// maybeCorrectClock applies the one-shot skew correction: once the
// system clock is NTP-synchronized, pending rows stamped before the sync
// are shifted by the observed delta. Sent rows are never touched.
func (w *Worker) maybeCorrectClock() {
	boot, applied, err := w.st.BootState()
	if err != nil {
		log.Errorf("Reading boot state: %v", err)
		return
	}
	if applied {
		return
	}
	if !w.clk.Synced() {
		return
	}

	now := w.clk.NowUTC()
	if !boot.IsZero() {
		delta := now.Sub(boot)
		if delta > skewThreshold || delta < -skewThreshold {
			pending, err := w.st.PendingBefore(now)
			if err != nil {
				log.Errorf("Listing pending rows for skew correction: %v", err)
				return
			}
			ids := make([]int64, 0, len(pending))
			for _, r := range pending {
				ids = append(ids, r.ID)
			}
			n, err := w.st.ShiftCreatedAt(ids, delta)
			if err != nil {
				log.Errorf("Applying skew correction: %v", err)
				return
			}
			log.Infof("Clock skew correction: shifted %d pending reports by %s", n, delta)
		}
	}

	if err := w.st.SetTimeCorrectionApplied(); err != nil {
		log.Errorf("Latching time correction flag: %v", err)
	}
}

// maybeDailyBroadcast advertises the gateway at most once per calendar
// day, latched in the store so restarts do not repeat it.
func (w *Worker) maybeDailyBroadcast() {
	today := w.clk.NowUTC().In(w.loc).Format("2006-01-02")
	last, err := w.st.LastBroadcastDate()
	if err != nil {
		log.Errorf("Reading last broadcast date: %v", err)
		return
	}
	if last == today {
		return
	}
	if w.notifier.Broadcast(command.MsgDailyBroadcast(w.broadcastLang)) {
		if err := w.st.SetLastBroadcastDate(today); err != nil {
			log.Errorf("Latching broadcast date: %v", err)
		}
		log.Infof("Sent daily broadcast for %s", today)
	} else {
		log.Warning("Daily broadcast not transmitted")
	}
}
