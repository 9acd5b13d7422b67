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

// Package gateway wires the pipeline together: radio packets in, policy
// decisions, durable queue writes, upstream publishes and directed
// acknowledgements out. It owns the lifecycle of every component.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/clock"
	"github.com/osmmesh/osmgw/command"
	"github.com/osmmesh/osmgw/config"
	"github.com/osmmesh/osmgw/notify"
	"github.com/osmmesh/osmgw/policy"
	"github.com/osmmesh/osmgw/poscache"
	"github.com/osmmesh/osmgw/publisher"
	"github.com/osmmesh/osmgw/radio"
	"github.com/osmmesh/osmgw/stats"
	"github.com/osmmesh/osmgw/store"
	"github.com/osmmesh/osmgw/worker"
)

// connectivityTimeout bounds the #osmstatus Internet probe.
const connectivityTimeout = 3 * time.Second

// Gateway owns all components and dispatches inbound packets.
type Gateway struct {
	cfg      *config.Config
	clk      *clock.Clock
	cache    *poscache.Cache
	st       *store.Store
	pol      *policy.Engine
	adapter  *radio.Adapter
	pub      *publisher.Publisher
	geocoder *publisher.Geocoder
	notifier *notify.Notifier
	flusher  *worker.Worker
	stats    *stats.Stats
	loc      *time.Location

	probe *http.Client

	// serializes inbound dispatch so per-origin ordering holds
	dispatchMu sync.Mutex
}

// New builds a gateway from config. The modem is injected so tests can
// substitute a fake for the serial device.
func New(cfg *config.Config, modem radio.Modem) (*Gateway, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	clk := clock.New()
	cache := poscache.New()
	st8 := stats.New()
	loc := cfg.Location()

	g := &Gateway{
		cfg:   cfg,
		clk:   clk,
		cache: cache,
		st:    st,
		stats: st8,
		loc:   loc,
		probe: &http.Client{Timeout: connectivityTimeout},
	}

	limiter := policy.NewRateLimiter(clk.Sleeper())
	g.pol = policy.New(cache, st, limiter, cfg.PosGood, cfg.PosMax, cfg.MaxMessageLength)
	g.adapter = radio.New(modem, clk)
	g.pub = publisher.New(cfg.OSMAPIURL, cfg.OSMRateLimit, cfg.DryRun, clk)
	g.geocoder = publisher.NewGeocoder(cfg.NominatimURL, clk.Sleeper())
	g.notifier = notify.New(g.adapter, st, g.langFor, clk.Sleeper(), cfg.DryRun)
	g.flusher = worker.New(st, g.pub, g.notifier, clk, st8, g.langFor,
		cfg.WorkerInterval, cfg.DailyBroadcastEnabled, cfg.Language, loc)

	g.adapter.OnPacket(g.handlePacket)
	g.adapter.OnReconnect(func() { st8.Reconnects.Add(1) })
	return g, nil
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts down in order: flush worker first (no new publishes), then the
// radio, then the store.
func (g *Gateway) Run(ctx context.Context) error {
	log.Info("Starting mesh to OSM notes gateway")
	log.Infof("Timezone: %s", g.cfg.Timezone)
	log.Infof("Database: %s", g.cfg.DBPath)
	if g.cfg.DryRun {
		log.Warning("DRY_RUN enabled: no upstream notes, no radio transmits")
	}

	if err := g.st.RecordBoot(g.clk.NowUTC()); err != nil {
		return err
	}

	if g.cfg.MonitoringPort > 0 {
		go g.stats.Start(g.cfg.MonitoringPort)
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		g.flusher.Run(workerCtx)
	}()

	g.adapter.Start(ctx)
	log.Info("Gateway started")

	<-ctx.Done()
	log.Info("Stopping gateway...")

	cancelWorker()
	<-workerDone
	g.adapter.Stop()
	err := g.st.Close()
	log.Info("Gateway stopped")
	return err
}

// handlePacket is the single entry point for inbound radio traffic.
func (g *Gateway) handlePacket(pkt radio.Packet) {
	g.dispatchMu.Lock()
	defer g.dispatchMu.Unlock()

	g.stats.RxPackets.Add(1)

	if pkt.Origin == "" {
		log.Warning("Dropping packet without origin")
		return
	}

	// any embedded position refreshes the cache before classification
	if pkt.HasPosition {
		g.cache.Update(pkt.Origin, pkt.Lat, pkt.Lon, pkt.Mono)
		g.stats.RxPositions.Add(1)
	}
	if pkt.Kind == radio.PositionPacket {
		log.Debugf("Position from %s: (%.5f, %.5f)", pkt.Origin, pkt.Lat, pkt.Lon)
		return
	}

	log.Infof("Message from %s: %.50s", pkt.Origin, pkt.Text)
	cmd := command.Classify(pkt.Text)
	if cmd.Kind == command.None {
		return
	}
	g.stats.RxCommands.Add(1)

	lang := g.langFor(pkt.Origin)
	switch cmd.Kind {
	case command.Report:
		g.handleReport(pkt, cmd.Text, lang)
	case command.Help:
		g.reply(pkt.Origin, command.MsgHelp(lang), notify.SuffixAlways)
	case command.Status:
		g.reply(pkt.Origin, g.statusReply(pkt.Origin, lang), notify.SuffixNever)
	case command.Count:
		g.reply(pkt.Origin, g.countReply(pkt.Origin, lang), notify.SuffixNever)
	case command.List:
		g.reply(pkt.Origin, g.listReply(pkt.Origin, cmd.N, lang), notify.SuffixNever)
	case command.Queue:
		g.reply(pkt.Origin, g.queueReply(pkt.Origin, lang), notify.SuffixNever)
	case command.Nodes:
		g.reply(pkt.Origin, g.nodesReply(lang), notify.SuffixNever)
	case command.Lang:
		g.reply(pkt.Origin, g.langReply(pkt.Origin, cmd.Code, lang), notify.SuffixNever)
	}
}

// handleReport runs the acceptance pipeline and emits exactly one ack.
func (g *Gateway) handleReport(pkt radio.Packet, remaining, lang string) {
	decision := g.pol.Evaluate(pkt.Origin, remaining, pkt.ReceivedAt, pkt.Mono, lang)

	switch decision.Outcome {
	case policy.MissingText:
		g.rejectReport(pkt.Origin, command.MsgMissingText(lang))
	case policy.NoGPS:
		g.rejectReport(pkt.Origin, command.MsgRejectNoGPS(lang))
	case policy.StaleGPS:
		g.rejectReport(pkt.Origin, command.MsgRejectStaleGPS(lang, int(g.pol.PosMax().Seconds())))
	case policy.InvalidCoords:
		g.rejectReport(pkt.Origin, command.MsgRejectInvalidCoords(lang))
	case policy.TooLong:
		g.rejectReport(pkt.Origin, command.MsgRejectTooLong(lang, g.cfg.MaxMessageLength))
	case policy.RateLimited:
		g.rejectReport(pkt.Origin, command.MsgRejectRateLimited(lang))
	case policy.Duplicate:
		g.stats.Duplicates.Add(1)
		g.reply(pkt.Origin, command.MsgDuplicate(lang), notify.SuffixAlways)
	case policy.Accept:
		g.acceptReport(pkt, decision, remaining, lang)
	}
}

func (g *Gateway) rejectReport(origin, msg string) {
	g.stats.Rejected.Add(1)
	g.reply(origin, msg, notify.SuffixAlways)
}

// acceptReport persists the report, tries one immediate publish and
// acknowledges the outcome. The ack always goes out after the store
// write has committed.
func (g *Gateway) acceptReport(pkt radio.Packet, d policy.Decision, remaining, lang string) {
	queueID, err := g.st.Append(pkt.Origin, d.Lat, d.Lon, remaining, d.TextFinal, pkt.ReceivedAt)
	if err != nil {
		// database errors are fatal for this operation only
		log.Errorf("Persisting report from %s: %v", pkt.Origin, err)
		return
	}
	g.stats.Accepted.Add(1)

	// best-effort immediate send; a failure leaves the row for the worker
	ctx, cancel := context.WithTimeout(context.Background(), publisher.RequestTimeout+connectivityTimeout)
	defer cancel()
	res := g.pub.Publish(ctx, d.Lat, d.Lon, d.TextFinal, lang)
	if res.Status == publisher.Ok {
		if err := g.st.MarkSent(queueID, res.NoteID, res.URL, g.clk.NowUTC()); err != nil {
			log.Errorf("Marking %s sent: %v", queueID, err)
		}
		// the success ack replaces both the queued ack and any later
		// promotion announcement
		if err := g.st.MarkAnnounced(queueID); err != nil {
			log.Errorf("Marking %s announced: %v", queueID, err)
		}
		g.stats.Published.Add(1)
		location := g.geocoder.Reverse(ctx, d.Lat, d.Lon, lang)
		g.reply(pkt.Origin, command.MsgAckSuccess(lang, res.NoteID, res.URL, location), notify.SuffixEveryFifth)
		return
	}

	if res.Tag != "" {
		if err := g.st.RecordError(queueID, res.Tag); err != nil {
			log.Errorf("Recording error on %s: %v", queueID, err)
		}
	}
	g.reply(pkt.Origin, command.MsgAckQueued(lang, queueID), notify.SuffixAlways)
}

func (g *Gateway) reply(origin, msg string, mode notify.SuffixMode) {
	if g.notifier.Ack(origin, msg, mode) {
		g.stats.AcksSent.Add(1)
	}
}

// langFor resolves an origin's language, falling back to the gateway
// default.
func (g *Gateway) langFor(origin string) string {
	lang, err := g.st.UserLanguage(origin)
	if err != nil {
		log.Errorf("Reading language for %s: %v", origin, err)
	}
	if lang == "" {
		return g.cfg.Language
	}
	return lang
}
