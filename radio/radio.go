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

// Package radio is the bidirectional packet boundary to the mesh modem.
// A supervisor goroutine keeps the serial endpoint open, reconnecting
// with bounded exponential backoff; transmits while disconnected fail
// fast and are dropped by the caller (acks are never retried).
package radio

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/clock"
)

const (
	// MTU is the largest payload sent in a single frame. Longer direct
	// messages are split with InterFrameDelay spacing to reduce mesh
	// collision loss.
	MTU = 200
	// InterFrameDelay spaces the frames of a split message.
	InterFrameDelay = 2 * time.Second
	// maxReconnectInterval caps the supervisor backoff.
	maxReconnectInterval = 30 * time.Second
)

// Handler receives every decoded inbound packet.
type Handler func(Packet)

// Adapter owns the modem connection lifecycle and the outbound framing
// discipline.
type Adapter struct {
	modem     Modem
	clk       *clock.Clock
	sleeper   clockwork.Clock
	handler   Handler
	onRetry   func()
	connected atomic.Bool

	// serializes outbound frames so split messages interleave sanely
	sendMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an adapter over the given modem.
func New(modem Modem, clk *clock.Clock) *Adapter {
	return &Adapter{
		modem:   modem,
		clk:     clk,
		sleeper: clk.Sleeper(),
		done:    make(chan struct{}),
	}
}

// OnPacket registers the inbound packet handler. Must be called before
// Start.
func (a *Adapter) OnPacket(h Handler) {
	a.handler = h
}

// OnReconnect registers a hook fired on every connect after the first,
// used for the reconnect counter. Must be called before Start.
func (a *Adapter) OnReconnect(h func()) {
	a.onRetry = h
}

// Start spawns the supervisor which opens the modem, runs the read loop
// and re-opens on disconnect until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.supervise(ctx)
}

// Stop tears the adapter down and waits for the supervisor to exit.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.modem.Close()
	<-a.done
}

// Connected reports whether the modem link is currently up.
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// SendDirect transmits a direct message to origin, splitting payloads
// larger than the modem MTU. Returns false when disconnected or when any
// frame fails; the message is not retried.
func (a *Adapter) SendDirect(origin, text string) bool {
	return a.send("SEND "+origin+" ", text)
}

// SendBroadcast transmits a broadcast message.
func (a *Adapter) SendBroadcast(text string) bool {
	return a.send("BCAST ", text)
}

func (a *Adapter) send(prefix, text string) bool {
	if !a.connected.Load() {
		log.Debugf("Dropping transmit while disconnected: %.40s", text)
		return false
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	chunks := splitMessage(text, MTU)
	for i, chunk := range chunks {
		if i > 0 {
			a.sleeper.Sleep(InterFrameDelay)
		}
		if err := a.modem.WriteFrame(prefix + chunk); err != nil {
			log.Errorf("Transmit failed: %v", err)
			a.connected.Store(false)
			return false
		}
	}
	return true
}

func (a *Adapter) supervise(ctx context.Context) {
	defer close(a.done)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectInterval
	bo.MaxElapsedTime = 0 // retry forever

	first := true
	for ctx.Err() == nil {
		if err := a.modem.Open(); err != nil {
			wait := bo.NextBackOff()
			log.Errorf("Modem open failed: %v, retrying in %s", err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		log.Info("Modem connected")
		a.connected.Store(true)
		bo.Reset()
		if !first && a.onRetry != nil {
			a.onRetry()
		}
		first = false

		err := a.readLoop(ctx)
		a.connected.Store(false)
		a.modem.Close()
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		log.Warningf("Modem read loop ended: %v, reconnecting in %s", err, wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// readLoop pulls frames until the first I/O error, which triggers the
// supervisor's reconnect path.
func (a *Adapter) readLoop(ctx context.Context) error {
	for {
		line, err := a.modem.ReadFrame()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if line == "" {
			continue
		}
		pkt, ok := parseFrame(line)
		if !ok {
			log.Debugf("Ignoring modem line: %.60s", line)
			continue
		}
		pkt.ReceivedAt = a.clk.NowUTC()
		pkt.Mono = a.clk.Monotonic()
		if a.handler != nil {
			a.handler(pkt)
		}
	}
}

// splitMessage cuts text into MTU-sized chunks, preferring word breaks.
func splitMessage(text string, mtu int) []string {
	if len(text) <= mtu {
		return []string{text}
	}
	var chunks []string
	for len(text) > mtu {
		cut := mtu
		if idx := strings.LastIndex(text[:mtu], " "); idx > mtu/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
