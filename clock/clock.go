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

// Package clock is the only place in the gateway that talks to the OS
// about time. It provides UTC wall time, a monotonic age reference and a
// predicate telling whether the system clock is NTP-synchronized, which
// the flush worker uses to decide when queued timestamps can be trusted.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock provides wall and monotonic time plus the kernel sync predicate.
type Clock struct {
	clk    clockwork.Clock
	anchor time.Time

	// set once the first upstream HTTPS round-trip succeeds; used as the
	// sync signal on platforms without adjtimex
	upstreamOK atomic.Bool
}

// New returns a Clock backed by the real system time.
func New() *Clock {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock allows tests to inject a fake clockwork clock.
func NewWithClock(clk clockwork.Clock) *Clock {
	return &Clock{
		clk:    clk,
		anchor: clk.Now(),
	}
}

// NowUTC returns the current wall-clock time in UTC.
func (c *Clock) NowUTC() time.Time {
	return c.clk.Now().UTC()
}

// Monotonic returns the time elapsed since the Clock was created. It is
// immune to wall-clock steps and is what position ages are measured with.
func (c *Clock) Monotonic() time.Duration {
	return c.clk.Since(c.anchor)
}

// Sleeper exposes the underlying clockwork clock so rate limiters and
// tickers share the same (possibly fake) time source.
func (c *Clock) Sleeper() clockwork.Clock {
	return c.clk
}

// MarkUpstreamReachable records that an HTTPS round-trip to the upstream
// API completed. On platforms without a kernel sync status this is the
// signal Synced relies on.
func (c *Clock) MarkUpstreamReachable() {
	c.upstreamOK.Store(true)
}

// Synced reports whether the wall clock can be trusted. On Linux it asks
// the kernel via adjtimex(2); elsewhere it reports true after the first
// successful upstream round-trip.
func (c *Clock) Synced() bool {
	return c.synced()
}
