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

package policy

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Per-origin inbound report budget: a flooding node gets its reports
// rejected before they reach the store.
const (
	RateLimitWindow = 60 * time.Second
	RateLimitMax    = 5
)

// RateLimiter is a sliding-window counter per origin. State is in-memory
// only; a restart simply forgives past traffic.
type RateLimiter struct {
	mu      sync.Mutex
	clk     clockwork.Clock
	history map[string][]time.Time
}

// NewRateLimiter builds a limiter on the given clock.
func NewRateLimiter(clk clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clk:     clk,
		history: make(map[string][]time.Time),
	}
}

// Allow records one report attempt from origin and reports whether it is
// within budget.
func (r *RateLimiter) Allow(origin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	cutoff := now.Add(-RateLimitWindow)
	kept := r.history[origin][:0]
	for _, t := range r.history[origin] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= RateLimitMax {
		r.history[origin] = kept
		return false
	}
	r.history[origin] = append(kept, now)
	return true
}
