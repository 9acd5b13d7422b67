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

// Package poscache keeps the latest known GPS position per radio origin.
// Positions live only in memory: after a restart the gateway simply waits
// for the next position broadcast instead of trusting stale data.
package poscache

import (
	"sort"
	"sync"
	"time"
)

// Position is the latest fix we have for an origin. ReceivedAt is a
// monotonic offset (clock.Monotonic at the time of the update), so ages
// survive wall-clock steps.
type Position struct {
	Lat        float64
	Lon        float64
	ReceivedAt time.Duration
	SeenCount  uint
}

// Cache is safe for one writer (the radio reader) and many readers.
type Cache struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// New returns an empty position cache.
func New() *Cache {
	return &Cache{positions: make(map[string]Position)}
}

// Update replaces the whole record for origin and bumps its seen count.
func (c *Cache) Update(origin string, lat, lon float64, now time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.positions[origin]
	c.positions[origin] = Position{
		Lat:        lat,
		Lon:        lon,
		ReceivedAt: now,
		SeenCount:  p.SeenCount + 1,
	}
}

// Get returns the latest position for origin, if any.
func (c *Cache) Get(origin string) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[origin]
	return p, ok
}

// Age returns how old the cached position is relative to now.
func (c *Cache) Age(origin string, now time.Duration) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[origin]
	if !ok {
		return 0, false
	}
	age := now - p.ReceivedAt
	if age < 0 {
		// future-dated update, treat as fresh
		age = 0
	}
	return age, true
}

// Len returns the number of known origins.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.positions)
}

// Origins lists known origins, most recently heard first. Used by the
// #osmnodes command.
func (c *Cache) Origins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.positions))
	for origin := range c.positions {
		out = append(out, origin)
	}
	sort.Slice(out, func(i, j int) bool {
		return c.positions[out[i]].ReceivedAt > c.positions[out[j]].ReceivedAt
	})
	return out
}
