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

// Package policy decides the fate of an incoming report: reject it with a
// user-correctable reason, fold it into an earlier duplicate, or accept
// it with the position snapshot that will be persisted.
package policy

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/command"
	"github.com/osmmesh/osmgw/poscache"
	"github.com/osmmesh/osmgw/store"
)

// Outcome enumerates the possible decisions for a report.
type Outcome int

const (
	// Accept means the report passed every check and must be persisted.
	Accept Outcome = iota
	// MissingText: nothing left after stripping the hashtag.
	MissingText
	// NoGPS: no cached position for the origin.
	NoGPS
	// StaleGPS: cached position older than POS_MAX.
	StaleGPS
	// InvalidCoords: cached position is (0,0) or out of range.
	InvalidCoords
	// TooLong: report text exceeds the radio-safe length.
	TooLong
	// RateLimited: the origin exceeded its report budget.
	RateLimited
	// Duplicate: an equivalent report exists in the same dedup bucket.
	Duplicate
)

// Decision carries the outcome plus, for Accept, the position snapshot
// and the final text (normalized, possibly tagged as approximate).
type Decision struct {
	Outcome     Outcome
	Lat         float64
	Lon         float64
	Approximate bool
	TextFinal   string
}

// DedupStore is the slice of the store the policy engine needs.
type DedupStore interface {
	CheckDuplicate(origin, textNormalized string, latRounded, lonRounded float64, bucket int64) (bool, error)
}

// Engine evaluates reports against freshness, dedup and budget rules.
type Engine struct {
	cache     *poscache.Cache
	store     DedupStore
	limiter   *RateLimiter
	posGood   time.Duration
	posMax    time.Duration
	maxLength int
}

// New builds a policy engine with the given freshness thresholds.
func New(cache *poscache.Cache, st DedupStore, limiter *RateLimiter, posGood, posMax time.Duration, maxLength int) *Engine {
	return &Engine{
		cache:     cache,
		store:     st,
		limiter:   limiter,
		posGood:   posGood,
		posMax:    posMax,
		maxLength: maxLength,
	}
}

// PosMax exposes the staleness threshold so rejection messages can quote it.
func (e *Engine) PosMax() time.Duration {
	return e.posMax
}

// Evaluate runs the acceptance pipeline for one report. now is the UTC
// wall time of the packet, mono the monotonic reading used for position
// ages, lang the origin's language (the approximate marker is part of the
// persisted text, so it is fixed at acceptance time).
func (e *Engine) Evaluate(origin, remaining string, now time.Time, mono time.Duration, lang string) Decision {
	if len(remaining) > e.maxLength {
		return Decision{Outcome: TooLong}
	}

	normalized := command.Normalize(remaining)
	if normalized == "" {
		return Decision{Outcome: MissingText}
	}

	if !e.limiter.Allow(origin) {
		log.Warningf("Report from %s rejected: rate limit exceeded", origin)
		return Decision{Outcome: RateLimited}
	}

	p, ok := e.cache.Get(origin)
	if !ok {
		return Decision{Outcome: NoGPS}
	}

	if !validCoords(p.Lat, p.Lon) {
		return Decision{Outcome: InvalidCoords}
	}

	age := mono - p.ReceivedAt
	if age < 0 {
		age = 0
	}
	if age > e.posMax {
		return Decision{Outcome: StaleGPS}
	}

	approximate := age > e.posGood
	textFinal := normalized
	if approximate {
		textFinal = command.ApproximateTag(lang) + normalized
	}

	bucket := now.Unix() / store.DedupBucketSeconds
	dup, err := e.store.CheckDuplicate(origin, textFinal, Round4(p.Lat), Round4(p.Lon), bucket)
	if err != nil {
		// A failed dedup lookup must not drop the report; log and accept.
		log.Errorf("Dedup check failed for %s: %v", origin, err)
	}
	if dup {
		return Decision{Outcome: Duplicate}
	}

	return Decision{
		Outcome:     Accept,
		Lat:         p.Lat,
		Lon:         p.Lon,
		Approximate: approximate,
		TextFinal:   textFinal,
	}
}

// Round4 rounds half away from zero to 4 decimal digits (~11 m), the
// precision of the dedup key.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func validCoords(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		// (0,0) is the classic cold-GPS default
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
