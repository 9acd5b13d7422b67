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

// Package publisher is the rate-limited HTTPS client towards the OSM
// notes API. It classifies failures into transient (retry later) and
// permanent (operator attention) and supports a dry-run mode that mints
// deterministic synthetic note identifiers.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/osmmesh/osmgw/clock"
	"github.com/osmmesh/osmgw/command"
)

// RequestTimeout bounds one note-creation round-trip.
const RequestTimeout = 10 * time.Second

// Status classifies the outcome of a publish attempt.
type Status int

const (
	// Ok: the note was created upstream.
	Ok Status = iota
	// TransientFailure: worth retrying on the next flush tick.
	TransientFailure
	// PermanentFailure: retrying will not help; left for the operator.
	PermanentFailure
)

// Result of one publish attempt. Tag is a short machine-readable error
// label recorded on the report row.
type Result struct {
	Status Status
	NoteID int64
	URL    string
	Tag    string
}

// Publisher posts notes to the upstream API with a global minimum
// spacing between requests.
type Publisher struct {
	apiURL    string
	client    *http.Client
	rateLimit time.Duration
	dryRun    bool
	clk       *clock.Clock
	sleeper   clockwork.Clock

	// lastSend is only touched under mu; the rate limit is enforced here
	// so callers never need to cooperate
	mu       sync.Mutex
	lastSend time.Time
}

// New builds a publisher against apiURL.
func New(apiURL string, rateLimit time.Duration, dryRun bool, clk *clock.Clock) *Publisher {
	return &Publisher{
		apiURL:    apiURL,
		client:    &http.Client{Timeout: RequestTimeout},
		rateLimit: rateLimit,
		dryRun:    dryRun,
		clk:       clk,
		sleeper:   clk.Sleeper(),
	}
}

type noteRequest struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Text string  `json:"text"`
}

type noteResponse struct {
	Properties struct {
		ID int64 `json:"id"`
	} `json:"properties"`
}

// Publish creates one note upstream. The attribution line for the given
// locale is appended to text. Blocks as needed to honor the global rate
// limit.
func (p *Publisher) Publish(ctx context.Context, lat, lon float64, text, locale string) Result {
	body := text + command.AttributionLine(locale)

	if p.dryRun {
		id := syntheticID(body)
		log.Infof("[DRY_RUN] Would create note at (%.5f, %.5f): %.50s", lat, lon, text)
		return Result{Status: Ok, NoteID: id, URL: NoteURL(id)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if wait := p.rateLimit - p.sleeper.Since(p.lastSend); wait > 0 && !p.lastSend.IsZero() {
		log.Debugf("Rate limiting: sleeping %s", wait)
		p.sleeper.Sleep(wait)
	}

	payload, err := json.Marshal(noteRequest{Lat: lat, Lon: lon, Text: body})
	if err != nil {
		return Result{Status: PermanentFailure, Tag: "encode_error"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return Result{Status: PermanentFailure, Tag: "request_error"}
	}
	req.Header.Set("Content-Type", "application/json")

	log.Infof("Creating note at (%.5f, %.5f): %.50s", lat, lon, text)
	resp, err := p.client.Do(req)
	p.lastSend = p.sleeper.Now()
	if err != nil {
		// timeouts, refused connections, DNS failures all land here
		log.Errorf("Note creation failed: %v", err)
		return Result{Status: TransientFailure, Tag: "network_error"}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var nr noteResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&nr); err != nil || nr.Properties.ID == 0 {
			log.Errorf("Unparsable note response: %v", err)
			return Result{Status: TransientFailure, Tag: "bad_response"}
		}
		p.clk.MarkUpstreamReachable()
		log.Infof("Note created: #%d", nr.Properties.ID)
		return Result{Status: Ok, NoteID: nr.Properties.ID, URL: NoteURL(nr.Properties.ID)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		log.Errorf("Upstream error %d", resp.StatusCode)
		return Result{Status: TransientFailure, Tag: fmt.Sprintf("http_%d", resp.StatusCode)}
	default:
		log.Errorf("Upstream rejected note: %d", resp.StatusCode)
		return Result{Status: PermanentFailure, Tag: fmt.Sprintf("http_%d", resp.StatusCode)}
	}
}

// NoteURL is the canonical public URL of a note.
func NoteURL(id int64) string {
	return fmt.Sprintf("https://www.openstreetmap.org/note/%d", id)
}

// syntheticID derives the dry-run note id from the note text, so reruns
// of the same report produce the same id.
func syntheticID(text string) int64 {
	h := fnv.New32a()
	h.Write([]byte(text))
	return int64(h.Sum32())
}
