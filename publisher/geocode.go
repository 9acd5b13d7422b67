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

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Nominatim usage policy allows at most one request per second.
const (
	geocodeRateLimit = time.Second
	geocodeTimeout   = 5 * time.Second
)

// Geocoder resolves coordinates to a human-readable place name for
// success acknowledgements. Strictly best-effort: any failure yields an
// empty location and the ack goes out without it.
type Geocoder struct {
	apiURL  string
	client  *http.Client
	sleeper clockwork.Clock

	mu       sync.Mutex
	lastCall time.Time
}

// NewGeocoder builds a geocoder against the given Nominatim endpoint.
func NewGeocoder(apiURL string, sleeper clockwork.Clock) *Geocoder {
	return &Geocoder{
		apiURL:  apiURL,
		client:  &http.Client{Timeout: geocodeTimeout},
		sleeper: sleeper,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// Reverse returns the display name for the coordinates, or empty when
// geocoding is unavailable.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64, lang string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if wait := geocodeRateLimit - g.sleeper.Since(g.lastCall); wait > 0 && !g.lastCall.IsZero() {
		g.sleeper.Sleep(wait)
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("zoom", "17")
	q.Set("accept-language", lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "osmgw-gateway")

	resp, err := g.client.Do(req)
	g.lastCall = g.sleeper.Now()
	if err != nil {
		log.Debugf("Reverse geocoding failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debugf("Reverse geocoding status %d", resp.StatusCode)
		return ""
	}

	var rr reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rr); err != nil {
		return ""
	}
	return rr.DisplayName
}
