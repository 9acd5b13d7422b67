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

package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	s := New()
	s.RxPackets.Add(3)
	s.Accepted.Add(2)
	s.Rejected.Add(1)

	out := s.toMap()
	require.Equal(t, int64(3), out["rx.packets"])
	require.Equal(t, int64(2), out["reports.accepted"])
	require.Equal(t, int64(1), out["reports.rejected"])
	require.Equal(t, int64(0), out["publish.ok"])
	require.Equal(t, int64(1), out["process.alive"])
}

func TestHandleRequest(t *testing.T) {
	s := New()
	s.Published.Add(7)

	rec := httptest.NewRecorder()
	s.handleRequest(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, int64(7), out["publish.ok"])
	require.Contains(t, out, "process.uptime")
	require.Contains(t, out, "runtime.goroutines")
}
