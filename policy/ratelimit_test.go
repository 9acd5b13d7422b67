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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBudget(t *testing.T) {
	fake := clockwork.NewFakeClock()
	r := NewRateLimiter(fake)

	for i := 0; i < RateLimitMax; i++ {
		require.True(t, r.Allow("node1"), "attempt %d", i)
	}
	require.False(t, r.Allow("node1"))
	require.True(t, r.Allow("node2"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	fake := clockwork.NewFakeClock()
	r := NewRateLimiter(fake)

	for i := 0; i < RateLimitMax; i++ {
		require.True(t, r.Allow("node1"))
	}
	require.False(t, r.Allow("node1"))

	// just inside the window: still blocked
	fake.Advance(RateLimitWindow - time.Second)
	require.False(t, r.Allow("node1"))

	// the first entries age out one second later
	fake.Advance(2 * time.Second)
	require.True(t, r.Allow("node1"))
}
