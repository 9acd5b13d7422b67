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

package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/osmmesh/osmgw/notify"
	"github.com/osmmesh/osmgw/publisher"
	"github.com/osmmesh/osmgw/stats"
	"github.com/osmmesh/osmgw/store"
)

type fakeClock struct {
	now     time.Time
	synced  bool
	sleeper *clockwork.FakeClock
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, sleeper: clockwork.NewFakeClock()}
}

func (f *fakeClock) NowUTC() time.Time        { return f.now.UTC() }
func (f *fakeClock) Synced() bool             { return f.synced }
func (f *fakeClock) Sleeper() clockwork.Clock { return f.sleeper }

type fakePublisher struct {
	mu      sync.Mutex
	results []publisher.Result
	calls   int
}

func (f *fakePublisher) Publish(_ context.Context, _, _ float64, _, _ string) publisher.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return publisher.Result{Status: publisher.Ok, NoteID: int64(f.calls), URL: publisher.NoteURL(int64(f.calls))}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

type fakeSender struct {
	mu        sync.Mutex
	direct    []string
	broadcast []string
}

func (f *fakeSender) SendDirect(origin, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct = append(f.direct, origin+"|"+text)
	return true
}

func (f *fakeSender) SendBroadcast(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, text)
	return true
}

func spanish(string) string { return "es" }

type fixture struct {
	st     *store.Store
	pub    *fakePublisher
	sender *fakeSender
	clk    *fakeClock
	w      *Worker
}

func newFixture(t *testing.T, broadcast bool) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	pub := &fakePublisher{}
	sender := &fakeSender{}
	notifier := notify.New(sender, st, spanish, clk.sleeper, false)
	w := New(st, pub, notifier, clk, stats.New(), spanish,
		30*time.Second, broadcast, "es", time.UTC)
	return &fixture{st: st, pub: pub, sender: sender, clk: clk, w: w}
}

func TestFlushPendingPromotes(t *testing.T) {
	f := newFixture(t, false)
	now := f.clk.NowUTC()

	id1, err := f.st.Append("node1", 4.6, -74.1, "a", "a", now)
	require.NoError(t, err)
	id2, err := f.st.Append("node1", 4.6, -74.1, "b", "b", now)
	require.NoError(t, err)

	sent := f.w.FlushPending(context.Background())
	require.Equal(t, 2, sent)
	require.Equal(t, 2, f.pub.calls)

	for _, id := range []string{id1, id2} {
		r, err := f.st.GetByQueueID(id)
		require.NoError(t, err)
		require.Equal(t, store.StatusSent, r.Status)
		require.NotZero(t, r.UpstreamID)
	}
	require.Equal(t, int64(2), f.w.stats.Published.Load())
}

func TestFlushPendingTransientStopsPage(t *testing.T) {
	f := newFixture(t, false)
	now := f.clk.NowUTC()

	id1, err := f.st.Append("node1", 4.6, -74.1, "a", "a", now)
	require.NoError(t, err)
	_, err = f.st.Append("node1", 4.6, -74.1, "b", "b", now.Add(time.Second))
	require.NoError(t, err)

	f.pub.results = []publisher.Result{{Status: publisher.TransientFailure, Tag: "network_error"}}

	sent := f.w.FlushPending(context.Background())
	require.Zero(t, sent)
	// the channel is down, the rest of the page was not attempted
	require.Equal(t, 1, f.pub.calls)

	r, err := f.st.GetByQueueID(id1)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, r.Status)
	require.Equal(t, "network_error", r.LastError)
}

func TestFlushPendingPermanentContinues(t *testing.T) {
	f := newFixture(t, false)
	now := f.clk.NowUTC()

	id1, err := f.st.Append("node1", 4.6, -74.1, "a", "a", now)
	require.NoError(t, err)
	id2, err := f.st.Append("node1", 4.6, -74.1, "b", "b", now.Add(time.Second))
	require.NoError(t, err)

	f.pub.results = []publisher.Result{{Status: publisher.PermanentFailure, Tag: "http_400"}}

	sent := f.w.FlushPending(context.Background())
	require.Equal(t, 1, sent)
	require.Equal(t, 2, f.pub.calls)

	// the rejected report stays pending for the operator
	r, err := f.st.GetByQueueID(id1)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, r.Status)
	require.Equal(t, "http_400", r.LastError)

	r, err = f.st.GetByQueueID(id2)
	require.NoError(t, err)
	require.Equal(t, store.StatusSent, r.Status)
}

func TestSkewCorrectionShiftsPending(t *testing.T) {
	f := newFixture(t, false)
	boot := f.clk.NowUTC()
	require.NoError(t, f.st.RecordBoot(boot))

	// reports stamped with the bogus pre-sync clock
	id, err := f.st.Append("node1", 4.6, -74.1, "a", "a", boot.Add(10*time.Second))
	require.NoError(t, err)

	// NTP steps the clock forward two hours
	f.clk.now = boot.Add(2 * time.Hour)
	f.clk.synced = true
	f.w.maybeCorrectClock()

	r, err := f.st.GetByQueueID(id)
	require.NoError(t, err)
	require.Equal(t, boot.Add(10*time.Second).Add(2*time.Hour).Unix(), r.CreatedAt.Unix())

	// one-shot: a second pass with an even later clock changes nothing
	f.clk.now = boot.Add(6 * time.Hour)
	f.w.maybeCorrectClock()
	r, err = f.st.GetByQueueID(id)
	require.NoError(t, err)
	require.Equal(t, boot.Add(10*time.Second).Add(2*time.Hour).Unix(), r.CreatedAt.Unix())
}

func TestSkewCorrectionWaitsForSync(t *testing.T) {
	f := newFixture(t, false)
	boot := f.clk.NowUTC()
	require.NoError(t, f.st.RecordBoot(boot))

	id, err := f.st.Append("node1", 4.6, -74.1, "a", "a", boot)
	require.NoError(t, err)

	f.clk.now = boot.Add(2 * time.Hour)
	f.clk.synced = false
	f.w.maybeCorrectClock()

	r, err := f.st.GetByQueueID(id)
	require.NoError(t, err)
	require.Equal(t, boot.Unix(), r.CreatedAt.Unix())
	_, applied, err := f.st.BootState()
	require.NoError(t, err)
	require.False(t, applied)
}

func TestSkewCorrectionSmallDeltaLatchesOnly(t *testing.T) {
	f := newFixture(t, false)
	boot := f.clk.NowUTC()
	require.NoError(t, f.st.RecordBoot(boot))

	id, err := f.st.Append("node1", 4.6, -74.1, "a", "a", boot)
	require.NoError(t, err)

	f.clk.now = boot.Add(30 * time.Second)
	f.clk.synced = true
	f.w.maybeCorrectClock()

	r, err := f.st.GetByQueueID(id)
	require.NoError(t, err)
	require.Equal(t, boot.Unix(), r.CreatedAt.Unix())
	_, applied, err := f.st.BootState()
	require.NoError(t, err)
	require.True(t, applied)
}

func TestTickAnnouncesPromotions(t *testing.T) {
	f := newFixture(t, false)
	f.clk.synced = true
	require.NoError(t, f.st.RecordBoot(f.clk.NowUTC()))

	_, err := f.st.Append("node1", 4.6, -74.1, "a", "a", f.clk.NowUTC())
	require.NoError(t, err)

	f.w.tick(context.Background())

	// the queued report was flushed and its origin told exactly once
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.direct, 1)
	require.Contains(t, f.sender.direct[0], "Q-0001")
}

func TestDailyBroadcastSkipsFirstCycle(t *testing.T) {
	f := newFixture(t, true)
	f.clk.synced = true
	require.NoError(t, f.st.RecordBoot(f.clk.NowUTC()))

	ctx := context.Background()
	f.w.tick(ctx)
	require.Empty(t, f.sender.broadcast)

	f.w.tick(ctx)
	require.Len(t, f.sender.broadcast, 1)

	// latched for the calendar day
	f.w.tick(ctx)
	require.Len(t, f.sender.broadcast, 1)

	// the next day broadcasts again
	f.clk.now = f.clk.now.Add(24 * time.Hour)
	f.w.tick(ctx)
	require.Len(t, f.sender.broadcast, 2)
}
