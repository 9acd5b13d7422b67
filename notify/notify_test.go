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

package notify

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/osmmesh/osmgw/command"
	"github.com/osmmesh/osmgw/store"
)

type fakeSender struct {
	direct    []string
	broadcast []string
	down      bool
}

func (f *fakeSender) SendDirect(origin, text string) bool {
	if f.down {
		return false
	}
	f.direct = append(f.direct, origin+"|"+text)
	return true
}

func (f *fakeSender) SendBroadcast(text string) bool {
	if f.down {
		return false
	}
	f.broadcast = append(f.broadcast, text)
	return true
}

type fakeStore struct {
	unannounced []store.Report
	announced   []string
	sentCount   int
}

func (f *fakeStore) UnannouncedSent() ([]store.Report, error) { return f.unannounced, nil }
func (f *fakeStore) MarkAnnounced(queueID string) error {
	f.announced = append(f.announced, queueID)
	return nil
}
func (f *fakeStore) SentCount(string) (int, error) { return f.sentCount, nil }

func spanish(string) string { return "es" }

func testNotifier(st *fakeStore) (*Notifier, *fakeSender, *clockwork.FakeClock) {
	sender := &fakeSender{}
	fake := clockwork.NewFakeClock()
	return New(sender, st, spanish, fake, false), sender, fake
}

func TestAckSuffixModes(t *testing.T) {
	n, sender, _ := testNotifier(&fakeStore{sentCount: 3})

	require.True(t, n.Ack("node1", "body", SuffixAlways))
	require.Contains(t, sender.direct[0], command.PrivacySuffix("es"))

	// 3 sent reports: not a multiple boundary hit, no suffix
	require.True(t, n.Ack("node1", "body", SuffixEveryFifth))
	require.NotContains(t, sender.direct[1], command.PrivacySuffix("es"))

	require.True(t, n.Ack("node1", "body", SuffixNever))
	require.NotContains(t, sender.direct[2], command.PrivacySuffix("es"))
}

func TestAckEveryFifthBoundary(t *testing.T) {
	st := &fakeStore{sentCount: 5}
	n, sender, _ := testNotifier(st)

	require.True(t, n.Ack("node1", "body", SuffixEveryFifth))
	require.Contains(t, sender.direct[0], command.PrivacySuffix("es"))

	st.sentCount = 0 // no sent reports yet: no suffix
	require.True(t, n.Ack("node1", "body", SuffixEveryFifth))
	require.NotContains(t, sender.direct[1], command.PrivacySuffix("es"))
}

func TestAckBudget(t *testing.T) {
	n, sender, fake := testNotifier(&fakeStore{})

	for i := 0; i < BudgetMax; i++ {
		require.True(t, n.Ack("node1", "body", SuffixNever), "ack %d", i)
	}
	// over budget: suppressed, nothing transmitted
	require.False(t, n.Ack("node1", "body", SuffixNever))
	require.Len(t, sender.direct, BudgetMax)

	// other origins have their own budget
	require.True(t, n.Ack("node2", "body", SuffixNever))

	// the window slides
	fake.Advance(BudgetWindow + time.Second)
	require.True(t, n.Ack("node1", "body", SuffixNever))
}

func TestAnnounceSent(t *testing.T) {
	st := &fakeStore{unannounced: []store.Report{
		{QueueID: "Q-0001", Origin: "node1", UpstreamID: 11, UpstreamURL: "https://www.openstreetmap.org/note/11"},
		{QueueID: "Q-0002", Origin: "node2", UpstreamID: 22},
	}}
	n, sender, _ := testNotifier(st)

	n.AnnounceSent()

	require.Len(t, sender.direct, 2)
	require.Contains(t, sender.direct[0], "Q-0001")
	require.Contains(t, sender.direct[0], "#11")
	require.Contains(t, sender.direct[1], "Q-0002")
	// URL is derived from the upstream id when the row lacks one
	require.Contains(t, sender.direct[1], "https://www.openstreetmap.org/note/22")
	require.Equal(t, []string{"Q-0001", "Q-0002"}, st.announced)
}

func TestAnnounceSentCollapsesOverBudget(t *testing.T) {
	var reports []store.Report
	for i := 1; i <= 5; i++ {
		reports = append(reports, store.Report{
			QueueID: store.FormatQueueID(int64(i)), Origin: "node1", UpstreamID: int64(i),
		})
	}
	st := &fakeStore{unannounced: reports}
	n, sender, _ := testNotifier(st)

	n.AnnounceSent()

	// 3 individual announcements plus one collapsed summary for the rest
	require.Len(t, sender.direct, BudgetMax+1)
	require.Contains(t, sender.direct[BudgetMax], command.MsgFlushSummary("es", 2))
	// every report was latched regardless
	require.Len(t, st.announced, 5)
}

func TestAnnounceSentRadioDownStillLatches(t *testing.T) {
	st := &fakeStore{unannounced: []store.Report{
		{QueueID: "Q-0001", Origin: "node1", UpstreamID: 1},
	}}
	sender := &fakeSender{down: true}
	n := New(sender, st, spanish, clockwork.NewFakeClock(), false)

	n.AnnounceSent()

	// transmit failed but the announcement is latched: no storm later
	require.Equal(t, []string{"Q-0001"}, st.announced)
	st.unannounced = nil
	sender.down = false
	n.AnnounceSent()
	require.Empty(t, sender.direct)
}

func TestAnnounceSummaryOncePerWindow(t *testing.T) {
	var reports []store.Report
	for i := 1; i <= 4; i++ {
		reports = append(reports, store.Report{
			QueueID: store.FormatQueueID(int64(i)), Origin: "node1", UpstreamID: int64(i),
		})
	}
	st := &fakeStore{unannounced: reports}
	n, sender, _ := testNotifier(st)

	n.AnnounceSent()
	require.Len(t, sender.direct, BudgetMax+1)

	// a second flush inside the window produces no second summary
	st.unannounced = []store.Report{{QueueID: "Q-0009", Origin: "node1", UpstreamID: 9}}
	n.AnnounceSent()
	require.Len(t, sender.direct, BudgetMax+1)
}

func TestBroadcast(t *testing.T) {
	n, sender, _ := testNotifier(&fakeStore{})
	require.True(t, n.Broadcast("hello mesh"))
	require.Equal(t, []string{"hello mesh"}, sender.broadcast)
}

func TestDryRunNeverTransmits(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, &fakeStore{}, spanish, clockwork.NewFakeClock(), true)

	require.True(t, n.Ack("node1", "body", SuffixAlways))
	require.True(t, n.Broadcast("hello"))
	require.Empty(t, sender.direct)
	require.Empty(t, sender.broadcast)
}
