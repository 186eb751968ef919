package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("service unavailable")

// fakeRemote records delivered record ids in order and fails while fail returns true.
type fakeRemote struct {
	mu        sync.Mutex
	delivered []string
	attempts  map[string]int
	fail      func(id string) bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{attempts: make(map[string]int)}
}

func (f *fakeRemote) upsert(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	if f.fail != nil && f.fail(id) {
		return errUnavailable
	}
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeRemote) UpsertSet(_ context.Context, s models.WorkSet) error {
	return f.upsert(s.ID.String())
}

func (f *fakeRemote) UpsertSession(_ context.Context, s models.SessionSummary) error {
	return f.upsert(s.ID.String())
}

func (f *fakeRemote) UpsertMetrics(_ context.Context, m models.MetricsRecord) error {
	return f.upsert(m.SessionID.String())
}

func (f *fakeRemote) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setPayload() SetPayload {
	return SetPayload{Set: models.WorkSet{ID: uuid.New(), ExerciseID: "squat", SetNumber: 1, WeightKg: 50, Reps: 10}}
}

// TestEnqueueOfflineKeepsItems verifies enqueue is local and nothing is
// attempted while offline.
func TestEnqueueOfflineKeepsItems(t *testing.T) {
	remote := newFakeRemote()
	q := New(remote, discardLogger())

	q.Enqueue(setPayload())
	q.Enqueue(setPayload())
	st := q.Flush(context.Background())

	assert.Equal(t, 2, st.Pending)
	assert.Nil(t, st.LastSyncAt)
	assert.Empty(t, remote.order())
}

// TestItemDroppedAfterThreeFailures verifies an item that fails three
// consecutive deliveries is gone by the fourth drain attempt.
func TestItemDroppedAfterThreeFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.fail = func(string) bool { return true }
	q := New(remote, discardLogger())
	q.SetOnline(true)

	p := setPayload()
	q.Enqueue(p)

	for i := 1; i <= 2; i++ {
		q.Flush(context.Background())
		items := q.Items()
		require.Len(t, items, 1, "after failure %d", i)
		assert.Equal(t, i, items[0].Retries)
	}

	st := q.Flush(context.Background())
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Dropped)

	remote.fail = nil
	q.Flush(context.Background())
	assert.Equal(t, 3, remote.attempts[p.RecordID()])
	assert.Empty(t, remote.order())
}

// TestFailedHeadBlocksLaterItems verifies a failing item stays at the head and
// later items are not attempted in that pass.
func TestFailedHeadBlocksLaterItems(t *testing.T) {
	remote := newFakeRemote()
	first, second := setPayload(), setPayload()
	remote.fail = func(id string) bool { return id == first.RecordID() }
	q := New(remote, discardLogger())
	q.SetOnline(true)
	q.Enqueue(first)
	q.Enqueue(second)

	q.Flush(context.Background())

	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, first.RecordID(), items[0].Payload.RecordID())
	assert.Equal(t, 0, remote.attempts[second.RecordID()])

	remote.fail = nil
	st := q.Flush(context.Background())
	assert.Equal(t, 0, st.Pending)
	assert.NotNil(t, st.LastSyncAt)
	assert.Equal(t, []string{first.RecordID(), second.RecordID()}, remote.order())
}

// TestReconnectDrainsInEnqueueOrder verifies pending items are delivered in
// their original order before anything enqueued after reconnecting.
func TestReconnectDrainsInEnqueueOrder(t *testing.T) {
	remote := newFakeRemote()
	q := New(remote, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()

	a, b, c := setPayload(), SessionPayload{Session: models.SessionSummary{ID: uuid.New()}}, setPayload()
	q.Enqueue(a)
	q.Enqueue(b)

	q.SetOnline(true)
	q.Enqueue(c)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{a.RecordID(), b.RecordID(), c.RecordID()}, remote.order())

	cancel()
	<-done
}

// TestObserverSeesPassResult verifies the observer is told about pending count
// and last sync time after a pass.
func TestObserverSeesPassResult(t *testing.T) {
	remote := newFakeRemote()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var seen []Status
	q := New(remote, discardLogger(),
		WithClock(func() time.Time { return at }),
		WithObserver(func(s Status) { seen = append(seen, s) }),
	)
	q.SetOnline(true)
	q.Enqueue(MetricsPayload{Metrics: models.MetricsRecord{SessionID: uuid.New()}})

	q.Flush(context.Background())

	require.Len(t, seen, 1)
	assert.Equal(t, 0, seen[0].Pending)
	require.NotNil(t, seen[0].LastSyncAt)
	assert.Equal(t, at, *seen[0].LastSyncAt)
}

// TestRemovedOnlyOnSuccessOrCap verifies the removal rule over a mixed sequence
// of outcomes.
func TestRemovedOnlyOnSuccessOrCap(t *testing.T) {
	remote := newFakeRemote()
	q := New(remote, discardLogger())
	q.SetOnline(true)
	p := setPayload()
	q.Enqueue(p)

	outcomes := []bool{false, false, true}
	for i, ok := range outcomes {
		remote.fail = func(string) bool { return !ok }
		q.Flush(context.Background())
		if ok {
			assert.Equal(t, 0, q.Len(), "step %d", i)
		} else {
			assert.Equal(t, 1, q.Len(), "step %d", i)
		}
	}
	assert.Equal(t, 0, q.Status().Dropped)
}

// TestCancelledDeliveryDoesNotCount verifies a pass interrupted by cancellation
// leaves the retry counter alone.
func TestCancelledDeliveryDoesNotCount(t *testing.T) {
	remote := newFakeRemote()
	remote.fail = func(string) bool { return true }
	q := New(remote, discardLogger())
	q.SetOnline(true)
	q.Enqueue(setPayload())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Flush(ctx)

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Retries)
}

// TestItemJSONRoundTripKeepsVariant verifies queue items survive a snapshot
// with their payload kind intact.
func TestItemJSONRoundTripKeepsVariant(t *testing.T) {
	q := New(newFakeRemote(), discardLogger())
	q.Enqueue(setPayload())
	q.Enqueue(SessionPayload{Session: models.SessionSummary{ID: uuid.New(), State: models.StateWorking}})
	q.Enqueue(MetricsPayload{Metrics: models.MetricsRecord{SessionID: uuid.New(), Metrics: models.Metrics{TotalSets: 2}}})

	data, err := json.Marshal(q.Items())
	require.NoError(t, err)

	var got []Item
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 3)
	assert.IsType(t, SetPayload{}, got[0].Payload)
	assert.IsType(t, SessionPayload{}, got[1].Payload)
	assert.IsType(t, MetricsPayload{}, got[2].Payload)
	assert.Equal(t, 2, got[2].Payload.(MetricsPayload).Metrics.Metrics.TotalSets)

	_, err = UnmarshalPayload([]byte(`{"kind":"workout","body":{}}`))
	assert.Error(t, err)
}
