// Package outbox implements the change queue: an ordered, at-least-once
// delivery queue of records bound for the remote data service.
//
// Enqueue is local and never blocks on the network. A single drainer delivers
// items strictly in enqueue order; a failed item stays at the head and the pass
// stops there. After MaxRetries failures an item is dropped. Drops are logged
// and counted but not otherwise surfaced.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/telemetry"
	"github.com/google/uuid"
)

// MaxRetries is the number of failed deliveries after which an item is dropped.
const MaxRetries = 3

// Remote is the remote data service. All operations are idempotent upserts keyed
// by record id.
type Remote interface {
	UpsertSet(ctx context.Context, set models.WorkSet) error
	UpsertSession(ctx context.Context, session models.SessionSummary) error
	UpsertMetrics(ctx context.Context, rec models.MetricsRecord) error
}

// Status is the queue state reported to observers after every drain pass.
type Status struct {
	Pending    int
	LastSyncAt *time.Time
	// Dropped is the number of items dropped since the queue was created.
	Dropped int
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithObserver registers a callback invoked after every drain pass. It runs on
// the draining goroutine and must not block.
func WithObserver(fn func(Status)) Option {
	return func(q *Queue) { q.observer = fn }
}

// WithRetryInterval makes the worker retry a failed pass after d while online.
// Zero disables it; the queue then only drains on its triggers.
func WithRetryInterval(d time.Duration) Option {
	return func(q *Queue) { q.retryInterval = d }
}

// Queue is the change queue. Create with New; start the background drainer
// with Run.
type Queue struct {
	remote        Remote
	log           *slog.Logger
	now           func() time.Time
	observer      func(Status)
	retryInterval time.Duration

	mu       sync.Mutex // guards items, online, lastSync, dropped
	items    []Item
	online   bool
	lastSync *time.Time
	dropped  int

	drainMu sync.Mutex // held for the whole of a drain pass
	kick    chan struct{}
}

// New creates an empty, offline queue.
func New(remote Remote, log *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		remote: remote,
		log:    log,
		now:    time.Now,
		kick:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Restore replaces the queue contents with items recovered from a snapshot.
func (q *Queue) Restore(items []Item) {
	q.mu.Lock()
	q.items = append([]Item(nil), items...)
	n := len(q.items)
	q.mu.Unlock()
	telemetry.SetPending(n)
}

// Enqueue appends p and, when online, wakes the drainer.
func (q *Queue) Enqueue(p Payload) Item {
	it := Item{
		ID:         uuid.New(),
		Payload:    p,
		EnqueuedAt: q.now(),
	}

	q.mu.Lock()
	q.items = append(q.items, it)
	online := q.online
	n := len(q.items)
	q.mu.Unlock()

	telemetry.RecordEnqueued(string(p.Kind()))
	telemetry.SetPending(n)
	q.log.Debug("change enqueued", "kind", p.Kind(), "record", p.RecordID(), "pending", n)

	if online {
		q.wake()
	}
	return it
}

// SetOnline records connectivity. Going from offline to online wakes the drainer.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	q.mu.Unlock()

	if online && !was {
		q.wake()
	}
}

// Online reports the last connectivity state given to SetOnline.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Items returns a copy of the pending items in delivery order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Status returns the current queue state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	st := Status{Pending: len(q.items), Dropped: q.dropped}
	if q.lastSync != nil {
		t := *q.lastSync
		st.LastSyncAt = &t
	}
	return st
}

// Flush runs one drain pass synchronously and returns the resulting status.
// It waits for a pass already in progress. Nothing is attempted while offline.
func (q *Queue) Flush(ctx context.Context) Status {
	q.drain(ctx)
	return q.Status()
}

// Run drains the queue whenever woken until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.kick:
		case <-retry:
		}
		retry = nil
		if !q.drain(ctx) && q.retryInterval > 0 {
			retry = time.After(q.retryInterval)
		}
	}
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// drain runs one pass over the queue, head first, one attempt per item.
// It returns false if the pass stopped on a failed delivery.
func (q *Queue) drain(ctx context.Context) bool {
	q.drainMu.Lock()
	ok, attempted := q.pass(ctx)
	q.drainMu.Unlock()

	if attempted && q.observer != nil {
		q.observer(q.Status())
	}
	return ok
}

func (q *Queue) pass(ctx context.Context) (ok, attempted bool) {
	for {
		q.mu.Lock()
		if !q.online || len(q.items) == 0 {
			q.mu.Unlock()
			return true, attempted
		}
		head := q.items[0]
		q.mu.Unlock()

		attempted = true
		err := q.deliver(ctx, head.Payload)
		kind := string(head.Payload.Kind())

		if err != nil && ctx.Err() != nil {
			// Cancelled mid-call; the attempt does not count.
			return false, attempted
		}

		// Only the drainer removes items and enqueue only appends, so head is
		// still at index 0.
		q.mu.Lock()
		if err == nil {
			q.items = q.items[1:]
			now := q.now()
			q.lastSync = &now
			n := len(q.items)
			q.mu.Unlock()

			telemetry.RecordDelivered(kind)
			telemetry.SetPending(n)
			continue
		}

		q.items[0].Retries++
		retries := q.items[0].Retries
		if retries >= MaxRetries {
			q.items = q.items[1:]
			q.dropped++
		}
		n := len(q.items)
		q.mu.Unlock()

		telemetry.RecordDeliveryFailure(kind)
		if retries >= MaxRetries {
			telemetry.RecordDropped(kind)
			telemetry.SetPending(n)
			q.log.Warn("dropping change after repeated failures",
				"kind", kind, "item", head.ID, "record", head.Payload.RecordID(),
				"retries", retries, "error", err)
		} else {
			q.log.Info("change delivery failed", "kind", kind, "item", head.ID, "retries", retries, "error", err)
		}
		return false, attempted
	}
}

func (q *Queue) deliver(ctx context.Context, p Payload) error {
	switch v := p.(type) {
	case SetPayload:
		return q.remote.UpsertSet(ctx, v.Set)
	case SessionPayload:
		return q.remote.UpsertSession(ctx, v.Session)
	case MetricsPayload:
		return q.remote.UpsertMetrics(ctx, v.Metrics)
	default:
		return fmt.Errorf("unknown payload type %T", p)
	}
}
