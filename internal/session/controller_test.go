package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/repsession/internal/connectivity"
	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/notify"
	"github.com/claude/repsession/internal/outbox"
	"github.com/claude/repsession/internal/rest"
	"github.com/claude/repsession/internal/snapshot"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRemote struct {
	mu    sync.Mutex
	kinds []outbox.Kind
	fail  bool
}

func (r *recordingRemote) record(k outbox.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("unreachable")
	}
	r.kinds = append(r.kinds, k)
	return nil
}

func (r *recordingRemote) UpsertSet(context.Context, models.WorkSet) error {
	return r.record(outbox.KindSet)
}

func (r *recordingRemote) UpsertSession(context.Context, models.SessionSummary) error {
	return r.record(outbox.KindSession)
}

func (r *recordingRemote) UpsertMetrics(context.Context, models.MetricsRecord) error {
	return r.record(outbox.KindMetrics)
}

func (r *recordingRemote) received() []outbox.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbox.Kind(nil), r.kinds...)
}

type harness struct {
	remote *recordingRemote
	net    *connectivity.Manual
	store  *snapshot.Store
	notes  *notify.Channel
	deps   Deps
	cfg    Config
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := snapshot.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	h := &harness{
		remote: &recordingRemote{},
		net:    connectivity.NewManual(online),
		store:  snapshot.NewStore(backend, log),
		notes:  notify.NewChannel(256),
	}
	h.deps = Deps{
		Store:        h.store,
		Remote:       h.remote,
		Connectivity: h.net,
		Notifier:     h.notes,
		Predictor:    rest.New(rest.DefaultConfig()),
		Catalog:      testCatalog(),
		Log:          log,
	}
	h.cfg = Config{
		TickInterval:     10 * time.Millisecond,
		AutosaveInterval: time.Hour,
		FlushTimeout:     time.Second,
	}
	return h
}

func (h *harness) open(t *testing.T) *Controller {
	t.Helper()
	c, err := Open(context.Background(), "alice", h.cfg, h.deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func dispatch(t *testing.T, c *Controller, events ...Event) models.Session {
	t.Helper()
	var s models.Session
	for _, ev := range events {
		var err error
		s, err = c.Dispatch(context.Background(), ev)
		require.NoError(t, err)
	}
	return s
}

func current(t *testing.T, c *Controller) models.Session {
	t.Helper()
	s, err := c.Session(context.Background())
	require.NoError(t, err)
	return s
}

// TestControllerWorkoutSyncsInOrder runs a full online workout and checks the
// remote sees every record in causal order and the session ends synced.
func TestControllerWorkoutSyncsInOrder(t *testing.T) {
	h := newHarness(t, true)
	c := h.open(t)

	dispatch(t, c, StartWarmup{})
	require.Eventually(t, func() bool { return current(t, c).Online }, 2*time.Second, 5*time.Millisecond)

	set := CompleteSet{Set: models.SetInput{WeightKg: 50, Reps: 10}}
	dispatch(t, c, BeginExercise{ExerciseID: "squat"}, set, set, set)
	s := dispatch(t, c, CompleteWorkout{})

	assert.Equal(t, models.StateCompleted, s.State)
	assert.Equal(t, 3, s.Metrics.TotalSets)
	assert.InDelta(t, 1500, s.Metrics.TotalVolume, 1e-9)
	assert.Equal(t, 0, s.PendingChanges)
	assert.Equal(t, models.SyncSynced, s.SyncStatus)
	assert.Equal(t, []outbox.Kind{
		outbox.KindSession, outbox.KindSet, outbox.KindSet, outbox.KindSet,
		outbox.KindSession, outbox.KindMetrics,
	}, h.remote.received())

	snap, err := h.store.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.StateCompleted, snap.Session.State)
	assert.Empty(t, snap.Queue)
}

// TestControllerOfflineThenReconnect verifies work recorded offline stays
// queued and drains in order once connectivity returns.
func TestControllerOfflineThenReconnect(t *testing.T) {
	h := newHarness(t, false)
	c := h.open(t)

	dispatch(t, c, StartWarmup{}, BeginExercise{ExerciseID: "squat"},
		CompleteSet{Set: models.SetInput{WeightKg: 60, Reps: 8}})
	s := current(t, c)
	assert.Equal(t, 2, s.PendingChanges)
	assert.Equal(t, models.SyncPending, s.SyncStatus)
	assert.Empty(t, h.remote.received())

	h.net.Set(true)
	require.Eventually(t, func() bool {
		return current(t, c).SyncStatus == models.SyncSynced
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []outbox.Kind{outbox.KindSession, outbox.KindSet}, h.remote.received())
	assert.NotNil(t, current(t, c).LastSyncAt)
}

// TestControllerTicksWhileActive verifies the tick task drives elapsed time.
func TestControllerTicksWhileActive(t *testing.T) {
	h := newHarness(t, false)
	c := h.open(t)

	dispatch(t, c, StartWarmup{})
	require.Eventually(t, func() bool { return current(t, c).ElapsedSeconds >= 3 }, 2*time.Second, 5*time.Millisecond)

	paused := dispatch(t, c, PauseWorkout{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused.ElapsedSeconds, current(t, c).ElapsedSeconds)
}

// TestControllerAutosave verifies the session is written periodically while active.
func TestControllerAutosave(t *testing.T) {
	h := newHarness(t, false)
	h.cfg.AutosaveInterval = 20 * time.Millisecond
	c := h.open(t)

	dispatch(t, c, StartWarmup{}, BeginExercise{ExerciseID: "squat"},
		CompleteSet{Set: models.SetInput{WeightKg: 80, Reps: 5}})

	require.Eventually(t, func() bool {
		snap, err := h.store.Load(context.Background(), "alice")
		return err == nil && snap != nil && len(snap.Session.Sets) == 1 && len(snap.Queue) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// TestControllerRestoresActiveSession verifies a recent snapshot is resumed
// with its queue and its tasks running again.
func TestControllerRestoresActiveSession(t *testing.T) {
	h := newHarness(t, false)
	first := h.open(t)
	before := dispatch(t, first, StartWarmup{}, BeginExercise{ExerciseID: "squat"},
		CompleteSet{Set: models.SetInput{WeightKg: 70, Reps: 6}})
	require.NoError(t, first.Close(context.Background()))

	second := h.open(t)
	s := current(t, second)
	assert.Equal(t, before.ID, s.ID)
	assert.Equal(t, models.StateWorking, s.State)
	assert.Len(t, s.Sets, 1)
	assert.Len(t, second.Queue(), 2)
	assert.Equal(t, models.SyncPending, s.SyncStatus)

	start := s.ElapsedSeconds
	require.Eventually(t, func() bool { return current(t, second).ElapsedSeconds > start }, 2*time.Second, 5*time.Millisecond)

	// the next set continues the numbering
	s = dispatch(t, second, CompleteSet{Set: models.SetInput{WeightKg: 70, Reps: 6}})
	assert.Equal(t, 2, s.Sets[1].SetNumber)
}

// TestControllerRestoresFinishedSessionAsIdle verifies a terminal snapshot is
// archived but its undelivered changes are kept.
func TestControllerRestoresFinishedSessionAsIdle(t *testing.T) {
	h := newHarness(t, false)
	sess := models.NewSession("alice")
	sess.ID = uuid.New()
	sess.State = models.StateCompleted
	queue := []outbox.Item{{ID: uuid.New(), Payload: outbox.SessionPayload{Session: sess.Summary()}, EnqueuedAt: time.Now()}}
	require.NoError(t, h.store.Save(context.Background(), sess, queue))

	c := h.open(t)
	s := current(t, c)
	assert.Equal(t, models.StateIdle, s.State)
	assert.Equal(t, uuid.Nil, s.ID)
	assert.Equal(t, 1, s.PendingChanges)
	assert.Len(t, c.Queue(), 1)
}

// TestControllerCompletedOfflineThenOnline verifies a workout finished offline
// drains once connectivity returns, without a new session being started.
func TestControllerCompletedOfflineThenOnline(t *testing.T) {
	h := newHarness(t, false)
	c := h.open(t)

	s := dispatch(t, c, StartWarmup{}, BeginExercise{ExerciseID: "squat"},
		CompleteSet{Set: models.SetInput{WeightKg: 60, Reps: 8}}, CompleteWorkout{})
	require.Equal(t, models.StateCompleted, s.State)
	require.Len(t, c.Queue(), 4)

	h.net.Set(true)
	require.Eventually(t, func() bool { return len(c.Queue()) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []outbox.Kind{
		outbox.KindSession, outbox.KindSet, outbox.KindSession, outbox.KindMetrics,
	}, h.remote.received())
	require.Eventually(t, func() bool {
		return current(t, c).SyncStatus == models.SyncSynced
	}, 2*time.Second, 5*time.Millisecond)
}

// TestControllerRestoredQueueDrainsWhenOnline verifies changes recovered with a
// finished session are delivered while the controller sits idle.
func TestControllerRestoredQueueDrainsWhenOnline(t *testing.T) {
	h := newHarness(t, true)
	sess := models.NewSession("alice")
	sess.ID = uuid.New()
	sess.State = models.StateCompleted
	queue := []outbox.Item{{ID: uuid.New(), Payload: outbox.SessionPayload{Session: sess.Summary()}, EnqueuedAt: time.Now()}}
	require.NoError(t, h.store.Save(context.Background(), sess, queue))

	c := h.open(t)
	require.Eventually(t, func() bool { return len(h.remote.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s := current(t, c)
		return s.Online && s.PendingChanges == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StateIdle, current(t, c).State)
}

type blockingRemote struct{}

func (blockingRemote) UpsertSet(ctx context.Context, _ models.WorkSet) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingRemote) UpsertSession(ctx context.Context, _ models.SessionSummary) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingRemote) UpsertMetrics(ctx context.Context, _ models.MetricsRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

// TestControllerCloseTimeoutStopsWorkers verifies a Close that gives up still
// stops the actor and the queue worker.
func TestControllerCloseTimeoutStopsWorkers(t *testing.T) {
	h := newHarness(t, true)
	h.deps.Remote = blockingRemote{}
	h.cfg.FlushTimeout = time.Hour
	c, err := Open(context.Background(), "alice", h.cfg, h.deps)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return current(t, c).Online }, 2*time.Second, 5*time.Millisecond)
	dispatch(t, c, StartWarmup{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Close(ctx), context.DeadlineExceeded)

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller still running after Close gave up")
	}
	waited := make(chan error, 1)
	go func() { waited <- c.bg.Wait() }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("background workers still running after Close gave up")
	}
}

// TestControllerIgnoresStaleSnapshot verifies a day-old snapshot is not resumed.
func TestControllerIgnoresStaleSnapshot(t *testing.T) {
	h := newHarness(t, false)
	backend, err := snapshot.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	old := time.Now().Add(-25 * time.Hour)
	writer := snapshot.NewStore(backend, h.deps.Log, snapshot.WithClock(func() time.Time { return old }))
	sess := models.NewSession("alice")
	sess.ID = uuid.New()
	sess.State = models.StateWorking
	require.NoError(t, writer.Save(context.Background(), sess, nil))

	h.deps.Store = snapshot.NewStore(backend, h.deps.Log)
	c := h.open(t)
	assert.Equal(t, models.StateIdle, current(t, c).State)
}

// TestControllerDropsAfterRetries verifies a persistently failing remote loses
// items after three attempts and the user is told.
func TestControllerDropsAfterRetries(t *testing.T) {
	h := newHarness(t, true)
	h.remote.fail = true
	c := h.open(t)

	dispatch(t, c, StartWarmup{})
	require.Eventually(t, func() bool { return current(t, c).Online }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		dispatch(t, c, CompleteWorkout{})
		dispatch(t, c, Archive{})
		dispatch(t, c, StartWarmup{})
	}

	var dropped bool
	require.Eventually(t, func() bool {
		for {
			select {
			case n := <-h.notes.C():
				if n.Kind == notify.KindSyncDropped {
					dropped = true
				}
			default:
				return dropped
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

// TestControllerClosed verifies events after Close are rejected.
func TestControllerClosed(t *testing.T) {
	h := newHarness(t, false)
	c := h.open(t)
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	_, err := c.Dispatch(context.Background(), StartWarmup{})
	assert.ErrorIs(t, err, ErrClosed)
}

// TestEngineOneControllerPerUser verifies Open returns the same controller
// until it is released.
func TestEngineOneControllerPerUser(t *testing.T) {
	h := newHarness(t, false)
	e := NewEngine(h.cfg, h.deps)
	ctx := context.Background()

	a, err := e.Open(ctx, "alice")
	require.NoError(t, err)
	b, err := e.Open(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = e.Open(ctx, "")
	assert.Error(t, err)

	require.NoError(t, e.Release(ctx, "alice"))
	_, ok := e.Get("alice")
	assert.False(t, ok)

	c, err := e.Open(ctx, "alice")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	require.NoError(t, e.Close(ctx))
}
