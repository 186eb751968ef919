// Package session owns the lifecycle of a live workout.
//
// Each user's session is held by a Controller: a single goroutine that applies
// events through Transition and performs the resulting effects. Callers and
// the background tasks (elapsed-time tick, autosave, connectivity listener)
// all post into the same inbox, so session state has exactly one writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/repsession/internal/connectivity"
	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/notify"
	"github.com/claude/repsession/internal/outbox"
	"github.com/claude/repsession/internal/rest"
	"github.com/claude/repsession/internal/snapshot"
	"github.com/claude/repsession/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Dispatch after the controller has been closed.
var ErrClosed = errors.New("session controller closed")

// Config holds controller timings.
type Config struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	// FlushTimeout bounds the synchronous drain when a session ends or closes.
	FlushTimeout time.Duration
	// RetryInterval is passed to the change queue; zero disables timed retries.
	RetryInterval time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Second,
		AutosaveInterval: 30 * time.Second,
		FlushTimeout:     30 * time.Second,
		RetryInterval:    15 * time.Second,
	}
}

// Deps are the collaborators a controller works with.
type Deps struct {
	Store        *snapshot.Store
	Remote       outbox.Remote
	Connectivity connectivity.Source
	Notifier     notify.Notifier
	Predictor    *rest.Predictor
	Catalog      Catalog
	Log          *slog.Logger
	Clock        func() time.Time
	NewID        func() uuid.UUID
}

type request struct {
	ev    Event
	read  bool
	reply chan models.Session
}

// Controller is the single writer of one user's session.
type Controller struct {
	userID string
	cfg    Config
	deps   Deps
	log    *slog.Logger
	now    func() time.Time
	queue  *outbox.Queue

	inbox    chan request
	syncKick chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// owned by the actor goroutine
	session     models.Session
	lastDropped int
	tasksCancel context.CancelFunc
	tasks       *errgroup.Group

	bg       *errgroup.Group
	bgCancel context.CancelFunc
}

// Open creates the controller for userID, restoring from the snapshot store
// when a recent snapshot exists, and starts it.
func Open(ctx context.Context, userID string, cfg Config, deps Deps) (*Controller, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.New
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = def.AutosaveInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}

	c := &Controller{
		userID:   userID,
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.With("user", userID),
		now:      deps.Clock,
		inbox:    make(chan request),
		syncKick: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		session:  models.NewSession(userID),
	}
	c.queue = outbox.New(deps.Remote, c.log,
		outbox.WithClock(deps.Clock),
		outbox.WithRetryInterval(cfg.RetryInterval),
		outbox.WithObserver(func(outbox.Status) {
			select {
			case c.syncKick <- struct{}{}:
			default:
			}
		}),
	)

	if deps.Store != nil {
		snap, err := deps.Store.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		if snap != nil {
			c.restore(snap)
		}
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.bgCancel = cancel
	c.bg, bgCtx = errgroup.WithContext(bgCtx)
	c.bg.Go(func() error { return c.queue.Run(bgCtx) })
	c.bg.Go(func() error {
		c.loop(bgCtx)
		return nil
	})
	// Connectivity is followed for the controller's whole life so changes left
	// by a finished or restored session still drain when the network returns.
	if deps.Connectivity != nil {
		c.bg.Go(func() error { return c.connectivityTask(bgCtx) })
	}
	return c, nil
}

func (c *Controller) restore(snap *snapshot.Snapshot) {
	s := snap.Session
	s.UserID = c.userID
	if s.State.Terminal() {
		s = archived(s)
	}
	if !s.State.Valid() {
		c.log.Warn("snapshot has unknown state, starting idle", "state", s.State)
		s = archived(s)
		s.State = models.StateIdle
	}
	c.queue.Restore(snap.Queue)
	s.Online = false
	s.PendingChanges = len(snap.Queue)
	if s.PendingChanges == 0 {
		s.SyncStatus = models.SyncSynced
	} else {
		s.SyncStatus = models.SyncPending
	}
	s.Coaching = coaching(s)
	c.session = s
	c.log.Info("session restored", "session", s.ID, "state", s.State, "saved_at", snap.SavedAt,
		"sets", len(s.Sets), "pending", s.PendingChanges)
}

// UserID returns the owning user.
func (c *Controller) UserID() string { return c.userID }

// Dispatch applies ev and returns the resulting session. Events that do not
// apply in the current state leave it unchanged; that is not an error.
func (c *Controller) Dispatch(ctx context.Context, ev Event) (models.Session, error) {
	return c.send(ctx, request{ev: ev})
}

// Session returns a copy of the current session.
func (c *Controller) Session(ctx context.Context) (models.Session, error) {
	return c.send(ctx, request{read: true})
}

// Queue returns the pending change queue items.
func (c *Controller) Queue() []outbox.Item {
	return c.queue.Items()
}

func (c *Controller) send(ctx context.Context, req request) (models.Session, error) {
	req.reply = make(chan models.Session, 1)
	select {
	case c.inbox <- req:
	case <-c.done:
		return models.Session{}, ErrClosed
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	}
}

// Close stops the tasks, flushes the queue when online, saves a final
// snapshot and stops the controller. It is safe to call more than once.
func (c *Controller) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	select {
	case <-c.done:
	case <-ctx.Done():
		c.bgCancel()
		return ctx.Err()
	}
	c.bgCancel()
	return c.bg.Wait()
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	if s := c.session.State; s != models.StateIdle && !s.Terminal() {
		c.startTasks(ctx)
	}

	for {
		select {
		case req := <-c.inbox:
			if req.read {
				req.reply <- c.session.Clone()
				continue
			}
			c.apply(ctx, req.ev)
			req.reply <- c.session.Clone()
		case <-c.syncKick:
			c.apply(ctx, c.syncEvent())
		case <-c.stop:
			c.shutdown(ctx)
			return
		case <-ctx.Done():
			c.stopTasks()
			return
		}
	}
}

func (c *Controller) shutdown(ctx context.Context) {
	c.stopTasks()
	if c.queue.Online() {
		c.flush(ctx)
	}
	if c.session.ID != uuid.Nil || c.queue.Len() > 0 {
		c.save(ctx)
	}
	c.log.Info("session controller closed", "state", c.session.State, "pending", c.queue.Len())
}

// apply runs one transition and performs its effects in order.
func (c *Controller) apply(ctx context.Context, ev Event) {
	next, effects, accepted := step(c.session, ev, c.env())
	if _, isTick := ev.(Tick); !isTick {
		telemetry.RecordSessionEvent(ev.Name(), accepted)
		if accepted {
			c.log.Debug("event applied", "event", ev.Name(), "from", c.session.State, "to", next.State)
		} else {
			c.log.Debug("event ignored", "event", ev.Name(), "state", c.session.State)
		}
	}
	c.session = next

	for _, eff := range effects {
		switch e := eff.(type) {
		case Enqueue:
			c.queue.Enqueue(e.Payload)
		case Notify:
			c.deps.Notifier.Notify(ctx, e.Notification)
		case StartTasks:
			c.startTasks(ctx)
		case StopTasks:
			c.stopTasks()
		case Flush:
			if c.queue.Online() {
				c.flush(ctx)
			}
		case Save:
			c.save(ctx)
		case SetOnline:
			c.queue.SetOnline(e.Online)
		}
	}
}

func (c *Controller) env() Env {
	return Env{
		Now:       c.now(),
		NewID:     c.deps.NewID,
		Predictor: c.deps.Predictor,
		Catalog:   c.deps.Catalog,
	}
}

func (c *Controller) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FlushTimeout)
	defer cancel()
	c.queue.Flush(fctx)
	c.apply(ctx, c.syncEvent())
}

func (c *Controller) syncEvent() SyncStatusChanged {
	st := c.queue.Status()
	ev := SyncStatusChanged{
		Pending:      st.Pending,
		LastSyncAt:   st.LastSyncAt,
		NewlyDropped: st.Dropped - c.lastDropped,
	}
	c.lastDropped = st.Dropped
	return ev
}

func (c *Controller) save(ctx context.Context) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.Save(ctx, c.session.Clone(), c.queue.Items()); err != nil {
		c.log.Error("saving snapshot", "error", err)
	}
}

func (c *Controller) startTasks(ctx context.Context) {
	if c.tasks != nil {
		return
	}
	tctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(tctx)
	c.tasksCancel = cancel
	c.tasks = g

	g.Go(func() error { return c.tickTask(gctx) })
	g.Go(func() error { return c.autosaveTask(gctx) })
}

// stopTasks cancels the tasks and waits for them. Tasks never block on the
// inbox once cancelled, so waiting from the actor goroutine is safe.
func (c *Controller) stopTasks() {
	if c.tasks == nil {
		return
	}
	c.tasksCancel()
	if err := c.tasks.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("session task failed", "error", err)
	}
	c.tasks, c.tasksCancel = nil, nil
}

// post delivers an event from a task. It gives up when ctx is done or the
// actor has stopped.
func (c *Controller) post(ctx context.Context, req request) (models.Session, bool) {
	req.reply = make(chan models.Session, 1)
	select {
	case c.inbox <- req:
	case <-c.done:
		return models.Session{}, false
	case <-ctx.Done():
		return models.Session{}, false
	}
	select {
	case s := <-req.reply:
		return s, true
	case <-ctx.Done():
		return models.Session{}, false
	}
}

func (c *Controller) tickTask(ctx context.Context) error {
	t := time.NewTicker(c.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, ok := c.post(ctx, request{ev: Tick{}}); !ok {
				return nil
			}
		}
	}
}

// autosaveTask reads a session copy through the inbox and writes it outside
// the actor, so a slow store never stalls event handling.
func (c *Controller) autosaveTask(ctx context.Context) error {
	t := time.NewTicker(c.cfg.AutosaveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s, ok := c.post(ctx, request{read: true})
			if !ok {
				return nil
			}
			if c.deps.Store == nil {
				continue
			}
			if err := c.deps.Store.Save(ctx, s, c.queue.Items()); err != nil && ctx.Err() == nil {
				c.log.Warn("autosave failed", "error", err)
			}
		}
	}
}

func (c *Controller) connectivityTask(ctx context.Context) error {
	updates := c.deps.Connectivity.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-updates:
			if !ok {
				return nil
			}
			if _, ok := c.post(ctx, request{ev: ConnectivityChanged{Online: online}}); !ok {
				return nil
			}
		}
	}
}
