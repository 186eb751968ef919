// Package snapshot persists the full session state, change queue included,
// so a live workout survives a process restart.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/outbox"
	"github.com/claude/repsession/internal/telemetry"
)

// DefaultRecoveryWindow is the maximum snapshot age that may be restored.
const DefaultRecoveryWindow = 24 * time.Hour

// ErrNotFound is returned by a Backend when the key has no value.
var ErrNotFound = errors.New("snapshot not found")

// Backend stores opaque blobs by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Name() string
	Close() error
}

// Snapshot is a timestamped copy of a session and its undelivered changes.
type Snapshot struct {
	SavedAt time.Time      `json:"saved_at"`
	Session models.Session `json:"session"`
	Queue   []outbox.Item  `json:"queue,omitempty"`
}

// Key returns the storage key for a user's snapshot.
func Key(userID string) string {
	return "workout_session_" + userID
}

// Store reads and writes snapshots through a Backend.
type Store struct {
	backend Backend
	log     *slog.Logger
	now     func() time.Time
	window  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecoveryWindow overrides DefaultRecoveryWindow.
func WithRecoveryWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     log,
		now:     time.Now,
		window:  DefaultRecoveryWindow,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save writes the session and queue, stamped with the current time.
func (s *Store) Save(ctx context.Context, sess models.Session, queue []outbox.Item) error {
	snap := Snapshot{SavedAt: s.now(), Session: sess, Queue: queue}
	data, err := json.Marshal(snap)
	if err != nil {
		telemetry.RecordSnapshotWrite(s.backend.Name(), "error")
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.backend.Set(ctx, Key(sess.UserID), data); err != nil {
		telemetry.RecordSnapshotWrite(s.backend.Name(), "error")
		return fmt.Errorf("writing snapshot for %s: %w", sess.UserID, err)
	}
	telemetry.RecordSnapshotWrite(s.backend.Name(), "ok")
	return nil
}

// Load returns the user's snapshot if one exists and is younger than the
// recovery window. Stale or undecodable snapshots are deleted and reported as
// absent. Only backend read failures are returned as errors.
func (s *Store) Load(ctx context.Context, userID string) (*Snapshot, error) {
	key := Key(userID)
	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		telemetry.RecordRecovery("missing")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", userID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("discarding undecodable snapshot", "user", userID, "error", err)
		telemetry.RecordRecovery("corrupt")
		s.discard(ctx, key)
		return nil, nil
	}

	age := s.now().Sub(snap.SavedAt)
	if age >= s.window {
		s.log.Info("discarding stale snapshot", "user", userID, "saved_at", snap.SavedAt, "age", age.Round(time.Second))
		telemetry.RecordRecovery("stale")
		s.discard(ctx, key)
		return nil, nil
	}

	telemetry.RecordRecovery("restored")
	return &snap, nil
}

// Delete removes the user's snapshot. A missing snapshot is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.backend.Delete(ctx, Key(userID)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting snapshot for %s: %w", userID, err)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) discard(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("deleting snapshot", "key", key, "error", err)
	}
}
