// Package notify delivers session lifecycle notifications to a presentation layer.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
)

// Kind identifies a lifecycle notification.
type Kind string

const (
	KindStarted          Kind = "started"
	KindSetCompleted     Kind = "set_completed"
	KindRestSuggested    Kind = "rest_suggested"
	KindRestFinished     Kind = "rest_finished"
	KindWorkoutCompleted Kind = "workout_completed"
	KindEmergencyStop    Kind = "emergency_stop"
	KindOfflineMode      Kind = "offline_mode"
	KindSyncDropped      Kind = "sync_dropped"
)

// Notification is one lifecycle event. Only the fields relevant to Kind are set.
type Notification struct {
	Kind      Kind                       `json:"kind"`
	UserID    string                     `json:"user_id"`
	SessionID uuid.UUID                  `json:"session_id"`
	At        time.Time                  `json:"at"`
	State     models.State               `json:"state"`
	Set       *models.WorkSet            `json:"set,omitempty"`
	Rest      *models.RestRecommendation `json:"rest,omitempty"`
	Metrics   *models.Metrics            `json:"metrics,omitempty"`
	Coaching  []string                   `json:"coaching,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
	Pending   int                        `json:"pending,omitempty"`
	Dropped   int                        `json:"dropped,omitempty"`
}

// Notifier receives notifications. Implementations must not block for long:
// they are called from the session's event loop.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Notifier = Func(func(context.Context, Notification) {})

// Log writes notifications to a structured logger.
type Log struct {
	log *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(ctx context.Context, n Notification) {
	attrs := []any{"kind", n.Kind, "user", n.UserID, "state", n.State}
	if n.SessionID != uuid.Nil {
		attrs = append(attrs, "session", n.SessionID)
	}
	switch n.Kind {
	case KindSetCompleted:
		if n.Set != nil {
			attrs = append(attrs, "exercise", n.Set.ExerciseID, "set", n.Set.SetNumber,
				"weight_kg", n.Set.WeightKg, "reps", n.Set.Reps)
		}
		if len(n.Coaching) > 0 {
			attrs = append(attrs, "coaching", n.Coaching)
		}
	case KindRestSuggested:
		if n.Rest != nil {
			attrs = append(attrs, "suggested", n.Rest.Suggested, "min", n.Rest.Minimum,
				"max", n.Rest.Maximum, "confidence", n.Rest.Confidence)
		}
	case KindWorkoutCompleted:
		if n.Metrics != nil {
			attrs = append(attrs, "sets", n.Metrics.TotalSets, "volume", n.Metrics.TotalVolume)
		}
	case KindEmergencyStop:
		attrs = append(attrs, "reason", n.Reason)
	case KindOfflineMode:
		attrs = append(attrs, "pending", n.Pending)
	case KindSyncDropped:
		l.log.WarnContext(ctx, "notification", append(attrs, "dropped", n.Dropped)...)
		return
	}
	l.log.InfoContext(ctx, "notification", attrs...)
}

// Channel buffers notifications for a consumer goroutine. When the buffer is
// full the notification is dropped and counted.
type Channel struct {
	ch chan Notification

	mu      sync.Mutex
	dropped int
}

// NewChannel creates a Channel notifier with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Notification, size)}
}

func (c *Channel) Notify(_ context.Context, n Notification) {
	select {
	case c.ch <- n:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// C returns the receive side.
func (c *Channel) C() <-chan Notification {
	return c.ch
}

// Dropped returns how many notifications did not fit in the buffer.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}
