package session

import (
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/outbox"
	"github.com/claude/repsession/internal/notify"
)

// Event is an input to the session state machine. The set of events is closed.
type Event interface {
	// Name is a stable snake_case identifier for logs and metrics.
	Name() string
	isEvent()
}

// StartWarmup begins a new workout. Exercises seed the plan; when empty and
// PlanID names a catalog plan, the plan is taken from the catalog.
type StartWarmup struct {
	PlanID    string
	Exercises []models.ExerciseContext
}

// BeginExercise starts working on an exercise. An empty ExerciseID picks the
// next exercise of the plan.
type BeginExercise struct {
	ExerciseID string
}

// CompleteSet records a finished set. It is accepted in every state.
// With StartRest set, a rest is predicted and started as by StartRest.
type CompleteSet struct {
	Set         models.SetInput
	StartRest   bool
	RestSeconds int
}

// StartRest begins a rest. A positive Seconds overrides the prediction.
type StartRest struct {
	Seconds int
}

type SkipRest struct{}

// ExtendRest adds Seconds to the running rest.
type ExtendRest struct {
	Seconds int
}

// NextExercise ends the current exercise and moves to transitioning.
type NextExercise struct{}

type PauseWorkout struct{}

type ResumeWorkout struct{}

type CompleteWorkout struct{}

type EmergencyStop struct {
	Reason string
}

// ReportVitals records the latest heart rate and hydration readings.
type ReportVitals struct {
	HeartRate float64
	Hydration float64
}

// Archive turns a finished session back into an idle slot so a new workout
// can start. The change queue is untouched.
type Archive struct{}

// Tick advances the elapsed-time clock by one second.
type Tick struct{}

// ConnectivityChanged reports the connectivity signal.
type ConnectivityChanged struct {
	Online bool
}

// SyncStatusChanged reports the change queue state after a drain pass.
// NewlyDropped counts items dropped since the previous report.
type SyncStatusChanged struct {
	Pending      int
	LastSyncAt   *time.Time
	NewlyDropped int
}

func (StartWarmup) Name() string         { return "start_warmup" }
func (BeginExercise) Name() string       { return "begin_exercise" }
func (CompleteSet) Name() string         { return "complete_set" }
func (StartRest) Name() string           { return "start_rest" }
func (SkipRest) Name() string            { return "skip_rest" }
func (ExtendRest) Name() string          { return "extend_rest" }
func (NextExercise) Name() string        { return "next_exercise" }
func (PauseWorkout) Name() string        { return "pause_workout" }
func (ResumeWorkout) Name() string       { return "resume_workout" }
func (CompleteWorkout) Name() string     { return "complete_workout" }
func (EmergencyStop) Name() string       { return "emergency_stop" }
func (ReportVitals) Name() string        { return "report_vitals" }
func (Archive) Name() string             { return "archive" }
func (Tick) Name() string                { return "tick" }
func (ConnectivityChanged) Name() string { return "connectivity_changed" }
func (SyncStatusChanged) Name() string   { return "sync_status_changed" }

func (StartWarmup) isEvent()         {}
func (BeginExercise) isEvent()       {}
func (CompleteSet) isEvent()         {}
func (StartRest) isEvent()           {}
func (SkipRest) isEvent()            {}
func (ExtendRest) isEvent()          {}
func (NextExercise) isEvent()        {}
func (PauseWorkout) isEvent()        {}
func (ResumeWorkout) isEvent()       {}
func (CompleteWorkout) isEvent()     {}
func (EmergencyStop) isEvent()       {}
func (ReportVitals) isEvent()        {}
func (Archive) isEvent()             {}
func (Tick) isEvent()                {}
func (ConnectivityChanged) isEvent() {}
func (SyncStatusChanged) isEvent()   {}

// Effect is a side effect requested by a transition, performed by the
// controller in order.
type Effect interface {
	isEffect()
}

// Enqueue appends a payload to the change queue.
type Enqueue struct {
	Payload outbox.Payload
}

// Notify emits a lifecycle notification.
type Notify struct {
	Notification notify.Notification
}

// StartTasks starts the tick, autosave and connectivity tasks.
type StartTasks struct{}

// StopTasks cancels the tasks and waits for them to exit.
type StopTasks struct{}

// Flush runs one synchronous drain pass when online.
type Flush struct{}

// Save writes a snapshot now.
type Save struct{}

// SetOnline forwards connectivity to the change queue.
type SetOnline struct {
	Online bool
}

func (Enqueue) isEffect()    {}
func (Notify) isEffect()     {}
func (StartTasks) isEffect() {}
func (StopTasks) isEffect()  {}
func (Flush) isEffect()      {}
func (Save) isEffect()       {}
func (SetOnline) isEffect()  {}
