package models

import (
	"time"

	"github.com/google/uuid"
)

// State is a workout session lifecycle phase.
type State string

const (
	StateIdle          State = "idle"
	StateWarmingUp     State = "warming-up"
	StateWorking       State = "working"
	StateResting       State = "resting"
	StateTransitioning State = "transitioning"
	StatePaused        State = "paused"
	StateCompleted     State = "completed"
	StateEmergencyStop State = "emergency-stop"
)

// States lists every lifecycle phase in declaration order.
var States = []State{
	StateIdle, StateWarmingUp, StateWorking, StateResting,
	StateTransitioning, StatePaused, StateCompleted, StateEmergencyStop,
}

// Valid reports whether s is one of the defined lifecycle phases.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateEmergencyStop
}

// Ticking reports whether the elapsed-time clock advances in s.
func (s State) Ticking() bool {
	return s == StateWorking || s == StateResting || s == StateWarmingUp
}

// SyncStatus is the aggregate state of the change queue as seen by the user.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	// SyncError is reserved for surfacing dropped queue items. Nothing sets it yet.
	SyncError SyncStatus = "error"
)

// Session is the full state of one live workout for one user.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	State     State     `json:"state"`

	Sets    []WorkSet `json:"sets"`
	Metrics Metrics   `json:"metrics"`

	PendingChanges int        `json:"pending_changes"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	SyncStatus     SyncStatus `json:"sync_status"`
	Online         bool       `json:"online"`

	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	ElapsedSeconds    int        `json:"elapsed_seconds"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`
	TotalPauseSeconds int        `json:"total_pause_seconds"`

	Plan            []ExerciseContext `json:"plan,omitempty"`
	CurrentExercise *ExerciseContext  `json:"current_exercise,omitempty"`
	ExerciseOrder   []string          `json:"exercise_order,omitempty"`
	Vitals          Vitals            `json:"vitals"`

	Rest                 *RestRecommendation `json:"rest,omitempty"`
	RestDurationSeconds  int                 `json:"rest_duration_seconds"`
	RestRemainingSeconds int                 `json:"rest_remaining_seconds"`
	RestHistory          map[string][]int    `json:"rest_history,omitempty"`

	EmergencyReason string   `json:"emergency_reason,omitempty"`
	Coaching        []string `json:"coaching,omitempty"`
}

// NewSession returns an idle session slot for userID.
func NewSession(userID string) Session {
	return Session{
		UserID:     userID,
		State:      StateIdle,
		SyncStatus: SyncSynced,
	}
}

// Clone returns a deep copy so callers outside the controller never alias its slices or maps.
func (s Session) Clone() Session {
	c := s
	if s.Sets != nil {
		c.Sets = make([]WorkSet, len(s.Sets))
		for i, set := range s.Sets {
			c.Sets[i] = set.Clone()
		}
	}
	c.Metrics = s.Metrics.Clone()
	if s.Plan != nil {
		c.Plan = make([]ExerciseContext, len(s.Plan))
		for i, ex := range s.Plan {
			c.Plan[i] = ex.Clone()
		}
	}
	if s.CurrentExercise != nil {
		ex := s.CurrentExercise.Clone()
		c.CurrentExercise = &ex
	}
	c.ExerciseOrder = cloneStrings(s.ExerciseOrder)
	if s.Rest != nil {
		r := *s.Rest
		r.Reasoning = cloneStrings(s.Rest.Reasoning)
		c.Rest = &r
	}
	if s.RestHistory != nil {
		c.RestHistory = make(map[string][]int, len(s.RestHistory))
		for k, v := range s.RestHistory {
			c.RestHistory[k] = append([]int(nil), v...)
		}
	}
	c.Coaching = cloneStrings(s.Coaching)
	c.LastSyncAt = cloneTime(s.LastSyncAt)
	c.StartedAt = cloneTime(s.StartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	c.PausedAt = cloneTime(s.PausedAt)
	return c
}

// NextSetNumber returns the ordinal the next set of exerciseID will get.
func (s Session) NextSetNumber(exerciseID string) int {
	n := 1
	for _, set := range s.Sets {
		if set.ExerciseID == exerciseID {
			n++
		}
	}
	return n
}

// Summary returns the session record sent to the remote data service.
func (s Session) Summary() SessionSummary {
	sum := SessionSummary{
		ID:                s.ID,
		UserID:            s.UserID,
		PlanID:            s.PlanID,
		State:             s.State,
		CreatedAt:         s.CreatedAt,
		StartedAt:         cloneTime(s.StartedAt),
		EndedAt:           cloneTime(s.EndedAt),
		DurationSeconds:   s.ElapsedSeconds,
		TotalPauseSeconds: s.TotalPauseSeconds,
		TotalSets:         s.Metrics.TotalSets,
		TotalVolume:       s.Metrics.TotalVolume,
		EmergencyReason:   s.EmergencyReason,
	}
	return sum
}

// Vitals are the latest physiological readings reported during a session.
// Zero means not reported.
type Vitals struct {
	HeartRate float64 `json:"heart_rate,omitempty"`
	Hydration float64 `json:"hydration,omitempty"`
}

// SessionSummary is the session-level record upserted to the remote data service.
type SessionSummary struct {
	ID                uuid.UUID  `json:"id" validate:"required"`
	UserID            string     `json:"user_id" validate:"required"`
	PlanID            string     `json:"plan_id,omitempty"`
	State             State      `json:"state" validate:"required"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	DurationSeconds   int        `json:"duration_seconds" validate:"gte=0"`
	TotalPauseSeconds int        `json:"total_pause_seconds" validate:"gte=0"`
	TotalSets         int        `json:"total_sets" validate:"gte=0"`
	TotalVolume       float64    `json:"total_volume" validate:"gte=0"`
	EmergencyReason   string     `json:"emergency_reason,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
