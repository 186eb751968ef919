package session

import (
	"fmt"
	"math"
	"time"

	"github.com/claude/repsession/internal/metrics"
	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/notify"
	"github.com/claude/repsession/internal/outbox"
	"github.com/claude/repsession/internal/rest"
	"github.com/google/uuid"
)

// UnspecifiedExercise is the exercise id given to sets recorded with no
// exercise named and none in progress.
const UnspecifiedExercise = "unspecified"

// Catalog resolves exercise and plan ids. It is read-only.
type Catalog interface {
	Exercise(id string) (models.ExerciseContext, bool)
	Plan(id string) ([]models.ExerciseContext, bool)
}

// Env is everything a transition may consult besides the session itself.
type Env struct {
	Now       time.Time
	NewID     func() uuid.UUID
	Predictor *rest.Predictor
	Catalog   Catalog
}

func (e Env) id() uuid.UUID {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.New()
}

// Transition applies ev to s and returns the next session with the effects the
// caller must perform, in order. Events that do not apply in the current state
// return s unchanged and no effects. s is never modified.
func Transition(s models.Session, ev Event, env Env) (models.Session, []Effect) {
	next, effects, _ := step(s, ev, env)
	return next, effects
}

func step(s models.Session, ev Event, env Env) (models.Session, []Effect, bool) {
	t := &txn{s: s.Clone(), env: env}
	if !t.apply(ev) {
		return s, nil, false
	}
	t.s.Coaching = coaching(t.s)
	return t.s, t.effects, true
}

type txn struct {
	s       models.Session
	env     Env
	effects []Effect
}

func (t *txn) apply(ev Event) bool {
	switch e := ev.(type) {
	case StartWarmup:
		return t.startWarmup(e)
	case BeginExercise:
		return t.beginExercise(e)
	case CompleteSet:
		return t.completeSet(e)
	case StartRest:
		if t.s.State != models.StateWorking {
			return false
		}
		ex := t.restExercise()
		t.beginRest(e.Seconds, ex, t.predict(ex))
		return true
	case SkipRest:
		if t.s.State != models.StateResting {
			return false
		}
		t.s.State = models.StateWorking
		t.s.RestRemainingSeconds = 0
		return true
	case ExtendRest:
		return t.extendRest(e)
	case NextExercise:
		if t.s.State != models.StateWorking && t.s.State != models.StateResting {
			return false
		}
		t.s.State = models.StateTransitioning
		t.s.Rest = nil
		t.s.RestRemainingSeconds = 0
		return true
	case PauseWorkout:
		switch t.s.State {
		case models.StateWorking, models.StateResting, models.StateWarmingUp:
		default:
			return false
		}
		now := t.env.Now
		t.s.PausedAt = &now
		t.s.State = models.StatePaused
		return true
	case ResumeWorkout:
		if t.s.State != models.StatePaused {
			return false
		}
		t.endPause()
		t.s.State = models.StateWorking
		t.s.RestRemainingSeconds = 0
		return true
	case CompleteWorkout:
		return t.finish(models.StateCompleted, "")
	case EmergencyStop:
		return t.finish(models.StateEmergencyStop, e.Reason)
	case ReportVitals:
		return t.reportVitals(e)
	case Archive:
		if !t.s.State.Terminal() {
			return false
		}
		t.s = archived(t.s)
		return true
	case Tick:
		return t.tick()
	case ConnectivityChanged:
		return t.connectivity(e)
	case SyncStatusChanged:
		return t.syncStatus(e)
	default:
		return false
	}
}

func (t *txn) startWarmup(e StartWarmup) bool {
	if t.s.State != models.StateIdle {
		return false
	}

	plan := make([]models.ExerciseContext, 0, len(e.Exercises))
	for _, ex := range e.Exercises {
		plan = append(plan, ex.Clone())
	}
	if len(plan) == 0 && e.PlanID != "" && t.env.Catalog != nil {
		if p, ok := t.env.Catalog.Plan(e.PlanID); ok {
			plan = p
		}
	}
	if len(plan) == 0 {
		plan = nil
	}

	now := t.env.Now
	prev := t.s
	t.s = models.Session{
		ID:             t.env.id(),
		UserID:         prev.UserID,
		PlanID:         e.PlanID,
		CreatedAt:      now,
		State:          models.StateWarmingUp,
		StartedAt:      &now,
		Plan:           plan,
		PendingChanges: prev.PendingChanges,
		LastSyncAt:     prev.LastSyncAt,
		SyncStatus:     prev.SyncStatus,
		Online:         prev.Online,
		Vitals:         prev.Vitals,
	}

	t.enqueue(outbox.SessionPayload{Session: t.s.Summary()})
	t.emit(StartTasks{})
	t.notify(notify.KindStarted, nil)
	return true
}

func (t *txn) beginExercise(e BeginExercise) bool {
	if t.s.State != models.StateWarmingUp && t.s.State != models.StateTransitioning {
		return false
	}

	id := e.ExerciseID
	if id == "" {
		id = t.nextPlanned()
	}
	if id != "" {
		ex := t.lookup(id)
		ex.SetIndex = t.s.NextSetNumber(id) - 1
		t.s.CurrentExercise = &ex
		t.touch(id)
	}

	t.s.State = models.StateWorking
	t.s.Rest = nil
	t.s.RestRemainingSeconds = 0
	return true
}

func (t *txn) completeSet(e CompleteSet) bool {
	in := e.Set
	cur := t.s.CurrentExercise

	var ex models.ExerciseContext
	switch {
	case in.ExerciseID == "" && cur != nil:
		ex = cur.Clone()
	case in.ExerciseID == "":
		ex = models.ExerciseContext{ExerciseID: UnspecifiedExercise}
	case cur != nil && cur.ExerciseID == in.ExerciseID:
		ex = cur.Clone()
	default:
		ex = t.lookup(in.ExerciseID)
	}

	set := models.WorkSet{
		ID:           t.env.id(),
		SessionID:    t.s.ID,
		UserID:       t.s.UserID,
		ExerciseID:   ex.ExerciseID,
		Movement:     ex.Movement,
		MuscleGroups: append([]string(nil), ex.MuscleGroups...),
		SetNumber:    t.s.NextSetNumber(ex.ExerciseID),
		WeightKg:     math.Max(0, in.WeightKg),
		Reps:         max(0, in.Reps),
		Effort:       clampEffort(in.Effort),
		Tempo:        in.Tempo,
		Notes:        in.Notes,
		CompletedAt:  t.env.Now,
		Completed:    true,
	}
	if len(set.MuscleGroups) == 0 {
		set.MuscleGroups = nil
	}

	t.s.Sets = append(t.s.Sets, set)
	t.s.Metrics = metrics.Aggregate(t.s.Sets)
	ex.SetIndex = set.SetNumber
	if cur != nil && cur.ExerciseID == ex.ExerciseID {
		cur.SetIndex = set.SetNumber
	}
	t.touch(ex.ExerciseID)

	t.enqueue(outbox.SetPayload{Set: set})
	if t.s.State.Terminal() && t.s.ID != uuid.Nil {
		// the summary and metrics were already published by finish
		t.enqueueTotals()
		t.emit(Save{})
	}
	t.s.Coaching = coaching(t.s)
	t.notify(notify.KindSetCompleted, func(n *notify.Notification) {
		c := set.Clone()
		n.Set = &c
		n.Coaching = append([]string(nil), t.s.Coaching...)
	})

	if e.StartRest {
		rec := t.predict(ex)
		if t.s.State == models.StateWorking {
			t.beginRest(e.RestSeconds, ex, rec)
		} else {
			t.s.Rest = rec
		}
	}
	return true
}

// beginRest moves to resting. The duration is the custom one if positive,
// else the prediction, else the exercise default, else rest.DefaultRestSeconds.
func (t *txn) beginRest(custom int, ex models.ExerciseContext, rec *models.RestRecommendation) {
	dur := custom
	if dur <= 0 && rec != nil {
		dur = rec.Suggested
	}
	if dur <= 0 {
		dur = ex.DefaultRestSeconds
	}
	if dur <= 0 {
		dur = rest.DefaultRestSeconds
	}

	t.s.State = models.StateResting
	t.s.Rest = rec
	t.s.RestDurationSeconds = dur
	t.s.RestRemainingSeconds = dur
	if t.s.RestHistory == nil {
		t.s.RestHistory = make(map[string][]int)
	}
	t.s.RestHistory[ex.ExerciseID] = append(t.s.RestHistory[ex.ExerciseID], dur)

	t.notify(notify.KindRestSuggested, func(n *notify.Notification) {
		if rec != nil {
			r := *rec
			n.Rest = &r
		} else {
			n.Rest = &models.RestRecommendation{Suggested: dur}
		}
	})
}

func (t *txn) extendRest(e ExtendRest) bool {
	if t.s.State != models.StateResting || e.Seconds <= 0 {
		return false
	}
	t.s.RestRemainingSeconds += e.Seconds
	t.s.RestDurationSeconds += e.Seconds
	if ex := t.restExercise(); t.s.RestHistory != nil {
		if h := t.s.RestHistory[ex.ExerciseID]; len(h) > 0 {
			h[len(h)-1] += e.Seconds
		}
	}
	return true
}

// finish enters a terminal state. Leaving a live session publishes its summary
// and metrics, stops the tasks, flushes and saves. Between terminal states
// only the state and reason change.
func (t *txn) finish(state models.State, reason string) bool {
	wasTerminal := t.s.State.Terminal()
	if wasTerminal && t.s.State == state && (reason == "" || reason == t.s.EmergencyReason) {
		return false
	}
	if t.s.State == models.StatePaused {
		t.endPause()
	}
	t.s.State = state
	if reason != "" {
		t.s.EmergencyReason = reason
	}
	if wasTerminal {
		return true
	}

	now := t.env.Now
	t.s.EndedAt = &now
	t.s.RestRemainingSeconds = 0

	if t.s.ID != uuid.Nil {
		t.enqueueTotals()
	}
	t.emit(StopTasks{})
	t.emit(Flush{})
	t.emit(Save{})

	if state == models.StateEmergencyStop {
		t.notify(notify.KindEmergencyStop, func(n *notify.Notification) { n.Reason = t.s.EmergencyReason })
	} else {
		t.notify(notify.KindWorkoutCompleted, func(n *notify.Notification) {
			m := t.s.Metrics.Clone()
			n.Metrics = &m
		})
	}
	return true
}

// enqueueTotals publishes the session summary followed by its metrics.
func (t *txn) enqueueTotals() {
	t.enqueue(outbox.SessionPayload{Session: t.s.Summary()})
	t.enqueue(outbox.MetricsPayload{Metrics: models.MetricsRecord{
		SessionID:  t.s.ID,
		UserID:     t.s.UserID,
		ComputedAt: t.env.Now,
		Metrics:    t.s.Metrics.Clone(),
	}})
}

func (t *txn) reportVitals(e ReportVitals) bool {
	changed := false
	if e.HeartRate > 0 && e.HeartRate != t.s.Vitals.HeartRate {
		t.s.Vitals.HeartRate = e.HeartRate
		changed = true
	}
	if e.Hydration > 0 && e.Hydration != t.s.Vitals.Hydration {
		t.s.Vitals.Hydration = e.Hydration
		changed = true
	}
	return changed
}

func (t *txn) tick() bool {
	if !t.s.State.Ticking() {
		return false
	}
	t.s.ElapsedSeconds++
	if t.s.State == models.StateResting && t.s.RestRemainingSeconds > 0 {
		t.s.RestRemainingSeconds--
		if t.s.RestRemainingSeconds == 0 {
			t.s.State = models.StateWorking
			t.notify(notify.KindRestFinished, nil)
		}
	}
	return true
}

func (t *txn) connectivity(e ConnectivityChanged) bool {
	if e.Online == t.s.Online {
		return false
	}
	t.s.Online = e.Online
	t.emit(SetOnline{Online: e.Online})
	if !e.Online && t.s.State != models.StateIdle && !t.s.State.Terminal() {
		t.notify(notify.KindOfflineMode, func(n *notify.Notification) { n.Pending = t.s.PendingChanges })
	}
	return true
}

func (t *txn) syncStatus(e SyncStatusChanged) bool {
	t.s.PendingChanges = e.Pending
	if e.LastSyncAt != nil {
		ts := *e.LastSyncAt
		t.s.LastSyncAt = &ts
	}
	if e.Pending == 0 {
		t.s.SyncStatus = models.SyncSynced
	} else {
		t.s.SyncStatus = models.SyncPending
	}
	if e.NewlyDropped > 0 {
		t.notify(notify.KindSyncDropped, func(n *notify.Notification) {
			n.Dropped = e.NewlyDropped
			n.Pending = e.Pending
		})
	}
	return true
}

func (t *txn) endPause() {
	if t.s.PausedAt != nil {
		t.s.TotalPauseSeconds += int(t.env.Now.Sub(*t.s.PausedAt) / time.Second)
		t.s.PausedAt = nil
	}
}

// predict asks the predictor for a rest after a set of ex. Without a
// predictor there is no recommendation.
func (t *txn) predict(ex models.ExerciseContext) *models.RestRecommendation {
	if t.env.Predictor == nil {
		return nil
	}
	sig := rest.Signals{
		HeartRate:     t.s.Vitals.HeartRate,
		Hydration:     t.s.Vitals.Hydration,
		Now:           t.env.Now,
		PreviousRests: t.s.RestHistory[ex.ExerciseID],
	}
	if n := len(t.s.Sets); n > 0 && t.s.Sets[n-1].ExerciseID == ex.ExerciseID {
		sig.CurrentEffort = t.s.Sets[n-1].Effort
	}
	rec := t.env.Predictor.Predict(ex, t.s.Metrics, sig)
	return &rec
}

// restExercise is the exercise a rest belongs to: the current one, else that
// of the last set.
func (t *txn) restExercise() models.ExerciseContext {
	if t.s.CurrentExercise != nil {
		return t.s.CurrentExercise.Clone()
	}
	if n := len(t.s.Sets); n > 0 {
		ex := t.lookup(t.s.Sets[n-1].ExerciseID)
		ex.SetIndex = t.s.NextSetNumber(ex.ExerciseID) - 1
		return ex
	}
	return models.ExerciseContext{ExerciseID: UnspecifiedExercise}
}

// lookup resolves id from the session plan, then the catalog. Unknown ids get
// a bare context.
func (t *txn) lookup(id string) models.ExerciseContext {
	for _, ex := range t.s.Plan {
		if ex.ExerciseID == id {
			return ex.Clone()
		}
	}
	if t.env.Catalog != nil {
		if ex, ok := t.env.Catalog.Exercise(id); ok {
			return ex.Clone()
		}
	}
	return models.ExerciseContext{ExerciseID: id}
}

// nextPlanned returns the plan exercise after the current one, or else the
// first plan exercise not yet started.
func (t *txn) nextPlanned() string {
	if cur := t.s.CurrentExercise; cur != nil {
		for i, ex := range t.s.Plan {
			if ex.ExerciseID == cur.ExerciseID && i+1 < len(t.s.Plan) {
				return t.s.Plan[i+1].ExerciseID
			}
		}
	}
	for _, ex := range t.s.Plan {
		seen := false
		for _, id := range t.s.ExerciseOrder {
			if id == ex.ExerciseID {
				seen = true
				break
			}
		}
		if !seen {
			return ex.ExerciseID
		}
	}
	return ""
}

func (t *txn) touch(id string) {
	for _, v := range t.s.ExerciseOrder {
		if v == id {
			return
		}
	}
	t.s.ExerciseOrder = append(t.s.ExerciseOrder, id)
}

func (t *txn) emit(e Effect) {
	t.effects = append(t.effects, e)
}

// enqueue requests a queue append and reflects it in the sync fields at once,
// so sync status is pending whenever the queue is non-empty.
func (t *txn) enqueue(p outbox.Payload) {
	t.emit(Enqueue{Payload: p})
	t.s.PendingChanges++
	t.s.SyncStatus = models.SyncPending
}

func (t *txn) notify(kind notify.Kind, fill func(*notify.Notification)) {
	n := notify.Notification{
		Kind:      kind,
		UserID:    t.s.UserID,
		SessionID: t.s.ID,
		At:        t.env.Now,
		State:     t.s.State,
	}
	if fill != nil {
		fill(&n)
	}
	t.emit(Notify{Notification: n})
}

// archived returns an idle slot for s's user that keeps the sync bookkeeping.
func archived(s models.Session) models.Session {
	next := models.NewSession(s.UserID)
	next.PendingChanges = s.PendingChanges
	next.LastSyncAt = s.LastSyncAt
	next.SyncStatus = s.SyncStatus
	next.Online = s.Online
	next.Vitals = s.Vitals
	return next
}

// clampEffort keeps a reported effort within 1..10. Zero or less means not reported.
func clampEffort(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(10, math.Max(1, v))
}

// coaching derives advisory recommendations from the session.
func coaching(s models.Session) []string {
	var out []string
	m := s.Metrics
	if m.FatigueIndex > 8 {
		out = append(out, "high fatigue: consider lighter loads or ending the session")
	}
	if m.TotalSets > 0 && m.AverageEffort > 8.5 {
		out = append(out, "average effort above 8.5: take longer rests")
	}
	if n := len(s.Sets); n > 0 {
		if e := s.Sets[n-1].Effort; e > 0 && e < 6 {
			out = append(out, "last set felt easy: increase the load")
		}
	}
	if !s.Online && s.PendingChanges > 0 {
		out = append(out, fmt.Sprintf("offline: %d changes will sync when connectivity returns", s.PendingChanges))
	}
	return out
}
