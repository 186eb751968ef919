package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/outbox"
	"github.com/claude/repsession/internal/remote"
	"github.com/claude/repsession/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

type memStore struct {
	mu       sync.Mutex
	sets     map[uuid.UUID]models.WorkSet
	sessions map[uuid.UUID]models.SessionSummary
	metrics  map[uuid.UUID]models.MetricsRecord
	down     bool
}

func newMemStore() *memStore {
	return &memStore{
		sets:     map[uuid.UUID]models.WorkSet{},
		sessions: map[uuid.UUID]models.SessionSummary{},
		metrics:  map[uuid.UUID]models.MetricsRecord{},
	}
}

func (m *memStore) UpsertSet(_ context.Context, s models.WorkSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[s.ID] = s
	return nil
}

func (m *memStore) UpsertSession(_ context.Context, s models.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) UpsertMetrics(_ context.Context, r models.MetricsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[r.SessionID] = r
	return nil
}

func (m *memStore) Ping(context.Context) error {
	if m.down {
		return errors.New("down")
	}
	return nil
}

func (m *memStore) ListSessions(_ context.Context, userID string, _, _ time.Time, _ int) ([]models.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SessionSummary
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID, userID string) (*models.SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, storage.ErrNotFound
	}
	d := &models.SessionDetail{SessionSummary: s}
	for _, set := range m.sets {
		if set.SessionID == id {
			d.Sets = append(d.Sets, set)
		}
	}
	if rec, ok := m.metrics[id]; ok {
		d.Metrics = &rec
	}
	return d, nil
}

func (m *memStore) QuerySets(_ context.Context, userID string, _, _ time.Time, exercise string) ([]models.WorkSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkSet
	for _, s := range m.sets {
		if s.UserID == userID && (exercise == "" || s.ExerciseID == exercise) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetUserStats(_ context.Context, userID string) (*models.UserStats, error) {
	sessions, _ := m.ListSessions(context.Background(), userID, time.Time{}, time.Time{}, 0)
	return &models.UserStats{TotalSessions: int64(len(sessions))}, nil
}

func newTestServer(t *testing.T) (*memStore, *httptest.Server) {
	t.Helper()
	store := newMemStore()
	srv := httptest.NewServer(New(store, testKey, "test", slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)
	return store, srv
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func validSet(sessionID uuid.UUID) models.WorkSet {
	return models.WorkSet{
		ID: uuid.New(), SessionID: sessionID, UserID: "alice", ExerciseID: "squat",
		SetNumber: 1, WeightKg: 100, Reps: 5, Effort: 8, CompletedAt: time.Now(), Completed: true,
	}
}

// TestUpsertSetIdempotent verifies a redelivered set leaves one record.
func TestUpsertSetIdempotent(t *testing.T) {
	store, srv := newTestServer(t)
	set := validSet(uuid.New())
	url := srv.URL + "/api/v1/sets/" + set.ID.String()

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPut, url, set).StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPut, url, set).StatusCode)
	assert.Len(t, store.sets, 1)
}

// TestUpsertRejectsBadInput verifies id reconciliation and validation.
func TestUpsertRejectsBadInput(t *testing.T) {
	_, srv := newTestServer(t)

	set := validSet(uuid.Nil)
	resp := do(t, http.MethodPut, srv.URL+"/api/v1/sets/"+uuid.NewString(), set)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "id mismatch")

	bad := validSet(uuid.Nil)
	bad.Reps = -1
	resp = do(t, http.MethodPut, srv.URL+"/api/v1/sets/"+bad.ID.String(), bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "negative reps")

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/sets/not-a-uuid", validSet(uuid.Nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "bad path id")

	sum := models.SessionSummary{UserID: "alice", State: "sprinting"}
	resp = do(t, http.MethodPut, srv.URL+"/api/v1/sessions/"+uuid.NewString(), sum)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "unknown state")
}

// TestUpsertTakesPathID verifies a body without an id is keyed by the path.
func TestUpsertTakesPathID(t *testing.T) {
	store, srv := newTestServer(t)
	id := uuid.New()
	sum := models.SessionSummary{UserID: "alice", State: models.StateWorking}

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/sessions/"+id.String(), sum)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, store.sessions, id)
}

// TestAPIRequiresKey verifies the API group is protected.
func TestAPIRequiresKey(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/sessions?user_id=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestReadEndpoints verifies listing, detail and user scoping.
func TestReadEndpoints(t *testing.T) {
	store, srv := newTestServer(t)
	id := uuid.New()
	store.sessions[id] = models.SessionSummary{ID: id, UserID: "alice", State: models.StateCompleted, TotalVolume: 1500}
	store.sets[uuid.New()] = validSet(id)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/sessions?user_id=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+id.String()+"?user_id=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail models.SessionDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Len(t, detail.Sets, 1)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+id.String()+"?user_id=bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sets", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "user_id required")

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sets?user_id=bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, "[]", string(body))
}

// TestHealthz verifies the health endpoint follows the database.
func TestHealthz(t *testing.T) {
	store, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	store.down = true
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestMetricsEndpoint verifies request metrics are labelled by route pattern.
func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t)
	set := validSet(uuid.New())
	do(t, http.MethodPut, srv.URL+"/api/v1/sets/"+set.ID.String(), set)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `route="/api/v1/sets/{id}"`)
	assert.Contains(t, string(body), "repsession_upserts_total")
}

// TestQueueDeliversThroughClient drives the change queue against the real
// handlers through the HTTP client and checks every record lands.
func TestQueueDeliversThroughClient(t *testing.T) {
	store, srv := newTestServer(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := remote.NewClient(srv.URL, remote.WithAPIKey(testKey), remote.WithRateLimit(0, 0))
	q := outbox.New(client, log)

	sessID := uuid.New()
	sum := models.SessionSummary{ID: sessID, UserID: "alice", State: models.StateCompleted, TotalSets: 1, TotalVolume: 500}
	q.Enqueue(outbox.SessionPayload{Session: sum})
	q.Enqueue(outbox.SetPayload{Set: validSet(sessID)})
	q.Enqueue(outbox.MetricsPayload{Metrics: models.MetricsRecord{
		SessionID: sessID, UserID: "alice", ComputedAt: time.Now(),
		Metrics: models.Metrics{TotalVolume: 500, TotalSets: 1},
	}})

	q.SetOnline(true)
	st := q.Flush(context.Background())
	assert.Equal(t, 0, st.Pending)
	assert.Len(t, store.sets, 1)
	assert.Equal(t, sum.TotalVolume, store.sessions[sessID].TotalVolume)
	assert.InDelta(t, 500, store.metrics[sessID].Metrics.TotalVolume, 1e-9)
}
