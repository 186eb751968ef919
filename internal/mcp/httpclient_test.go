package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
)

// newTestServer creates an httptest server that routes requests to handler functions
// keyed by path. Verifies the HTTP client sends correct paths and query params.
func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "k" {
			t.Errorf("X-API-Key = %q, want k", got)
		}
		h, ok := handlers[r.URL.Path]
		if !ok {
			t.Errorf("unexpected request path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatal(err)
	}
}

// TestHTTPListSessions verifies the query params and the decoded array.
func TestHTTPListSessions(t *testing.T) {
	id := uuid.New()
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/sessions": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if got := q.Get("user_id"); got != "alice" {
				t.Errorf("user_id=%q, want alice", got)
			}
			if got := q.Get("limit"); got != "5" {
				t.Errorf("limit=%q, want 5", got)
			}
			if got := q.Get("start"); got != "2026-01-01T00:00:00Z" {
				t.Errorf("start=%q", got)
			}
			writeTestJSON(t, w, []models.SessionSummary{{ID: id, UserID: "alice", State: models.StateCompleted, TotalSets: 12}})
		},
	})
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "k")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions, err := client.ListSessions(context.Background(), "alice", start, start.AddDate(0, 0, 7), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != id || sessions[0].TotalSets != 12 {
		t.Errorf("sessions = %+v", sessions)
	}
}

// TestHTTPGetSession verifies the id-keyed path and nested decoding.
func TestHTTPGetSession(t *testing.T) {
	id := uuid.New()
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/sessions/" + id.String(): func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, models.SessionDetail{
				SessionSummary: models.SessionSummary{ID: id, UserID: "alice"},
				Sets:           []models.WorkSet{{ID: uuid.New(), ExerciseID: "squat", Reps: 5}},
				Metrics:        &models.MetricsRecord{SessionID: id, Metrics: models.Metrics{TotalVolume: 500}},
			})
		},
	})
	defer ts.Close()

	detail, err := NewHTTPClient(ts.URL, "k").GetSession(context.Background(), id, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Sets) != 1 || detail.Metrics == nil || detail.Metrics.Metrics.TotalVolume != 500 {
		t.Errorf("detail = %+v", detail)
	}
}

// TestHTTPQuerySetsExerciseFilter verifies the exercise filter is forwarded.
func TestHTTPQuerySetsExerciseFilter(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/sets": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("exercise"); got != "squat" {
				t.Errorf("exercise=%q, want squat", got)
			}
			writeTestJSON(t, w, []models.WorkSet{{ExerciseID: "squat"}, {ExerciseID: "squat"}})
		},
	})
	defer ts.Close()

	now := time.Now()
	sets, err := NewHTTPClient(ts.URL, "k").QuerySets(context.Background(), "alice", now.Add(-time.Hour), now, "squat")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Errorf("got %d sets, want 2", len(sets))
	}
}

// TestHTTPErrorStatus verifies non-200 responses become errors.
func TestHTTPErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/stats": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		},
	})
	defer ts.Close()

	if _, err := NewHTTPClient(ts.URL, "k").GetUserStats(context.Background(), "alice"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
