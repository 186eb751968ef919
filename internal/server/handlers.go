package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/storage"
	"github.com/claude/repsession/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleUpsertSet(w http.ResponseWriter, r *http.Request) {
	var set models.WorkSet
	if !s.decodeKeyed(w, r, &set, &set.ID) {
		return
	}
	if err := s.db.UpsertSet(r.Context(), set); err != nil {
		s.log.Error("upsert set", "set_id", set.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	telemetry.RecordUpsert("set")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertSession(w http.ResponseWriter, r *http.Request) {
	var sum models.SessionSummary
	if !s.decodeKeyed(w, r, &sum, &sum.ID) {
		return
	}
	if !sum.State.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown state " + string(sum.State)})
		return
	}
	if err := s.db.UpsertSession(r.Context(), sum); err != nil {
		s.log.Error("upsert session", "session_id", sum.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	telemetry.RecordUpsert("session")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertMetrics(w http.ResponseWriter, r *http.Request) {
	var rec models.MetricsRecord
	if !s.decodeKeyed(w, r, &rec, &rec.SessionID) {
		return
	}
	if err := s.db.UpsertMetrics(r.Context(), rec); err != nil {
		s.log.Error("upsert metrics", "session_id", rec.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	telemetry.RecordUpsert("metrics")
	w.WriteHeader(http.StatusNoContent)
}

// decodeKeyed decodes the body into v and reconciles its id with the {id} path
// parameter: an empty body id takes the path id, a different one is rejected.
func (s *Server) decodeKeyed(w http.ResponseWriter, r *http.Request, v any, id *uuid.UUID) bool {
	pathID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	if *id == uuid.Nil {
		*id = pathID
	}
	if *id != pathID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body id does not match path"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	sessions, err := s.db.ListSessions(r.Context(), uid, start, end, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	detail, err := s.db.GetSession(r.Context(), id, uid)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleQuerySets(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sets, err := s.db.QuerySets(r.Context(), uid, start, end, r.URL.Query().Get("exercise"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sets == nil {
		sets = []models.WorkSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	stats, err := s.db.GetUserStats(r.Context(), uid)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := r.URL.Query().Get("user_id")
	if uid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id parameter required"})
		return "", false
	}
	return uid, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 7 days
		end = time.Now()
		start = end.AddDate(0, 0, -7)
		return
	}

	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}
	return
}
