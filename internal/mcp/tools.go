package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -7)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// userFor resolves the user a call is scoped to. The transport identity wins
// over the user_id argument.
func userFor(ctx context.Context, req mcp.CallToolRequest) (string, bool) {
	if uid := UserIDFromContext(ctx); uid != "" {
		return uid, true
	}
	uid := req.GetString("user_id", "")
	return uid, uid != ""
}

// --- Tool definitions ---

var toolListSessions = mcp.NewTool("list_sessions",
	mcp.WithDescription("List synced workout sessions, newest first. Returns state, duration, total sets and volume per session."),
	mcp.WithString("user_id", mcp.Description("User to query when the connection is not already scoped to one.")),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithNumber("limit", mcp.Description("Maximum sessions to return. Defaults to 20.")),
)

var toolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription("Get one workout session with every set and its final metrics (volume, effort, fatigue index, per-muscle volume)."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Session ID (UUID)")),
	mcp.WithString("user_id", mcp.Description("User to query when the connection is not already scoped to one.")),
)

var toolGetWorkSets = mcp.NewTool("get_work_sets",
	mcp.WithDescription("Query completed sets with weight, reps and effort. Optionally filter by exercise ID."),
	mcp.WithString("user_id", mcp.Description("User to query when the connection is not already scoped to one.")),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
	mcp.WithString("exercise", mcp.Description("Exercise ID (e.g. 'squat')")),
)

var toolGetTrainingStats = mcp.NewTool("get_training_stats",
	mcp.WithDescription("All-time totals: sessions, sets, volume, and per-exercise sets, reps, volume, max weight and average effort."),
	mcp.WithString("user_id", mcp.Description("User to query when the connection is not already scoped to one.")),
)

var toolCompareSessions = mcp.NewTool("compare_sessions",
	mcp.WithDescription("Compare two sessions side by side: totals and metrics of each plus the volume difference."),
	mcp.WithString("a", mcp.Required(), mcp.Description("First session ID")),
	mcp.WithString("b", mcp.Required(), mcp.Description("Second session ID")),
	mcp.WithString("user_id", mcp.Description("User to query when the connection is not already scoped to one.")),
)

// --- Tool handlers ---

func (h *handlers) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := userFor(ctx, req)
	if !ok {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	limit := req.GetInt("limit", 20)

	sessions, err := h.ds.ListSessions(ctx, uid, start, end, limit)
	if err != nil {
		h.log.Error("mcp list_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := userFor(ctx, req)
	if !ok {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	idStr, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid session id"), nil
	}

	detail, err := h.ds.GetSession(ctx, id, uid)
	if err != nil {
		h.log.Error("mcp get_session", "session_id", id, "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(detail)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWorkSets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := userFor(ctx, req)
	if !ok {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	sets, err := h.ds.QuerySets(ctx, uid, start, end, req.GetString("exercise", ""))
	if err != nil {
		h.log.Error("mcp get_work_sets", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sets)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getTrainingStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := userFor(ctx, req)
	if !ok {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	stats, err := h.ds.GetUserStats(ctx, uid)
	if err != nil {
		h.log.Error("mcp get_training_stats", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(stats)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) compareSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := userFor(ctx, req)
	if !ok {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	var details [2]any
	var volumes [2]float64
	for i, key := range []string{"a", "b"} {
		idStr, err := req.RequireString(key)
		if err != nil {
			return mcp.NewToolResultError(key + " parameter is required"), nil
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return mcp.NewToolResultError("invalid session id for " + key), nil
		}
		d, err := h.ds.GetSession(ctx, id, uid)
		if err != nil {
			h.log.Error("mcp compare_sessions", "session_id", id, "error", err)
			return mcp.NewToolResultError("query failed for " + key + ": " + err.Error()), nil
		}
		details[i] = d
		volumes[i] = d.TotalVolume
	}

	result, err := mcp.NewToolResultJSON(map[string]any{
		"a":           details[0],
		"b":           details[1],
		"volume_diff": volumes[1] - volumes[0],
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

// --- Resources ---

func (h *handlers) recentSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uid := UserIDFromContext(ctx)
	end := time.Now()
	start := end.AddDate(0, 0, -14)

	sessions, err := h.ds.ListSessions(ctx, uid, start, end, 100)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
