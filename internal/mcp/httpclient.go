package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/google/uuid"
)

// HTTPClient implements DataSource by calling the RepSession REST API.
// Used for stdio MCP mode where the binary runs on the device but the synced
// data lives on the remote data service.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func userParams(userID string, start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("user_id", userID)
	if !start.IsZero() {
		v.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		v.Set("end", end.Format(time.RFC3339))
	}
	return v
}

func (c *HTTPClient) ListSessions(ctx context.Context, userID string, start, end time.Time, limit int) ([]models.SessionSummary, error) {
	params := userParams(userID, start, end)
	params.Set("limit", strconv.Itoa(limit))

	var sessions []models.SessionSummary
	if err := c.get(ctx, "/api/v1/sessions", params, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id uuid.UUID, userID string) (*models.SessionDetail, error) {
	var detail models.SessionDetail
	if err := c.get(ctx, "/api/v1/sessions/"+id.String(), userParams(userID, time.Time{}, time.Time{}), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *HTTPClient) QuerySets(ctx context.Context, userID string, start, end time.Time, exercise string) ([]models.WorkSet, error) {
	params := userParams(userID, start, end)
	if exercise != "" {
		params.Set("exercise", exercise)
	}

	var sets []models.WorkSet
	if err := c.get(ctx, "/api/v1/sets", params, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func (c *HTTPClient) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	var stats models.UserStats
	if err := c.get(ctx, "/api/v1/stats", userParams(userID, time.Time{}, time.Time{}), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
