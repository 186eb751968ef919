package mcp

import (
	"context"
	"time"

	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/storage"
	"github.com/google/uuid"
)

// DataSource abstracts the data layer for MCP tools. Both *storage.DB (local)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	ListSessions(ctx context.Context, userID string, start, end time.Time, limit int) ([]models.SessionSummary, error)
	GetSession(ctx context.Context, id uuid.UUID, userID string) (*models.SessionDetail, error)
	QuerySets(ctx context.Context, userID string, start, end time.Time, exercise string) ([]models.WorkSet, error)
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
}

// Compile-time check: *storage.DB satisfies DataSource.
var _ DataSource = (*storage.DB)(nil)
