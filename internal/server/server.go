package server

import (
	"context"
	"log/slog"
	"net/http"

	sessionmcp "github.com/claude/repsession/internal/mcp"
	"github.com/claude/repsession/internal/models"
	"github.com/claude/repsession/internal/storage"
	"github.com/claude/repsession/internal/telemetry"
	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Store is the persistence the remote data service needs.
type Store interface {
	sessionmcp.DataSource
	UpsertSet(ctx context.Context, set models.WorkSet) error
	UpsertSession(ctx context.Context, sum models.SessionSummary) error
	UpsertMetrics(ctx context.Context, rec models.MetricsRecord) error
	Ping(ctx context.Context) error
}

var _ Store = (*storage.DB)(nil)

// Server holds dependencies for HTTP handlers.
type Server struct {
	db      Store
	log     *slog.Logger
	apiKey  string
	version string
	router  chi.Router
}

// New creates a new Server with all routes configured.
func New(db Store, apiKey, version string, log *slog.Logger) *Server {
	telemetry.Init()
	s := &Server{
		db:      db,
		log:     log,
		apiKey:  apiKey,
		version: version,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(Instrument)
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", telemetry.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))

		// Idempotent upserts from the change queue
		r.Put("/sets/{id}", s.handleUpsertSet)
		r.Put("/sessions/{id}", s.handleUpsertSession)
		r.Put("/sessions/{id}/metrics", s.handleUpsertMetrics)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sets", s.handleQuerySets)
		r.Get("/stats", s.handleStats)
	})

	mcpHTTP := mcpserver.NewStreamableHTTPServer(
		sessionmcp.New(s.db, s.version, s.log),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if uid := r.Header.Get("X-User-ID"); uid != "" {
				return sessionmcp.WithUserID(ctx, uid)
			}
			return ctx
		}),
	)
	s.router.With(APIKeyAuth(s.apiKey)).Handle("/mcp", mcpHTTP)
}
