package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/claude/repsession/internal/telemetry"
)

// Engine holds at most one controller per user.
type Engine struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewEngine creates an Engine whose controllers share cfg and deps.
func NewEngine(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:         cfg,
		deps:        deps,
		controllers: make(map[string]*Controller),
	}
}

// Open returns the user's controller, opening and recovering it on first use.
func (e *Engine) Open(ctx context.Context, userID string) (*Controller, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.controllers[userID]; ok {
		return c, nil
	}
	c, err := Open(ctx, userID, e.cfg, e.deps)
	if err != nil {
		return nil, fmt.Errorf("opening session for %s: %w", userID, err)
	}
	e.controllers[userID] = c
	telemetry.SetActiveSessions(len(e.controllers))
	return c, nil
}

// Get returns the user's controller if it is open.
func (e *Engine) Get(userID string) (*Controller, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.controllers[userID]
	return c, ok
}

// Release closes the user's controller and frees its slot.
func (e *Engine) Release(ctx context.Context, userID string) error {
	e.mu.Lock()
	c, ok := e.controllers[userID]
	delete(e.controllers, userID)
	n := len(e.controllers)
	e.mu.Unlock()

	telemetry.SetActiveSessions(n)
	if !ok {
		return nil
	}
	return c.Close(ctx)
}

// Close closes every controller.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	open := e.controllers
	e.controllers = make(map[string]*Controller)
	e.mu.Unlock()
	telemetry.SetActiveSessions(0)

	var errs []error
	for user, c := range open {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session for %s: %w", user, err))
		}
	}
	return errors.Join(errs...)
}
