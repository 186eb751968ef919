package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/claude/repsession/internal/catalog"
	"github.com/claude/repsession/internal/connectivity"
	"github.com/claude/repsession/internal/notify"
	"github.com/claude/repsession/internal/remote"
	"github.com/claude/repsession/internal/rest"
	"github.com/claude/repsession/internal/session"
	"github.com/claude/repsession/internal/snapshot"
)

// openStore opens the configured snapshot backend wrapped in a Store.
func openStore(ctx context.Context) (*snapshot.Store, error) {
	backend, err := snapshot.OpenBackend(ctx, cfg.Engine.Snapshot, cfg.Engine.RecoveryWindow, log)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot backend: %w", err)
	}
	return snapshot.NewStore(backend, log, snapshot.WithRecoveryWindow(cfg.Engine.RecoveryWindow)), nil
}

// newEngine wires the session engine from config. The returned cleanup closes
// the engine (flushing and saving every open session) and then the store.
func newEngine(ctx context.Context) (*session.Engine, func(context.Context) error, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	e := cfg.Engine
	deps := session.Deps{
		Store:     store,
		Remote:    remote.NewClient(e.RemoteURL, remote.WithAPIKey(cfg.Auth.APIKey), remote.WithRateLimit(e.RateLimit, 5)),
		Notifier:  notify.NewLog(log),
		Predictor: rest.New(e.Predictor),
		Log:       log,
	}
	if e.RemoteURL != "" {
		deps.Connectivity = connectivity.NewProber(strings.TrimRight(e.RemoteURL, "/")+"/healthz", e.ProbeInterval, log)
	} else {
		log.Info("no remote_url configured, running offline")
		deps.Connectivity = connectivity.NewManual(false)
	}
	if e.Catalog != "" {
		cat, err := catalog.Load(e.Catalog)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		deps.Catalog = cat
	}

	eng := session.NewEngine(session.Config{
		TickInterval:     e.TickInterval,
		AutosaveInterval: e.AutosaveInterval,
		FlushTimeout:     e.FlushTimeout,
		RetryInterval:    e.RetryInterval,
	}, deps)

	cleanup := func(ctx context.Context) error {
		err := eng.Close(ctx)
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return eng, cleanup, nil
}
