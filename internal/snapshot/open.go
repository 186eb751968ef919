package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend kinds accepted by OpenBackend.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// BackendConfig selects and configures a snapshot backend.
type BackendConfig struct {
	Kind  string      `yaml:"backend"`
	Dir   string      `yaml:"dir"`
	Redis RedisConfig `yaml:"redis"`
}

// OpenBackend opens the backend named by cfg.Kind. ttl bounds how long Redis
// keeps a snapshot; the other backends ignore it.
func OpenBackend(ctx context.Context, cfg BackendConfig, ttl time.Duration, log *slog.Logger) (Backend, error) {
	switch cfg.Kind {
	case BackendSQLite, "":
		return OpenSQLite(cfg.Dir)
	case BackendRedis:
		return NewRedisBackend(ctx, cfg.Redis, ttl)
	case BackendBadger:
		return OpenBadger(cfg.Dir, log)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Kind)
	}
}
