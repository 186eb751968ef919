package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/claude/repsession/internal/rest"
	"github.com/claude/repsession/internal/snapshot"
	"gopkg.in/yaml.v3"
)

// Config holds both halves of the system: the remote data service
// (server, database, auth, tailscale) and the device-side session engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Engine    EngineConfig    `yaml:"engine"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// EngineConfig configures the device-side session engine.
type EngineConfig struct {
	UserID    string `yaml:"user_id"`
	RemoteURL string `yaml:"remote_url"`
	Catalog   string `yaml:"catalog"`

	Snapshot       snapshot.BackendConfig `yaml:"snapshot"`
	RecoveryWindow time.Duration          `yaml:"recovery_window"`

	TickInterval     time.Duration `yaml:"tick_interval"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`

	// RateLimit caps requests per second to the remote data service. Zero disables pacing.
	RateLimit float64 `yaml:"rate_limit"`

	Predictor rest.Config `yaml:"predictor"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Default returns a config with the engine timings and predictor preferences filled in.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Snapshot:         snapshot.BackendConfig{Kind: snapshot.BackendSQLite, Dir: "."},
			RecoveryWindow:   snapshot.DefaultRecoveryWindow,
			TickInterval:     time.Second,
			AutosaveInterval: 30 * time.Second,
			FlushTimeout:     30 * time.Second,
			RetryInterval:    15 * time.Second,
			ProbeInterval:    10 * time.Second,
			RateLimit:        10,
			Predictor:        rest.DefaultConfig(),
		},
	}
}

// LoadServer reads the config for the remote data service and validates the
// server, database and auth sections.
func LoadServer(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateServer(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadEngine reads the config for the session engine and validates the engine section.
func LoadEngine(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateEngine(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// load reads config from a YAML file over the defaults, then applies
// environment variable overrides. Env vars use the prefix REPSESSION_:
//
//	REPSESSION_SERVER_HOST, REPSESSION_SERVER_PORT,
//	REPSESSION_DB_HOST, REPSESSION_DB_PORT, REPSESSION_DB_NAME,
//	REPSESSION_DB_USER, REPSESSION_DB_PASSWORD, REPSESSION_DB_SSLMODE,
//	REPSESSION_AUTH_API_KEY, REPSESSION_TAILSCALE_ENABLED,
//	REPSESSION_USER_ID, REPSESSION_REMOTE_URL, REPSESSION_CATALOG,
//	REPSESSION_SNAPSHOT_BACKEND, REPSESSION_SNAPSHOT_DIR, REPSESSION_REDIS_ADDR
func load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("REPSESSION_SERVER_HOST", &cfg.Server.Host)
	setInt("REPSESSION_SERVER_PORT", &cfg.Server.Port)
	setString("REPSESSION_DB_HOST", &cfg.Database.Host)
	setInt("REPSESSION_DB_PORT", &cfg.Database.Port)
	setString("REPSESSION_DB_NAME", &cfg.Database.Name)
	setString("REPSESSION_DB_USER", &cfg.Database.User)
	setString("REPSESSION_DB_PASSWORD", &cfg.Database.Password)
	setString("REPSESSION_DB_SSLMODE", &cfg.Database.SSLMode)
	setString("REPSESSION_AUTH_API_KEY", &cfg.Auth.APIKey)
	if v := os.Getenv("REPSESSION_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}

	setString("REPSESSION_USER_ID", &cfg.Engine.UserID)
	setString("REPSESSION_REMOTE_URL", &cfg.Engine.RemoteURL)
	setString("REPSESSION_CATALOG", &cfg.Engine.Catalog)
	setString("REPSESSION_SNAPSHOT_BACKEND", &cfg.Engine.Snapshot.Kind)
	setString("REPSESSION_SNAPSHOT_DIR", &cfg.Engine.Snapshot.Dir)
	setString("REPSESSION_REDIS_ADDR", &cfg.Engine.Snapshot.Redis.Addr)
}

func (c *Config) validateServer() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	return nil
}

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.UserID == "" {
		return fmt.Errorf("engine.user_id is required")
	}
	switch e.Snapshot.Kind {
	case snapshot.BackendSQLite, snapshot.BackendBadger:
	case snapshot.BackendRedis:
		if e.Snapshot.Redis.Addr == "" {
			return fmt.Errorf("engine.snapshot.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("engine.snapshot.backend %q is not one of sqlite, redis, badger", e.Snapshot.Kind)
	}
	if e.RecoveryWindow <= 0 {
		return fmt.Errorf("engine.recovery_window must be positive")
	}
	if e.TickInterval <= 0 || e.AutosaveInterval <= 0 || e.FlushTimeout <= 0 {
		return fmt.Errorf("engine tick, autosave and flush intervals must be positive")
	}
	if e.RetryInterval < 0 || e.ProbeInterval < 0 || e.RateLimit < 0 {
		return fmt.Errorf("engine retry_interval, probe_interval and rate_limit must not be negative")
	}
	if e.Predictor.MaxHeartRate <= e.Predictor.RestingHeartRate {
		return fmt.Errorf("engine.predictor.max_heart_rate must exceed resting_heart_rate")
	}
	return nil
}
