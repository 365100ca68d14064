// Package config loads the server configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	State   StateConfig   `yaml:"state"`
	Cache   CacheConfig   `yaml:"cache"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// ServerConfig configures the REST API listener
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
	EnableAuth   bool          `yaml:"enable_auth"`
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTIssuer    string        `yaml:"jwt_issuer"`
}

// StateConfig configures state persistence
type StateConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"` // reload on external file changes
}

// CacheConfig configures the decision cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"` // "memory" or "redis"
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis cache backend
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AuditConfig configures the decision audit trail
type AuditConfig struct {
	Enabled  bool                `yaml:"enabled"`
	File     AuditFileConfig     `yaml:"file"`
	Postgres AuditPostgresConfig `yaml:"postgres"`
}

// AuditFileConfig configures the rotating audit log file
type AuditFileConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// AuditPostgresConfig configures the audit event database
type AuditPostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"` // run schema migrations on startup
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// MetricsConfig configures Prometheus metrics export
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NotifyConfig configures listener notification delivery
type NotifyConfig struct {
	QueueDepth int `yaml:"queue_depth"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			EnableCORS:   true,
		},
		State: StateConfig{
			Dir: "state",
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			Size:    100000,
			TTL:     5 * time.Minute,
			Redis: RedisConfig{
				Host:     "localhost",
				Port:     6379,
				PoolSize: 10,
			},
		},
		Audit: AuditConfig{
			File: AuditFileConfig{
				Path:       "audit/decisions.log",
				MaxSizeMB:  100,
				MaxAgeDays: 30,
				MaxBackups: 10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "access_engine",
		},
		Notify: NotifyConfig{
			QueueDepth: 256,
		},
	}
}

// Load reads a YAML configuration file and merges it over the
// defaults. Relative paths resolve against the config file's
// directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	configDir := filepath.Dir(path)
	if !filepath.IsAbs(cfg.State.Dir) {
		cfg.State.Dir = filepath.Join(configDir, cfg.State.Dir)
	}
	if cfg.Audit.File.Path != "" && !filepath.IsAbs(cfg.Audit.File.Path) {
		cfg.Audit.File.Path = filepath.Join(configDir, cfg.Audit.File.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.EnableAuth && c.Server.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required when enable_auth is set")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state dir must not be empty")
	}
	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.Backend != "redis" && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.Cache.Size)
	}
	if c.Audit.Enabled && !c.Audit.File.Enabled && !c.Audit.Postgres.Enabled {
		return fmt.Errorf("audit enabled but no audit sink configured")
	}
	if c.Audit.Postgres.Enabled && c.Audit.Postgres.DSN == "" {
		return fmt.Errorf("audit postgres dsn must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Notify.QueueDepth < 0 {
		return fmt.Errorf("notify queue depth must not be negative")
	}
	return nil
}
