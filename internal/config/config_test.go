package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  enable_auth: true
  jwt_secret: topsecret
state:
  dir: /var/lib/access-engine
cache:
  backend: redis
  ttl: 30s
  redis:
    host: cache.internal
    port: 6380
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableAuth)
	assert.Equal(t, "/var/lib/access-engine", cfg.State.Dir)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "cache.internal", cfg.Cache.Redis.Host)
	assert.Equal(t, 6380, cfg.Cache.Redis.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "access_engine", cfg.Metrics.Namespace)
	assert.Equal(t, 256, cfg.Notify.QueueDepth)
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `
state:
  dir: data/state
audit:
  enabled: true
  file:
    enabled: true
    path: logs/audit.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	configDir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(configDir, "data/state"), cfg.State.Dir)
	assert.Equal(t, filepath.Join(configDir, "logs/audit.log"), cfg.Audit.File.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = -1 }, "port"},
		{"auth without secret", func(c *Config) { c.Server.EnableAuth = true }, "jwt_secret"},
		{"empty state dir", func(c *Config) { c.State.Dir = "" }, "state dir"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "backend"},
		{"non-positive cache size", func(c *Config) { c.Cache.Size = 0 }, "cache size"},
		{"audit without sink", func(c *Config) { c.Audit.Enabled = true }, "sink"},
		{
			"postgres without dsn",
			func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.Postgres.Enabled = true
			},
			"dsn",
		},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"negative queue depth", func(c *Config) { c.Notify.QueueDepth = -1 }, "queue depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
