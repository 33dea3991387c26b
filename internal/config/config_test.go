package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Server.MaxChapters)
	assert.Equal(t, "tadu", cfg.Source.Profile)
	assert.Equal(t, BackendColly, cfg.HTTP.Backend)
	assert.Equal(t, 2, cfg.HTTP.MaxRetries)
	assert.Equal(t, BackoffFixed, cfg.HTTP.Backoff)
	assert.Equal(t, 15, cfg.Pools.Items)
	assert.Equal(t, 10, cfg.Pools.SubItems)
	assert.Equal(t, 15*time.Second, cfg.AttemptTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.RetryDelay())
	assert.Equal(t, 25*time.Second, cfg.NavigationTimeout())
	assert.Equal(t, 2048, cfg.Headless.PromotionThreshold)
	assert.Equal(t, "catalog-harvester", cfg.Telemetry.ServiceName)
	assert.Equal(t, ExporterNone, cfg.Telemetry.Exporter)
	assert.Empty(t, cfg.HTTP.Proxy)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
  max_chapters: 20
source:
  profile: writerworking
  origin: http://mirror.test
  user_agent: harvester-test
http:
  backend: headless
  timeout_seconds: 5
  max_retries: 4
  retry_delay_ms: 250
  backoff: exponential
  backoff_max_ms: 800
  requests_per_second: 2.5
  burst: 3
  proxy: http://proxy.local:3128
headless:
  max_parallel: 2
  nav_timeout_seconds: 30
  block_assets: false
pools:
  items: 3
  sub_items: 4
logging:
  development: true
  file: /tmp/harvester.log
telemetry:
  exporter: stdout
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.MaxChapters)
	assert.Equal(t, SourceConfig{Profile: "writerworking", Origin: "http://mirror.test", UserAgent: "harvester-test"}, cfg.Source)
	assert.Equal(t, BackendHeadless, cfg.HTTP.Backend)
	assert.Equal(t, BackoffExponential, cfg.HTTP.Backoff)
	assert.InDelta(t, 2.5, cfg.HTTP.RequestsPerSecond, 0.001)
	assert.Equal(t, 3, cfg.HTTP.Burst)
	assert.Equal(t, "http://proxy.local:3128", cfg.HTTP.Proxy)
	assert.Equal(t, ExporterStdout, cfg.Telemetry.Exporter)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay())
	assert.Equal(t, HeadlessConfig{MaxParallel: 2, NavTimeoutSec: 30, BlockAssets: false, PromotionThreshold: 2048}, cfg.Headless)
	assert.Equal(t, PoolsConfig{Items: 3, SubItems: 4}, cfg.Pools)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "/tmp/harvester.log", cfg.Logging.File)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_POOLS_ITEMS", "7")
	t.Setenv("HARVESTER_HTTP_BACKEND", "resty")
	t.Setenv("PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pools.Items)
	assert.Equal(t, BackendResty, cfg.HTTP.Backend)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pools:\n  items: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pools.items")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080, MaxChapters: 10},
		Source: SourceConfig{Profile: "tadu"},
		HTTP:   HTTPConfig{Backend: BackendColly, TimeoutSeconds: 10, MaxRetries: 2, Backoff: BackoffFixed},
		Pools:  PoolsConfig{Items: 1, SubItems: 1},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid max chapters", func(c *Config) { c.Server.MaxChapters = 0 }, "server.max_chapters"},
		{"missing profile", func(c *Config) { c.Source.Profile = "" }, "source.profile"},
		{"unknown backend", func(c *Config) { c.HTTP.Backend = "curl" }, "http.backend"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"invalid retries", func(c *Config) { c.HTTP.MaxRetries = 0 }, "http.max_retries"},
		{"negative delay", func(c *Config) { c.HTTP.RetryDelayMs = -1 }, "http.retry_delay_ms"},
		{"unknown backoff", func(c *Config) { c.HTTP.Backoff = "linear" }, "http.backoff"},
		{"relative proxy", func(c *Config) { c.HTTP.Proxy = "proxy.local:3128" }, "http.proxy"},
		{"malformed proxy", func(c *Config) { c.HTTP.Proxy = "://nowhere" }, "http.proxy"},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "jaeger" }, "telemetry.exporter"},
		{"negative rps", func(c *Config) { c.HTTP.RequestsPerSecond = -1 }, "http.requests_per_second"},
		{"headless missing max parallel", func(c *Config) { c.HTTP.Backend = BackendHeadless }, "headless.max_parallel"},
		{"auto missing max parallel", func(c *Config) { c.HTTP.Backend = BackendAuto }, "headless.max_parallel"},
		{"invalid item pool", func(c *Config) { c.Pools.Items = 0 }, "pools.items"},
		{"invalid sub-item pool", func(c *Config) { c.Pools.SubItems = 0 }, "pools.sub_items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
