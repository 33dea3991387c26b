// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetch backends selectable through http.backend.
const (
	BackendColly    = "colly"
	BackendResty    = "resty"
	BackendHeadless = "headless"
	// BackendAuto probes with colly and promotes script-rendered pages to headless.
	BackendAuto = "auto"
)

// Backoff strategies selectable through http.backoff.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Span exporters selectable through telemetry.exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Pools     PoolsConfig     `mapstructure:"pools"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// MaxChapters caps num_chapters on /crawl.
	MaxChapters int `mapstructure:"max_chapters"`
}

// SourceConfig selects the site profile.
type SourceConfig struct {
	Profile   string `mapstructure:"profile"`
	Origin    string `mapstructure:"origin"`
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPConfig configures the fetch backend and its retry behavior.
type HTTPConfig struct {
	Backend           string  `mapstructure:"backend"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelayMs      int     `mapstructure:"retry_delay_ms"`
	Backoff           string  `mapstructure:"backoff"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	Proxy             string  `mapstructure:"proxy"`
}

// HeadlessConfig configures the browser backend.
type HeadlessConfig struct {
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	BlockAssets   bool `mapstructure:"block_assets"`
	// PromotionThreshold is the body size under which a script-heavy probe
	// is re-rendered by the auto backend.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// PoolsConfig sets the two concurrency ceilings.
type PoolsConfig struct {
	Items    int `mapstructure:"items"`
	SubItems int `mapstructure:"sub_items"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	// Exporter ships finished spans; "none" keeps them in-process for log
	// correlation only.
	Exporter string `mapstructure:"exporter"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Hosting platforms inject a bare PORT.
	if err := v.BindEnv("server.port", "HARVESTER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_chapters", 200)
	v.SetDefault("source.profile", "tadu")
	v.SetDefault("source.origin", "")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("http.backend", BackendColly)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.retry_delay_ms", 100)
	v.SetDefault("http.backoff", BackoffFixed)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.proxy", "")
	v.SetDefault("headless.max_parallel", 4)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.block_assets", true)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("pools.items", 15)
	v.SetDefault("pools.sub_items", 10)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("telemetry.service_name", "catalog-harvester")
	v.SetDefault("telemetry.tracing_enabled", true)
	v.SetDefault("telemetry.exporter", ExporterNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxChapters <= 0 {
		return fmt.Errorf("server.max_chapters must be > 0")
	}
	if c.Source.Profile == "" {
		return fmt.Errorf("source.profile must be set")
	}
	switch c.HTTP.Backend {
	case BackendColly, BackendResty, BackendHeadless, BackendAuto:
	default:
		return fmt.Errorf("http.backend must be one of %s; got %q",
			strings.Join([]string{BackendColly, BackendResty, BackendHeadless, BackendAuto}, ", "), c.HTTP.Backend)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.HTTP.RetryDelayMs < 0 {
		return fmt.Errorf("http.retry_delay_ms must be >= 0")
	}
	switch c.HTTP.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("http.backoff must be %s or %s; got %q", BackoffFixed, BackoffExponential, c.HTTP.Backoff)
	}
	if c.HTTP.Proxy != "" {
		u, err := url.Parse(c.HTTP.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("http.proxy must be an absolute URL; got %q", c.HTTP.Proxy)
		}
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if (c.HTTP.Backend == BackendHeadless || c.HTTP.Backend == BackendAuto) && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when a browser backend is selected")
	}
	switch c.Telemetry.Exporter {
	case "", ExporterNone, ExporterStdout:
	default:
		return fmt.Errorf("telemetry.exporter must be %s or %s; got %q", ExporterNone, ExporterStdout, c.Telemetry.Exporter)
	}
	if c.Pools.Items <= 0 {
		return fmt.Errorf("pools.items must be > 0")
	}
	if c.Pools.SubItems <= 0 {
		return fmt.Errorf("pools.sub_items must be > 0")
	}
	return nil
}

// AttemptTimeout is the per-attempt fetch timeout.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryDelay is the fixed pause between attempts, and the base of the
// exponential schedule.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelayMs) * time.Millisecond
}

// NavigationTimeout bounds a single headless page load.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
