package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Render     RenderConfig     `yaml:"render" mapstructure:"render"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32       `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32       `yaml:"min_conns" mapstructure:"min_conns"`
	Retry       RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient connection failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// FetchConfig configures the static HTTP fetcher.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	StaticTimeoutSecs int     `yaml:"static_timeout_secs" mapstructure:"static_timeout_secs"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	FailureThreshold  int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RenderConfig configures headless-browser fetching.
type RenderConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Browser          string `yaml:"browser" mapstructure:"browser"`
	Headless         bool   `yaml:"headless" mapstructure:"headless"`
	MaxSessions      int    `yaml:"max_sessions" mapstructure:"max_sessions"`
	NavTimeoutSecs   int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	ReadyTimeoutSecs int    `yaml:"ready_timeout_secs" mapstructure:"ready_timeout_secs"`
	SettleDelayMs    int    `yaml:"settle_delay_ms" mapstructure:"settle_delay_ms"`
}

// SourcesConfig points at an optional YAML file of extra source configs.
type SourcesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// BatchConfig configures batch rescans.
type BatchConfig struct {
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures the compliance health checker.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours              int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StaleAfterHours            int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	NoncomplianceRateThreshold float64 `yaml:"noncompliance_rate_threshold" mapstructure:"noncompliance_rate_threshold"`
	StaleProductsThreshold     int     `yaml:"stale_products_threshold" mapstructure:"stale_products_threshold"`
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMPLIANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can override it.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "compliance.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.retry.max_attempts", 3)
	v.SetDefault("store.retry.initial_backoff_ms", 500)
	v.SetDefault("store.retry.max_backoff_ms", 5000)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.static_timeout_secs", 30)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.rate_per_sec", 2.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.failure_threshold", 5)
	v.SetDefault("fetch.reset_timeout_secs", 60)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.browser", "chromium")
	v.SetDefault("render.headless", true)
	v.SetDefault("render.max_sessions", 2)
	v.SetDefault("render.nav_timeout_secs", 30)
	v.SetDefault("render.ready_timeout_secs", 10)
	v.SetDefault("render.settle_delay_ms", 2000)
	v.SetDefault("sources.file", "")
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("batch.default_limit", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.stale_after_hours", 72)
	v.SetDefault("monitoring.noncompliance_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_products_threshold", 50)
	v.SetDefault("monitoring.webhook_url", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: scan, batch,
// serve. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "scan", "batch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Fetch.StaticTimeoutSecs <= 0 {
		errs = append(errs, "fetch.static_timeout_secs must be > 0")
	}
	if c.Fetch.RatePerSec < 0 {
		errs = append(errs, "fetch.rate_per_sec must be >= 0")
	}
	if c.Render.Enabled {
		switch c.Render.Browser {
		case "chromium", "firefox", "webkit":
		default:
			errs = append(errs, fmt.Sprintf("render.browser must be chromium, firefox or webkit, got %q", c.Render.Browser))
		}
		if c.Render.MaxSessions <= 0 {
			errs = append(errs, "render.max_sessions must be > 0")
		}
	}

	if mode == "batch" || mode == "serve" {
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 100 {
			errs = append(errs, "batch.concurrency must be between 1 and 100")
		}
	}
	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled {
			if r := c.Monitoring.NoncomplianceRateThreshold; r < 0 || r > 1 {
				errs = append(errs, "monitoring.noncompliance_rate_threshold must be between 0 and 1")
			}
			if c.Monitoring.CheckIntervalSecs <= 0 {
				errs = append(errs, "monitoring.check_interval_secs must be > 0")
			}
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
