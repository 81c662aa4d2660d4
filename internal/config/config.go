// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Gate    GateConfig    `mapstructure:"gate"`
	Store   StoreConfig   `mapstructure:"store"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig holds the orchestrator defaults for new sessions.
type CrawlConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	UserAgent       string `mapstructure:"user_agent"`
	MaxDepthDefault int    `mapstructure:"max_depth_default"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	MinBodyBytes    int    `mapstructure:"min_body_bytes"`
	RetryAttempts   int    `mapstructure:"retry_attempts"`
}

// FetchConfig governs the executors.
type FetchConfig struct {
	TimeoutSeconds    int  `mapstructure:"timeout_seconds"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs     int  `mapstructure:"settle_delay_ms"`
	StealthPerMinute  int  `mapstructure:"stealth_per_minute"`
	CaptchaWaitSec    int  `mapstructure:"captcha_wait_seconds"`
	SolveCaptchas     bool `mapstructure:"solve_captchas"`
}

// GateConfig bounds concurrent browser fetches.
type GateConfig struct {
	MaxConcurrent  int `mapstructure:"max_concurrent"`
	WaitTimeoutSec int `mapstructure:"wait_timeout_seconds"`
}

// StoreConfig selects and configures the durable store provider.
type StoreConfig struct {
	Provider     string `mapstructure:"provider"` // memory | badger | postgres
	BadgerPath   string `mapstructure:"badger_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// BlobConfig selects and configures the raw-HTML snapshot store.
type BlobConfig struct {
	Provider  string `mapstructure:"provider"` // none | memory | local | gcs
	LocalPath string `mapstructure:"local_path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects the crawl event publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"` // none | memory | pubsub
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.user_agent", "prowl/1.0")
	v.SetDefault("crawl.max_depth_default", 3)
	v.SetDefault("crawl.max_pages_default", 100)
	v.SetDefault("crawl.min_body_bytes", 128)
	v.SetDefault("crawl.retry_attempts", 3)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.nav_timeout_seconds", 60)
	v.SetDefault("fetch.settle_delay_ms", 1000)
	v.SetDefault("fetch.stealth_per_minute", 10)
	v.SetDefault("fetch.captcha_wait_seconds", 30)
	v.SetDefault("fetch.solve_captchas", false)
	v.SetDefault("gate.max_concurrent", 3)
	v.SetDefault("gate.wait_timeout_seconds", 120)
	v.SetDefault("store.provider", "badger")
	v.SetDefault("store.badger_path", "data/prowl")
	v.SetDefault("store.max_open_conns", 8)
	v.SetDefault("blob.provider", "none")
	v.SetDefault("blob.local_path", "data/blobs")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("events.provider", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Gate.MaxConcurrent <= 0 {
		return fmt.Errorf("gate.max_concurrent must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Provider {
	case "memory", "badger", "postgres":
	default:
		return fmt.Errorf("store.provider %q is not one of memory, badger, postgres", c.Store.Provider)
	}
	if c.Store.Provider == "badger" && c.Store.BadgerPath == "" {
		return fmt.Errorf("store.badger_path must be set for the badger provider")
	}
	if c.Store.Provider == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn must be set for the postgres provider")
	}
	switch c.Blob.Provider {
	case "none", "memory", "local", "gcs":
	default:
		return fmt.Errorf("blob.provider %q is not one of none, memory, local, gcs", c.Blob.Provider)
	}
	if c.Blob.Provider == "gcs" && c.Blob.GCSBucket == "" {
		return fmt.Errorf("blob.gcs_bucket must be set for the gcs provider")
	}
	switch c.Events.Provider {
	case "none", "memory", "pubsub":
	default:
		return fmt.Errorf("events.provider %q is not one of none, memory, pubsub", c.Events.Provider)
	}
	if c.Events.Provider == "pubsub" && c.Events.ProjectID == "" {
		return fmt.Errorf("events.project_id must be set for the pubsub provider")
	}
	return nil
}

// FetchTimeout returns the static-fetch budget as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout returns the browser navigation budget as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSeconds) * time.Second
}

// SettleDelay returns the post-load settle wait as a duration.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Fetch.SettleDelayMs) * time.Millisecond
}

// GateWaitTimeout returns the admission-gate wait budget as a duration.
func (c Config) GateWaitTimeout() time.Duration {
	return time.Duration(c.Gate.WaitTimeoutSec) * time.Second
}

// CaptchaWait returns the manual captcha solving window as a duration.
func (c Config) CaptchaWait() time.Duration {
	return time.Duration(c.Fetch.CaptchaWaitSec) * time.Second
}

// ShutdownTimeout returns the graceful-shutdown budget as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
