// Package config loads and validates crawl service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the session controller and pipeline behavior.
type CrawlerConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	ClaimBatchSize   int    `mapstructure:"claim_batch_size"`
	UserAgent        string `mapstructure:"user_agent"`
	MaxDepthDefault  int    `mapstructure:"max_depth_default"`
	MaxPagesDefault  int    `mapstructure:"max_pages_default"`
	SettleChecks     int    `mapstructure:"settle_checks"`
	SettleIntervalMs int    `mapstructure:"settle_interval_ms"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	StoreRetries     int    `mapstructure:"store_retries"`
	StoreBackoffMs   int    `mapstructure:"store_backoff_ms"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
// PromotionThresh is the body length below which script-heavy documents
// are re-fetched with a browser.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects and parameterizes the raw-HTML blob store.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"` // gcs | local | memory
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the Postgres frontier store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for session-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ReaperConfig controls stale-claim recovery.
type ReaperConfig struct {
	StaleAfterSeconds int `mapstructure:"stale_after_seconds"`
	IntervalSeconds   int `mapstructure:"interval_seconds"`
	MaxAttempts       int `mapstructure:"max_attempts"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKOPT")
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
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.claim_batch_size", 4)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; InternalLinkAnalyzer/2.0; +https://example.com/bot)")
	v.SetDefault("crawler.max_depth_default", 3)
	v.SetDefault("crawler.max_pages_default", 100)
	v.SetDefault("crawler.settle_checks", 5)
	v.SetDefault("crawler.settle_interval_ms", 2000)
	v.SetDefault("crawler.poll_interval_ms", 2000)
	v.SetDefault("crawler.store_retries", 3)
	v.SetDefault("crawler.store_backoff_ms", 250)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("reaper.stale_after_seconds", 300)
	v.SetDefault("reaper.interval_seconds", 60)
	v.SetDefault("reaper.max_attempts", 3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.ClaimBatchSize <= 0 {
		return fmt.Errorf("crawler.claim_batch_size must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when provider is local")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Reaper.StaleAfterSeconds <= 0 {
		return fmt.Errorf("reaper.stale_after_seconds must be > 0")
	}
	if c.Reaper.MaxAttempts <= 0 {
		return fmt.Errorf("reaper.max_attempts must be > 0")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SettleInterval is the wait between completion re-checks.
func (c Config) SettleInterval() time.Duration {
	return time.Duration(c.Crawler.SettleIntervalMs) * time.Millisecond
}

// PollInterval is the wait between empty-claim polls.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalMs) * time.Millisecond
}

// StoreBackoff is the base backoff between transient store retries.
func (c Config) StoreBackoff() time.Duration {
	return time.Duration(c.Crawler.StoreBackoffMs) * time.Millisecond
}

// StaleAfter is how long a claimed task may sit before the reaper reclaims it.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Reaper.StaleAfterSeconds) * time.Second
}

// ReaperInterval is the period of the reclaim loop.
func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSeconds) * time.Second
}
