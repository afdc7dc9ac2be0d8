// Package config loads and validates fetcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Lightweight LightweightConfig `mapstructure:"lightweight"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Budget      BudgetConfig      `mapstructure:"budget"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs batch fan-out and content limits.
type FetchConfig struct {
	MaxParallel      int `mapstructure:"max_parallel"`
	MaxContentSize   int `mapstructure:"max_content_size"`
	MinContentLength int `mapstructure:"min_content_length"`
}

// BrowserConfig configures the headless browser tier.
type BrowserConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Headless       bool          `mapstructure:"headless"`
	ChromePath     string        `mapstructure:"chrome_path"`
	PageTimeout    time.Duration `mapstructure:"page_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	WaitMinChars   int           `mapstructure:"wait_min_chars"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryJitter    time.Duration `mapstructure:"retry_jitter"`
}

// LightweightConfig configures the TLS-spoofing HTTP tier.
type LightweightConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig configures the Wayback Machine tier and its cache.
type ArchiveConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	CacheDir     string        `mapstructure:"cache_dir"`
	TTL          time.Duration `mapstructure:"ttl"`
	MinInterval  time.Duration `mapstructure:"min_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CDXEndpoint  string        `mapstructure:"cdx_endpoint"`
	SnapshotBase string        `mapstructure:"snapshot_base"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// RateLimitConfig sets per-domain concurrency and spacing.
type RateLimitConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
}

// DetectorConfig tunes soft-block classification. Empty phrases select the built-in list.
type DetectorConfig struct {
	Phrases           []string `mapstructure:"phrases"`
	MinMatches        int      `mapstructure:"min_matches"`
	ShortContentChars int      `mapstructure:"short_content_chars"`
}

// BudgetConfig points at the token usage file maintained by the agent runner.
type BudgetConfig struct {
	UsageFile      string `mapstructure:"usage_file"`
	MaxInputTokens int    `mapstructure:"max_input_tokens"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHER")
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

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("fetch.max_parallel", 5)
	v.SetDefault("fetch.max_content_size", 50000)
	v.SetDefault("fetch.min_content_length", 100)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.page_timeout", 45*time.Second)
	v.SetDefault("browser.settle_delay", 2*time.Second)
	v.SetDefault("browser.wait_min_chars", 1000)
	v.SetDefault("browser.max_retries", 2)
	v.SetDefault("browser.retry_base_delay", time.Second)
	v.SetDefault("browser.retry_jitter", 500*time.Millisecond)
	v.SetDefault("lightweight.enabled", true)
	v.SetDefault("lightweight.timeout", 15*time.Second)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.cache_dir", ".archive_cache")
	v.SetDefault("archive.ttl", 24*time.Hour)
	v.SetDefault("archive.min_interval", time.Second)
	v.SetDefault("archive.timeout", 20*time.Second)
	v.SetDefault("archive.cdx_endpoint", "https://web.archive.org/cdx/search/cdx")
	v.SetDefault("archive.snapshot_base", "https://web.archive.org/web")
	v.SetDefault("archive.user_agent", "digest-fetcher/1.0 (+archive fallback)")
	v.SetDefault("rate_limit.max_concurrent", 2)
	v.SetDefault("rate_limit.min_delay", time.Second)
	v.SetDefault("rate_limit.max_delay", 3*time.Second)
	v.SetDefault("detector.min_matches", 2)
	v.SetDefault("detector.short_content_chars", 1000)
	v.SetDefault("budget.usage_file", "research_history/current_token_usage.json")
	v.SetDefault("budget.max_input_tokens", 200000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.MaxParallel <= 0 {
		return errors.New("fetch.max_parallel must be > 0")
	}
	if c.Fetch.MaxContentSize <= 0 {
		return errors.New("fetch.max_content_size must be > 0")
	}
	if !c.Browser.Enabled && !c.Lightweight.Enabled {
		return errors.New("at least one of browser.enabled or lightweight.enabled must be true")
	}
	if c.Browser.Enabled && c.Browser.PageTimeout <= 0 {
		return errors.New("browser.page_timeout must be > 0 when the browser tier is enabled")
	}
	if c.Browser.MaxRetries < 0 {
		return errors.New("browser.max_retries must be >= 0")
	}
	if c.Lightweight.Timeout <= 0 {
		return errors.New("lightweight.timeout must be > 0")
	}
	if c.Archive.Enabled {
		if c.Archive.CacheDir == "" {
			return errors.New("archive.cache_dir must be set when the archive tier is enabled")
		}
		if c.Archive.TTL <= 0 {
			return errors.New("archive.ttl must be > 0")
		}
	}
	if c.RateLimit.MaxConcurrent <= 0 {
		return errors.New("rate_limit.max_concurrent must be > 0")
	}
	if c.RateLimit.MinDelay < 0 || c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		return fmt.Errorf("rate_limit delays must satisfy 0 <= min_delay (%s) <= max_delay (%s)",
			c.RateLimit.MinDelay, c.RateLimit.MaxDelay)
	}
	if c.Budget.MaxInputTokens < 0 {
		return errors.New("budget.max_input_tokens must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	return nil
}
