// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Bus      BusConfig      `mapstructure:"bus"`
	DB       DBConfig       `mapstructure:"db"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
}

// ScraperConfig selects the source backend and game version to target.
type ScraperConfig struct {
	Source    string   `mapstructure:"source"`
	VersionID string   `mapstructure:"version_id"`
	Factions  []string `mapstructure:"factions"`
}

// UpstreamConfig identifies the crawled site and its politeness limits.
type UpstreamConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	UserAgent    string  `mapstructure:"user_agent"`
	RateLimitMin float64 `mapstructure:"rate_limit_min"`
	RateLimitMax float64 `mapstructure:"rate_limit_max"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffFactorSec int `mapstructure:"backoff_factor_seconds"`
}

// BusConfig controls the message bus connection and recent-buffer bounds.
type BusConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	Source        string `mapstructure:"source"`
	RecentLimit   int    `mapstructure:"recent_limit"`
	RecentTTLSecs int    `mapstructure:"recent_ttl_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN disables
// scrape-log persistence.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MetricsConfig controls the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("scraper.source", "wahapedia")
	v.SetDefault("scraper.version_id", "10th")
	v.SetDefault("upstream.base_url", "https://wahapedia.ru")
	v.SetDefault("upstream.user_agent", "Warhammer40kMetaAnalysis/1.0 (Educational Project; Respectful Scraping)")
	v.SetDefault("upstream.rate_limit_min", 2.0)
	v.SetDefault("upstream.rate_limit_max", 3.0)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_factor_seconds", 1)
	v.SetDefault("bus.nats_url", "nats://localhost:4222")
	v.SetDefault("bus.source", "wahapedia-scraper")
	v.SetDefault("bus.recent_limit", 100)
	v.SetDefault("bus.recent_ttl_seconds", 3600)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.Source == "" {
		return fmt.Errorf("scraper.source must be set")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	if c.Upstream.RateLimitMin < 0 || c.Upstream.RateLimitMax < c.Upstream.RateLimitMin {
		return fmt.Errorf("upstream rate limit range [%v, %v] is invalid",
			c.Upstream.RateLimitMin, c.Upstream.RateLimitMax)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Bus.RecentLimit <= 0 {
		return fmt.Errorf("bus.recent_limit must be > 0")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffFactor converts the retry backoff config into a duration.
func (c Config) BackoffFactor() time.Duration {
	return time.Duration(c.HTTP.BackoffFactorSec) * time.Second
}

// RecentTTL converts the recent-buffer expiry config into a duration.
func (c Config) RecentTTL() time.Duration {
	return time.Duration(c.Bus.RecentTTLSecs) * time.Second
}
