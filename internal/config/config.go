// Package config handles configuration loading for volsurf.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Feed    FeedConfig    `mapstructure:"feed"    yaml:"feed"`
	Pricing PricingConfig `mapstructure:"pricing" yaml:"pricing"`
	Cache   CacheConfig   `mapstructure:"cache"   yaml:"cache"`
	Store   StoreConfig   `mapstructure:"store"   yaml:"store"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// FeedConfig holds market data source settings.
type FeedConfig struct {
	// RateLimitTokens and RateLimitIntervalMs define the token bucket
	// gating upstream requests: RateLimitTokens burst capacity, one
	// token minted per interval.
	RateLimitTokens     int `mapstructure:"rate_limit_tokens"      yaml:"rate_limit_tokens"`
	RateLimitIntervalMs int `mapstructure:"rate_limit_interval_ms" yaml:"rate_limit_interval_ms"`

	// RiskFreeRate is the annualized discount rate used for pricing.
	RiskFreeRate float64 `mapstructure:"risk_free_rate" yaml:"risk_free_rate"`

	// Symbols to build on `volsurf surface --all` and at server startup.
	Symbols []string `mapstructure:"symbols" yaml:"symbols"`
}

// PricingConfig holds solver settings.
type PricingConfig struct {
	Tolerance     float64 `mapstructure:"tolerance"      yaml:"tolerance"`
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// CacheConfig holds quote and surface cache settings.
type CacheConfig struct {
	QuoteTTLSec     int `mapstructure:"quote_ttl_sec"      yaml:"quote_ttl_sec"`
	SurfaceTTLSec   int `mapstructure:"surface_ttl_sec"    yaml:"surface_ttl_sec"`
	Capacity        int `mapstructure:"capacity"           yaml:"capacity"`
	AsOfIntervalSec int `mapstructure:"as_of_interval_sec" yaml:"as_of_interval_sec"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // "debug", "info", "warn", "error"
}

// RateLimitInterval returns the bucket refill interval as a duration.
func (f FeedConfig) RateLimitInterval() time.Duration {
	return time.Duration(f.RateLimitIntervalMs) * time.Millisecond
}

// QuoteTTL returns the quote cache TTL as a duration.
func (c CacheConfig) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLSec) * time.Second
}

// SurfaceTTL returns the surface cache TTL as a duration.
func (c CacheConfig) SurfaceTTL() time.Duration {
	return time.Duration(c.SurfaceTTLSec) * time.Second
}

// AsOfInterval returns the snapshot bucket width as a duration.
func (c CacheConfig) AsOfInterval() time.Duration {
	return time.Duration(c.AsOfIntervalSec) * time.Second
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.volsurf/config.yaml (home directory)
//  3. /etc/volsurf/config.yaml (system)
//
// A .env file in the working directory is loaded first if present.
// Environment variables override config file values.
// Format: VOLSURF_<SECTION>_<KEY>, e.g., VOLSURF_API_PORT.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".volsurf"))
	v.AddConfigPath("/etc/volsurf")

	v.SetEnvPrefix("VOLSURF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file not found is fine, defaults + env vars apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("VOLSURF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Feed.RateLimitTokens <= 0 {
		return fmt.Errorf("config: feed.rate_limit_tokens must be positive, got %d", c.Feed.RateLimitTokens)
	}
	if c.Feed.RateLimitIntervalMs <= 0 {
		return fmt.Errorf("config: feed.rate_limit_interval_ms must be positive, got %d", c.Feed.RateLimitIntervalMs)
	}
	if c.Pricing.Tolerance <= 0 {
		return fmt.Errorf("config: pricing.tolerance must be positive, got %v", c.Pricing.Tolerance)
	}
	if c.Pricing.MaxIterations <= 0 {
		return fmt.Errorf("config: pricing.max_iterations must be positive, got %d", c.Pricing.MaxIterations)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api.port out of range: %d", c.API.Port)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required when store.enabled")
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Feed defaults: CBOE CDN tolerates ~2 requests per second.
	v.SetDefault("feed.rate_limit_tokens", 2)
	v.SetDefault("feed.rate_limit_interval_ms", 500)
	v.SetDefault("feed.risk_free_rate", 0.03)
	v.SetDefault("feed.symbols", []string{"SPY"})

	// Pricing defaults.
	v.SetDefault("pricing.tolerance", 1e-6)
	v.SetDefault("pricing.max_iterations", 100)

	// Cache defaults.
	v.SetDefault("cache.quote_ttl_sec", 30)
	v.SetDefault("cache.surface_ttl_sec", 60)
	v.SetDefault("cache.capacity", 256)
	v.SetDefault("cache.as_of_interval_sec", 60)

	// Store defaults.
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", filepath.Join(homeDir(), ".volsurf", "surfaces.db"))

	// API defaults.
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults.
	v.SetDefault("logging.level", "info")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
