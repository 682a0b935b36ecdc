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
	GitHub  GitHubConfig  `mapstructure:"github"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Export  ExportConfig  `mapstructure:"export"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GitHubConfig governs the outbound GitHub API client.
type GitHubConfig struct {
	Token             string `mapstructure:"token"`
	BaseURL           string `mapstructure:"base_url"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	RequestDelayMs    int    `mapstructure:"request_delay_ms"`
	ReadmeConcurrency int    `mapstructure:"readme_concurrency"`
	DefaultMaxRepos   int    `mapstructure:"default_max_repos"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	TTLSeconds           int `mapstructure:"ttl_seconds"`
	MaxEntries           int `mapstructure:"max_entries"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// JobsConfig bounds background job execution and retention.
type JobsConfig struct {
	MaxConcurrent          int `mapstructure:"max_concurrent"`
	QueueDepth             int `mapstructure:"queue_depth"`
	TimeoutSeconds         int `mapstructure:"timeout_seconds"`
	RetentionHours         int `mapstructure:"retention_hours"`
	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes"`
}

// ExportConfig sets where export files are written.
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROFILEHOUND")
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
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.user_agent", "profilehound/0.1")
	v.SetDefault("github.timeout_seconds", 15)
	v.SetDefault("github.request_delay_ms", 250)
	v.SetDefault("github.readme_concurrency", 10)
	v.SetDefault("github.default_max_repos", 100)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.sweep_interval_minutes", 10)
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.timeout_seconds", 300)
	v.SetDefault("jobs.retention_hours", 24)
	v.SetDefault("jobs.cleanup_interval_minutes", 30)
	v.SetDefault("export.output_dir", "./data/exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.GitHub.BaseURL == "" {
		return fmt.Errorf("github.base_url must be set")
	}
	if c.GitHub.TimeoutSeconds <= 0 {
		return fmt.Errorf("github.timeout_seconds must be > 0")
	}
	if c.GitHub.ReadmeConcurrency <= 0 {
		return fmt.Errorf("github.readme_concurrency must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Jobs.TimeoutSeconds <= 0 {
		return fmt.Errorf("jobs.timeout_seconds must be > 0")
	}
	if c.Jobs.RetentionHours <= 0 {
		return fmt.Errorf("jobs.retention_hours must be > 0")
	}
	if c.Export.OutputDir == "" {
		return fmt.Errorf("export.output_dir must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CacheTTL returns the default cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// JobTimeout returns the watchdog budget for a single job execution.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// JobRetention returns how long terminal jobs are kept before cleanup.
func (c Config) JobRetention() time.Duration {
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}

// RequestDelay returns the pause between paginated GitHub requests.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.GitHub.RequestDelayMs) * time.Millisecond
}
