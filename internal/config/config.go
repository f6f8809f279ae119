package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Chat      ChatConfig      `yaml:"chat"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	ForumSync ForumSyncConfig `yaml:"forum_sync"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds rollup store connection settings
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ChatConfig holds chat-platform gateway settings. The gateway is a
// sidecar that exposes the platform's history and audit log as plain
// JSON; backfill runs against it rather than the vendor API directly.
type ChatConfig struct {
	GatewayURL            string `yaml:"gateway_url"`
	Token                 string `yaml:"token"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// RequestTimeout returns the per-request timeout against the gateway.
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// BackfillConfig holds chat-history import settings
type BackfillConfig struct {
	LookbackDays       int `yaml:"lookback_days"`
	ProgressTTLMinutes int `yaml:"progress_ttl_minutes"`
	LockTTLMinutes     int `yaml:"lock_ttl_minutes"`
}

// ProgressTTL returns how long terminal progress records are retained.
func (c BackfillConfig) ProgressTTL() time.Duration {
	return time.Duration(c.ProgressTTLMinutes) * time.Minute
}

// LockTTL returns the per-guild backfill lock duration.
func (c BackfillConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// ForumSyncConfig holds forum importer settings
type ForumSyncConfig struct {
	IntervalMinutes       int `yaml:"interval_minutes"`
	LookbackDays          int `yaml:"lookback_days"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	MaxRetries            int `yaml:"max_retries"`
}

// Interval returns the sync loop period.
func (c ForumSyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RequestTimeout returns the per-request timeout against the forum API.
func (c ForumSyncConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Chat.RequestTimeoutSeconds == 0 {
		cfg.Chat.RequestTimeoutSeconds = 15
	}
	if cfg.Backfill.LookbackDays == 0 {
		cfg.Backfill.LookbackDays = 30
	}
	if cfg.Backfill.ProgressTTLMinutes == 0 {
		cfg.Backfill.ProgressTTLMinutes = 60
	}
	if cfg.Backfill.LockTTLMinutes == 0 {
		cfg.Backfill.LockTTLMinutes = 120
	}
	if cfg.ForumSync.IntervalMinutes == 0 {
		cfg.ForumSync.IntervalMinutes = 5
	}
	if cfg.ForumSync.LookbackDays == 0 {
		cfg.ForumSync.LookbackDays = 7
	}
	if cfg.ForumSync.RequestTimeoutSeconds == 0 {
		cfg.ForumSync.RequestTimeoutSeconds = 10
	}
	if cfg.ForumSync.MaxRetries == 0 {
		cfg.ForumSync.MaxRetries = 3
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from a YAML file (if present) and
// overrides selected values from environment variables. A missing file
// is not an error; defaults plus env apply.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env for local development
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg, _ = defaults()
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if url := os.Getenv("CHAT_GATEWAY_URL"); url != "" {
		cfg.Chat.GatewayURL = url
	}
	if token := os.Getenv("CHAT_GATEWAY_TOKEN"); token != "" {
		cfg.Chat.Token = token
	}
	if days := os.Getenv("BACKFILL_LOOKBACK_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil && d > 0 {
			cfg.Backfill.LookbackDays = d
		}
	}
	if mins := os.Getenv("FORUM_SYNC_INTERVAL_MINUTES"); mins != "" {
		if m, err := strconv.Atoi(mins); err == nil && m > 0 {
			cfg.ForumSync.IntervalMinutes = m
		}
	}

	return cfg, nil
}

func defaults() (*Config, error) {
	return &Config{
		Server:    ServerConfig{Host: "localhost", Port: 8080},
		Redis:     RedisConfig{URL: "redis://localhost:6379/0"},
		Chat:      ChatConfig{RequestTimeoutSeconds: 15},
		Backfill:  BackfillConfig{LookbackDays: 30, ProgressTTLMinutes: 60, LockTTLMinutes: 120},
		ForumSync: ForumSyncConfig{IntervalMinutes: 5, LookbackDays: 7, RequestTimeoutSeconds: 10, MaxRetries: 3},
	}, nil
}
