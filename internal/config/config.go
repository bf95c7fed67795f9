package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig describes the marketplace API the agent syncs against.
type RemoteConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token"`
	RequestTimeout string  `yaml:"request_timeout"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
}

type SyncConfig struct {
	MaxRetries      int    `yaml:"max_retries"`
	DebounceMs      int    `yaml:"debounce_ms"`
	ProbeInterval   string `yaml:"probe_interval"`
	CacheMaxAge     string `yaml:"cache_max_age"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// APIConfig configures the local control API consumed by the UI.
type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	HeaderAPIKey string   `yaml:"header_api_key"`
	APIKeys      []string `yaml:"api_keys"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Interval      string `yaml:"interval"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values from it feed the ${VAR} expansion below.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if _, err := time.ParseDuration(c.Remote.RequestTimeout); err != nil {
		return fmt.Errorf("invalid remote request_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.CacheMaxAge); err != nil {
		return fmt.Errorf("invalid sync cache_max_age: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "masterok-agent"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Remote.RequestTimeout == "" {
		c.Remote.RequestTimeout = "30s"
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.DebounceMs == 0 {
		c.Sync.DebounceMs = 500
	}
	if c.Sync.ProbeInterval == "" {
		c.Sync.ProbeInterval = "30s"
	}
	if c.Sync.CacheMaxAge == "" {
		c.Sync.CacheMaxAge = "24h"
	}
	if c.Sync.CleanupInterval == "" {
		c.Sync.CleanupInterval = "1h"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
}

// RequestTimeout returns the parsed remote request timeout.
func (c *RemoteConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Debounce returns the connectivity debounce window.
func (c *SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// MaxAge returns the parsed reference-cache expiry.
func (c *SyncConfig) MaxAge() time.Duration {
	d, err := time.ParseDuration(c.CacheMaxAge)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
