package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "MAKERSPOOL_"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	ArchivePath string `yaml:"archive_path"`
	ArchiveDays int    `yaml:"archive_days"`
}

type SchedulerConfig struct {
	FinishCheckInterval time.Duration `yaml:"finish_check_interval"`
	SnapshotInterval    time.Duration `yaml:"snapshot_interval"`
}

type AuthConfig struct {
	TokenDuration time.Duration `yaml:"token_duration"`
	// JWTSecret is generated and stored in the settings table when empty.
	JWTSecret string `yaml:"jwt_secret"`
}

type WebhookTarget struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type WebhooksConfig struct {
	Targets     []WebhookTarget `yaml:"targets"`
	RetryCount  int             `yaml:"retry_count"`
	RetryDelay  time.Duration   `yaml:"retry_delay"`
	Timeout     time.Duration   `yaml:"timeout"`
	WorkerCount int             `yaml:"worker_count"`
	QueueSize   int             `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/makerspool.db",
			ArchivePath: "./data/archives",
			ArchiveDays: 30,
		},
		Scheduler: SchedulerConfig{
			FinishCheckInterval: 30 * time.Second,
			SnapshotInterval:    time.Minute,
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configPath on top of the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromEnv() (*Config, error) {
	cfg := defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := env("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT: %w", envPrefix, err)
		}
		c.Server.Port = port
	}

	if v := env("DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := env("ARCHIVE_PATH"); v != "" {
		c.Database.ArchivePath = v
	}

	if v := env("ARCHIVE_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sARCHIVE_DAYS: %w", envPrefix, err)
		}
		c.Database.ArchiveDays = days
	}

	if v := env("FINISH_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sFINISH_CHECK_INTERVAL: %w", envPrefix, err)
		}
		c.Scheduler.FinishCheckInterval = d
	}

	if v := env("SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sSNAPSHOT_INTERVAL: %w", envPrefix, err)
		}
		c.Scheduler.SnapshotInterval = d
	}

	if v := env("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	if v := env("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	if v := env("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.ArchiveDays < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if c.Scheduler.FinishCheckInterval <= 0 {
		return fmt.Errorf("finish check interval must be positive")
	}

	if c.Scheduler.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot interval must be positive")
	}

	if c.Auth.TokenDuration <= 0 {
		return fmt.Errorf("token duration must be positive")
	}

	for i, t := range c.Webhooks.Targets {
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			return fmt.Errorf("webhook target %d: url must be http or https, got %q", i, t.URL)
		}
	}

	if c.Webhooks.RetryCount < 1 {
		return fmt.Errorf("webhook retry count must be at least 1")
	}

	if c.Webhooks.RetryDelay < 0 {
		return fmt.Errorf("webhook retry delay must be non-negative")
	}

	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	if c.Webhooks.QueueSize < 1 {
		return fmt.Errorf("webhook queue size must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
