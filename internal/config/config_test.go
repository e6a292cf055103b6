package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Scheduler.FinishCheckInterval != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "makerspool.yaml")
	yml := `
server:
  port: 9000
scheduler:
  finish_check_interval: 10s
webhooks:
  targets:
    - url: https://hooks.example.com/fleet
      secret: s3cret
      events: [job_started, job_finished]
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MAKERSPOOL_PORT", "9100")
	t.Setenv("MAKERSPOOL_LOG_FORMAT", "TEXT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env should override file port, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.FinishCheckInterval != 10*time.Second {
		t.Fatalf("finish interval = %v", cfg.Scheduler.FinishCheckInterval)
	}
	if cfg.Scheduler.SnapshotInterval != time.Minute {
		t.Fatalf("unset keys should keep defaults, got %v", cfg.Scheduler.SnapshotInterval)
	}
	if len(cfg.Webhooks.Targets) != 1 || len(cfg.Webhooks.Targets[0].Events) != 2 {
		t.Fatalf("targets = %+v", cfg.Webhooks.Targets)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("MAKERSPOOL_SNAPSHOT_INTERVAL", "soon")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"db path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"finish interval", func(c *Config) { c.Scheduler.FinishCheckInterval = 0 }, "finish check"},
		{"token", func(c *Config) { c.Auth.TokenDuration = 0 }, "token duration"},
		{"webhook url", func(c *Config) {
			c.Webhooks.Targets = []WebhookTarget{{URL: "ftp://x"}}
		}, "webhook target 0"},
		{"workers", func(c *Config) { c.Webhooks.WorkerCount = 0 }, "worker count"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
