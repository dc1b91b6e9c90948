package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LABELMINT_HOME", "/srv/labelmint")
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.Store.Dir != "/srv/labelmint" {
		t.Errorf("Store.Dir = %q, want LABELMINT_HOME", cfg.Store.Dir)
	}
	if cfg.Engine.MinReputation != 50 || cfg.Engine.MaxParticipants != 5 {
		t.Errorf("engine policy = %+v, want min 50, cap 5", cfg.Engine)
	}
	if !cfg.Engine.ExcludePreviousAssignee {
		t.Error("ExcludePreviousAssignee should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(default) = %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("LABELMINT_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[api]
port = 9000

[engine]
min_reputation = 70
honeypot_alpha = 0.1
read_retry_base = "10ms"

[sweeper]
interval = "5s"
auto_reassign = false

[events.redis]
enabled = true
addr = "redis:6379"
channel = "lm"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("unset keys should keep defaults, API.Host = %q", cfg.API.Host)
	}
	if !cfg.Events.Redis.Enabled || cfg.Events.Redis.Addr != "redis:6379" || cfg.Events.Redis.Channel != "lm" {
		t.Errorf("Events.Redis = %+v", cfg.Events.Redis)
	}

	ec := cfg.EngineSettings()
	if ec.MinReputation != 70 || ec.HoneypotAlpha != 0.1 {
		t.Errorf("EngineSettings() = %+v", ec)
	}
	if ec.ReadRetryBase != 10*time.Millisecond {
		t.Errorf("ReadRetryBase = %v, want 10ms", ec.ReadRetryBase)
	}
	if ec.MaxParticipants != 5 {
		t.Errorf("MaxParticipants = %d, want default 5", ec.MaxParticipants)
	}

	sc := cfg.SweeperSettings()
	if sc.Interval != 5*time.Second || sc.AutoReassign {
		t.Errorf("SweeperSettings() = %+v", sc)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("API.Port = %d, want default", cfg.API.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"reputation", func(c *Config) { c.Engine.MinReputation = 120 }, "min_reputation"},
		{"alpha", func(c *Config) { c.Engine.HoneypotAlpha = 1 }, "honeypot_alpha"},
		{"cap", func(c *Config) { c.Engine.MaxParticipants = 0 }, "max_participants"},
		{"level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"duration", func(c *Config) { c.Sweeper.Interval = "soon" }, "sweeper.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("LABELMINT_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Engine.MinReputation = 65

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.Engine.MinReputation != 65 {
		t.Errorf("MinReputation = %v, want 65", got.Engine.MinReputation)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelmint.log")
	logger, closer := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "file", File: path, MaxSizeMB: 1})
	logger.Named("engine").Info("task assigned")
	_ = logger.Sync()
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"task assigned"`) || !strings.Contains(string(data), `"logger":"engine"`) {
		t.Errorf("log file = %s", data)
	}
}

func TestDaemon_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Dir = t.TempDir()
	cfg.Logging.Output = "file"
	cfg.Logging.File = filepath.Join(cfg.Store.Dir, "labelmint.log")
	cfg.Sweeper.Interval = "50ms"

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	d.Start(context.Background())

	if _, err := d.Ledger.Balance(context.Background(), "project:p"); err != nil {
		t.Errorf("ledger not wired: %v", err)
	}
	stats, err := d.Engine.GetTaskStatistics(context.Background())
	if err != nil || stats.Total != 0 {
		t.Errorf("GetTaskStatistics() = %+v, %v", stats, err)
	}

	d.Close()
	d.Close() // idempotent
	if err := d.DB.Ping(context.Background()); err == nil {
		t.Error("store should be closed")
	}
}

func TestNewWithConfig_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Port = -1
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("NewWithConfig() should reject an invalid config")
	}
}
