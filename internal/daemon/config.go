// Package daemon manages the LabelMint daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/labelmint/labelmint/internal/app/engine"
	"github.com/labelmint/labelmint/internal/infra/eventbus"
	"github.com/labelmint/labelmint/internal/infra/redisbus"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Store     StoreConfig     `toml:"store"`
	Engine    EngineConfig    `toml:"engine"`
	Sweeper   SweeperConfig   `toml:"sweeper"`
	Events    EventsConfig    `toml:"events"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
}

// StoreConfig controls the SQLite task store.
type StoreConfig struct {
	Dir string `toml:"dir"`
}

// EngineConfig holds the assignment and consensus policy.
type EngineConfig struct {
	MinReputation           float64 `toml:"min_reputation"`
	MinAccuracy             float64 `toml:"min_accuracy"`
	MaxParticipants         int     `toml:"max_participants"`
	HoneypotAlpha           float64 `toml:"honeypot_alpha"`
	ReputationReward        float64 `toml:"reputation_reward"`
	ReputationPenalty       float64 `toml:"reputation_penalty"`
	ExcludePreviousAssignee bool    `toml:"exclude_previous_assignee"`
	BatchConcurrency        int     `toml:"batch_concurrency"`
	ReadRetries             int     `toml:"read_retries"`
	ReadRetryBase           string  `toml:"read_retry_base"`
}

// SweeperConfig controls the periodic expiration sweep.
type SweeperConfig struct {
	Enabled      bool   `toml:"enabled"`
	Interval     string `toml:"interval"`
	AutoReassign bool   `toml:"auto_reassign"`
}

// EventsConfig controls the event bus and the optional Redis bridge.
type EventsConfig struct {
	Shards int         `toml:"shards"`
	Buffer int         `toml:"buffer"`
	Redis  RedisConfig `toml:"redis"`
}

// RedisConfig enables forwarding events to Redis pub/sub.
type RedisConfig struct {
	Enabled bool `toml:"enabled"`
	redisbus.Config
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // json, console
	Output     string `toml:"output"` // stdout, file, both
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxFiles   int    `toml:"max_files"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// TelemetryConfig controls metrics and health probing.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus"`
	HealthInterval string `toml:"health_interval"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := labelmintHome()
	ec := engine.DefaultConfig()
	bus := eventbus.DefaultConfig()
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8640,
			RequestTimeout: "30s",
		},
		Store: StoreConfig{Dir: home},
		Engine: EngineConfig{
			MinReputation:           ec.MinReputation,
			MinAccuracy:             ec.MinAccuracy,
			MaxParticipants:         ec.MaxParticipants,
			HoneypotAlpha:           ec.HoneypotAlpha,
			ReputationReward:        ec.ReputationReward,
			ReputationPenalty:       ec.ReputationPenalty,
			ExcludePreviousAssignee: ec.ExcludePreviousAssignee,
			BatchConcurrency:        ec.BatchConcurrency,
			ReadRetries:             ec.ReadRetries,
			ReadRetryBase:           ec.ReadRetryBase.String(),
		},
		Sweeper: SweeperConfig{
			Enabled:      true,
			Interval:     engine.DefaultSweeperConfig().Interval.String(),
			AutoReassign: true,
		},
		Events: EventsConfig{
			Shards: bus.Shards,
			Buffer: bus.Buffer,
			Redis: RedisConfig{Config: redisbus.Config{
				Addr:    "127.0.0.1:6379",
				Channel: redisbus.DefaultChannel,
			}},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			File:       filepath.Join(home, "labelmint.log"),
			MaxSizeMB:  50,
			MaxFiles:   5,
			MaxAgeDays: 30,
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "30s",
		},
	}
}

// LoadConfig reads config from $LABELMINT_HOME/config.toml, falling back to
// defaults when the file does not exist.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(labelmintHome(), "config.toml"))
}

// LoadConfigFile reads config from path over the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $LABELMINT_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(labelmintHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks values a typo could make nonsensical.
func (c Config) Validate() error {
	var errs []error
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.Engine.MinReputation < 0 || c.Engine.MinReputation > 100 {
		errs = append(errs, fmt.Errorf("engine.min_reputation %.1f outside [0, 100]", c.Engine.MinReputation))
	}
	if c.Engine.HoneypotAlpha <= 0 || c.Engine.HoneypotAlpha >= 1 {
		errs = append(errs, fmt.Errorf("engine.honeypot_alpha %v outside (0, 1)", c.Engine.HoneypotAlpha))
	}
	if c.Engine.MaxParticipants < 1 {
		errs = append(errs, fmt.Errorf("engine.max_participants must be at least 1"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}
	for _, d := range []struct{ key, val string }{
		{"api.request_timeout", c.API.RequestTimeout},
		{"engine.read_retry_base", c.Engine.ReadRetryBase},
		{"sweeper.interval", c.Sweeper.Interval},
		{"telemetry.health_interval", c.Telemetry.HealthInterval},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
		}
	}
	return errors.Join(errs...)
}

// EngineSettings converts the [engine] section to engine.Config.
func (c Config) EngineSettings() engine.Config {
	def := engine.DefaultConfig()
	return engine.Config{
		MinReputation:           c.Engine.MinReputation,
		MinAccuracy:             c.Engine.MinAccuracy,
		MaxParticipants:         c.Engine.MaxParticipants,
		HoneypotAlpha:           c.Engine.HoneypotAlpha,
		ReputationReward:        c.Engine.ReputationReward,
		ReputationPenalty:       c.Engine.ReputationPenalty,
		ExcludePreviousAssignee: c.Engine.ExcludePreviousAssignee,
		BatchConcurrency:        c.Engine.BatchConcurrency,
		ReadRetries:             c.Engine.ReadRetries,
		ReadRetryBase:           parseDuration(c.Engine.ReadRetryBase, def.ReadRetryBase),
	}
}

// SweeperSettings converts the [sweeper] section to engine.SweeperConfig.
func (c Config) SweeperSettings() engine.SweeperConfig {
	return engine.SweeperConfig{
		Interval:     parseDuration(c.Sweeper.Interval, engine.DefaultSweeperConfig().Interval),
		AutoReassign: c.Sweeper.AutoReassign,
	}
}

// labelmintHome returns the LabelMint data directory.
func labelmintHome() string {
	if env := os.Getenv("LABELMINT_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".labelmint")
}

// Home is exported for use by other packages.
func Home() string {
	return labelmintHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
