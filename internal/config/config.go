package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the global ghost configuration (<home>/config.yaml).
type Config struct {
	Ghost         GhostConfig         `yaml:"ghost"`
	Agent         AgentConfig         `yaml:"agent"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Defaults      DefaultsConfig      `yaml:"defaults"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// GhostConfig holds general settings.
type GhostConfig struct {
	DefaultModel string `yaml:"default_model"`
}

// LedgerConfig selects the embedded SQL driver backing the ledger.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // sqlite (pure Go) | sqlite3 (cgo)
	Path   string `yaml:"path"`   // empty: <home>/ghost.db
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ghost: GhostConfig{
			DefaultModel: "sonnet",
		},
		Agent: DefaultAgentConfig(),
		Notifications: NotificationsConfig{
			Enabled:     true,
			MinPriority: 0.8,
			Channels: ChannelsConfig{
				Console: ChannelConfig{Enabled: true},
				Log:     ChannelConfig{Enabled: true},
			},
		},
		Defaults: DefaultsConfig{
			Schedule:  IntervalDaily,
			Observer:  ObserverConfig{PriorityThreshold: 0.6},
			Reflector: ReflectorConfig{JournalTokenThreshold: 30000},
			Planner:   PlannerConfig{MaxNextItems: 5, MaxBacklogItems: 10},
		},
		Daemon: DaemonConfig{
			TickInterval:   "60s",
			FailureBackoff: "15m",
			WatchMissions:  true,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("GHOST_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if model := os.Getenv("GHOST_MODEL"); model != "" {
		c.Agent.Model = model
	}
	if bin := os.Getenv("GHOST_AGENT_BINARY"); bin != "" {
		c.Agent.Binary = bin
	}
	if driver := os.Getenv("GHOST_LEDGER_DRIVER"); driver != "" {
		c.Ledger.Driver = driver
	}
	if interval := os.Getenv("GHOST_TICK_INTERVAL"); interval != "" {
		c.Daemon.TickInterval = interval
	}
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("%w: ledger.driver %q (valid: sqlite, sqlite3)", ErrInvalid, c.Ledger.Driver)
	}
	if _, ok := CadenceDurations[c.Defaults.Schedule]; !ok {
		return fmt.Errorf("%w: defaults.schedule %q", ErrInvalid, c.Defaults.Schedule)
	}
	if p := c.Notifications.MinPriority; p < 0 || p > 1 {
		return fmt.Errorf("%w: notifications.min_priority %v outside [0,1]", ErrInvalid, p)
	}
	if c.Defaults.Reflector.JournalTokenThreshold <= 0 {
		return fmt.Errorf("%w: defaults.reflector.journal_token_threshold must be positive", ErrInvalid)
	}
	if c.Defaults.Planner.MaxNextItems <= 0 || c.Defaults.Planner.MaxBacklogItems <= 0 {
		return fmt.Errorf("%w: planner caps must be positive", ErrInvalid)
	}
	if c.GetTickInterval() <= 0 {
		return fmt.Errorf("%w: daemon.tick_interval must be positive", ErrInvalid)
	}
	return nil
}

// GetTickInterval returns the daemon tick interval.
func (c *Config) GetTickInterval() time.Duration {
	return parseDuration(c.Daemon.TickInterval, 60*time.Second)
}

// GetFailureBackoff returns how long the daemon waits before retrying a
// mission whose latest cycle failed. Zero disables the backoff.
func (c *Config) GetFailureBackoff() time.Duration {
	if strings.TrimSpace(c.Daemon.FailureBackoff) == "0" {
		return 0
	}
	return parseDuration(c.Daemon.FailureBackoff, 15*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return d
}
