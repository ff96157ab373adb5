package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Mission lifecycle states.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Cadence tiers.
const (
	IntervalHourly = "hourly"
	IntervalDaily  = "daily"
	IntervalWeekly = "weekly"
)

// Research depth tiers.
const (
	DepthShallow  = "shallow"
	DepthStandard = "standard"
	DepthDeep     = "deep"
)

// CadenceDurations maps each cadence tier to its fixed interval.
var CadenceDurations = map[string]time.Duration{
	IntervalHourly: time.Hour,
	IntervalDaily:  24 * time.Hour,
	IntervalWeekly: 7 * 24 * time.Hour,
}

// SourcesForDepth returns the default per-cycle source budget for a depth tier.
func SourcesForDepth(depth string) int {
	switch depth {
	case DepthShallow:
		return 5
	case DepthDeep:
		return 15
	default:
		return 10
	}
}

// MissionConfig is a mission's config.yaml.
type MissionConfig struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Created     string           `yaml:"created"`
	Status      string           `yaml:"status"`
	Schedule    ScheduleConfig   `yaml:"schedule"`
	Research    ResearchConfig   `yaml:"research"`
	Observer    *ObserverConfig  `yaml:"observer,omitempty"`
	Reflector   *ReflectorConfig `yaml:"reflector,omitempty"`
}

// ScheduleConfig controls when a mission is due.
type ScheduleConfig struct {
	Mode     string `yaml:"mode"` // fixed | autonomous
	Interval string `yaml:"interval"`
	Cron     string `yaml:"cron,omitempty"`
}

// ResearchConfig parameterizes the Research phase.
type ResearchConfig struct {
	Depth              string   `yaml:"depth"`
	MaxSourcesPerCycle int      `yaml:"max_sources_per_cycle"`
	SearchQueriesBase  []string `yaml:"search_queries_base"`
}

// NewMissionConfig returns a mission config with defaults applied.
func NewMissionConfig(name, description string, queries []string, now time.Time) *MissionConfig {
	if queries == nil {
		queries = []string{}
	}
	return &MissionConfig{
		Name:        name,
		Description: description,
		Created:     now.UTC().Format(time.RFC3339),
		Status:      StatusActive,
		Schedule: ScheduleConfig{
			Mode:     "fixed",
			Interval: IntervalDaily,
		},
		Research: ResearchConfig{
			Depth:              DepthStandard,
			MaxSourcesPerCycle: SourcesForDepth(DepthStandard),
			SearchQueriesBase:  queries,
		},
	}
}

// applyDefaults fills zero values left by a sparse YAML file.
func (m *MissionConfig) applyDefaults() {
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.Schedule.Mode == "" {
		m.Schedule.Mode = "fixed"
	}
	if m.Schedule.Interval == "" {
		m.Schedule.Interval = IntervalDaily
	}
	if m.Research.Depth == "" {
		m.Research.Depth = DepthStandard
	}
	if m.Research.MaxSourcesPerCycle == 0 {
		m.Research.MaxSourcesPerCycle = SourcesForDepth(m.Research.Depth)
	}
	if m.Research.SearchQueriesBase == nil {
		m.Research.SearchQueriesBase = []string{}
	}
}

// Validate checks enumerations and the optional schedule expression.
func (m *MissionConfig) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: mission name is required", ErrInvalid)
	}
	switch m.Status {
	case StatusActive, StatusPaused, StatusCompleted:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalid, m.Status)
	}
	switch m.Schedule.Mode {
	case "fixed", "autonomous":
	default:
		return fmt.Errorf("%w: schedule.mode %q", ErrInvalid, m.Schedule.Mode)
	}
	if _, ok := CadenceDurations[m.Schedule.Interval]; !ok {
		return fmt.Errorf("%w: schedule.interval %q (valid: hourly, daily, weekly)", ErrInvalid, m.Schedule.Interval)
	}
	if m.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(m.Schedule.Cron); err != nil {
			return fmt.Errorf("%w: schedule.cron %q: %v", ErrInvalid, m.Schedule.Cron, err)
		}
	}
	switch m.Research.Depth {
	case DepthShallow, DepthStandard, DepthDeep:
	default:
		return fmt.Errorf("%w: research.depth %q", ErrInvalid, m.Research.Depth)
	}
	if m.Research.MaxSourcesPerCycle < 0 {
		return fmt.Errorf("%w: research.max_sources_per_cycle must not be negative", ErrInvalid)
	}
	return nil
}

// ReflectThreshold returns the mission override or the global default.
func (m *MissionConfig) ReflectThreshold(defaults DefaultsConfig) int {
	if m.Reflector != nil && m.Reflector.JournalTokenThreshold > 0 {
		return m.Reflector.JournalTokenThreshold
	}
	return defaults.Reflector.JournalTokenThreshold
}

// PriorityThreshold returns the mission observer threshold or the global default.
func (m *MissionConfig) PriorityThreshold(defaults DefaultsConfig) float64 {
	if m.Observer != nil && m.Observer.PriorityThreshold > 0 {
		return m.Observer.PriorityThreshold
	}
	return defaults.Observer.PriorityThreshold
}

// LoadMission reads and validates <dir>/config.yaml.
func LoadMission(dir string) (*MissionConfig, error) {
	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: mission config not found: %s", ErrInvalid, path)
		}
		return nil, fmt.Errorf("failed to read mission config: %w", err)
	}

	var m MissionConfig
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMission writes <dir>/config.yaml.
func SaveMission(dir string, m *MissionConfig) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mission config: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mission config: %w", err)
	}
	return nil
}
