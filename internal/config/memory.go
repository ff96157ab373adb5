package config

// DefaultsConfig holds per-mission defaults that a mission config may override.
type DefaultsConfig struct {
	Schedule  string          `yaml:"schedule"`
	Observer  ObserverConfig  `yaml:"observer"`
	Reflector ReflectorConfig `yaml:"reflector"`
	Planner   PlannerConfig   `yaml:"planner"`
}

// ObserverConfig tunes the Observe phase.
type ObserverConfig struct {
	PriorityThreshold float64 `yaml:"priority_threshold"`
}

// ReflectorConfig tunes when the journal is compacted.
type ReflectorConfig struct {
	JournalTokenThreshold int `yaml:"journal_token_threshold"`
}

// PlannerConfig caps the plan sections.
type PlannerConfig struct {
	MaxNextItems    int `yaml:"max_next_items"`
	MaxBacklogItems int `yaml:"max_backlog_items"`
}
