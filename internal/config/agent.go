package config

import "time"

// AgentConfig configures the external cognitive agent subprocess.
type AgentConfig struct {
	Binary         string `yaml:"binary"`
	Model          string `yaml:"model"`
	PermissionMode string `yaml:"permission_mode"`
	Timeout        string `yaml:"timeout"`

	// Turn budgets per phase. The agent enforces them.
	MaxTurns PhaseTurns `yaml:"max_turns"`
}

// PhaseTurns holds per-phase turn budgets.
type PhaseTurns struct {
	Research int `yaml:"research"`
	Observe  int `yaml:"observe"`
	Reflect  int `yaml:"reflect"`
	Plan     int `yaml:"plan"`
}

// DefaultAgentConfig returns the agent defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Binary:         "claude",
		Model:          "sonnet",
		PermissionMode: "bypassPermissions",
		Timeout:        "30m",
		MaxTurns: PhaseTurns{
			Research: 25,
			Observe:  30,
			Reflect:  30,
			Plan:     20,
		},
	}
}

// GetTimeout returns the per-invocation agent timeout, 30m by default.
func (a AgentConfig) GetTimeout() time.Duration {
	return parseDuration(a.Timeout, 30*time.Minute)
}

// TurnsFor returns the turn budget of a phase name, or 0 when unknown.
func (a AgentConfig) TurnsFor(phase string) int {
	switch phase {
	case "research":
		return a.MaxTurns.Research
	case "observe":
		return a.MaxTurns.Observe
	case "reflect":
		return a.MaxTurns.Reflect
	case "plan":
		return a.MaxTurns.Plan
	}
	return 0
}
