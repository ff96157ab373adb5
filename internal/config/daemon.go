package config

// DaemonConfig configures the scheduling daemon.
type DaemonConfig struct {
	TickInterval   string `yaml:"tick_interval"`
	FailureBackoff string `yaml:"failure_backoff"` // "0" disables
	WatchMissions  bool   `yaml:"watch_missions"`  // early tick on missions-dir changes
}
