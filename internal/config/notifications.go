package config

// NotificationsConfig configures finding fan-out.
type NotificationsConfig struct {
	Enabled     bool    `yaml:"enabled"`
	MinPriority float64 `yaml:"min_priority"`

	// IsolateFailures keeps delivering to later channels after one fails.
	IsolateFailures bool           `yaml:"isolate_failures"`
	Channels        ChannelsConfig `yaml:"channels"`
}

// ChannelsConfig lists the built-in channels.
type ChannelsConfig struct {
	Console ChannelConfig `yaml:"console"`
	Log     ChannelConfig `yaml:"log"`
}

// ChannelConfig toggles a channel.
type ChannelConfig struct {
	Enabled bool `yaml:"enabled"`
}
