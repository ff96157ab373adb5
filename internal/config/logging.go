package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // console, json
	File       string          `yaml:"file"`   // empty: stderr only
	Categories map[string]bool `yaml:"categories"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Unlisted categories are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
