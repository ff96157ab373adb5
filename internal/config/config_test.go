package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30000, cfg.Defaults.Reflector.JournalTokenThreshold)
	assert.Equal(t, 5, cfg.Defaults.Planner.MaxNextItems)
	assert.Equal(t, 10, cfg.Defaults.Planner.MaxBacklogItems)
	assert.Equal(t, 0.8, cfg.Notifications.MinPriority)
	assert.Equal(t, 60*time.Second, cfg.GetTickInterval())
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GHOST_MODEL", "")
	t.Setenv("GHOST_AGENT_BINARY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Agent, cfg.Agent)
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("GHOST_MODEL", "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Agent.Model = "opus"
	cfg.Daemon.TickInterval = "5s"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "opus", loaded.Agent.Model)
	assert.Equal(t, 5*time.Second, loaded.GetTickInterval())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  reflector:\n    journal_token_threshold: 1200\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Defaults.Reflector.JournalTokenThreshold)
	assert.Equal(t, 5, cfg.Defaults.Planner.MaxNextItems)
}

func TestLoad_InvalidDriver(t *testing.T) {
	t.Setenv("GHOST_LEDGER_DRIVER", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  driver: postgres\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestFailureBackoff(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Minute, cfg.GetFailureBackoff())

	cfg.Daemon.FailureBackoff = "0"
	assert.Equal(t, time.Duration(0), cfg.GetFailureBackoff())

	cfg.Daemon.FailureBackoff = "garbage"
	assert.Equal(t, 15*time.Minute, cfg.GetFailureBackoff())
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	assert.True(t, lc.IsCategoryEnabled("cycle"))

	lc.Categories = map[string]bool{"store": false}
	assert.False(t, lc.IsCategoryEnabled("store"))
	assert.True(t, lc.IsCategoryEnabled("daemon"))
}
