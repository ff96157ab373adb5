// Package logging provides config-driven categorized logging for ghost.
//
// A single zap core is built by Initialize; every category is a named child
// logger of it. Disabled categories get a no-op logger. Before Initialize is
// called Get returns no-op loggers, so packages may log unconditionally.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config loading
	CategoryDaemon  Category = "daemon"  // Scheduler ticks, supervisor lifecycle
	CategoryCycle   Category = "cycle"   // Orchestrator phases
	CategoryAgent   Category = "agent"   // Cognitive agent invocations
	CategoryStore   Category = "store"   // Ledger operations
	CategoryMemory  Category = "memory"  // Journal/plan parsing and artifact IO
	CategoryNotify  Category = "notify"  // Finding fan-out
	CategoryLock    Category = "lock"    // Checkpoint/lock artifacts
	CategoryMission Category = "mission" // Mission lifecycle
)

// Options configures Initialize.
type Options struct {
	Level      string          // debug, info, warn, error
	JSON       bool            // JSON encoder instead of console
	File       string          // optional log file; appended
	Stderr     bool            // also write to stderr
	Categories map[string]bool // per-category toggles; unlisted = enabled
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	file       *os.File
	loggers    = make(map[Category]*zap.Logger)
)

// Initialize builds the process logger. It may be called again to reconfigure.
func Initialize(opts Options) error {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var sinks []zapcore.WriteSyncer
	var f *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}
	if opts.Stderr || len(sinks) == 0 {
		sinks = append(sinks, zapcore.Lock(os.Stderr))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	file = f
	base = zap.New(core)
	categories = opts.Categories
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// SetBase installs an existing logger as the root with every category
// enabled.
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	categories = nil
	loggers = make(map[Category]*zap.Logger)
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) the logger for a category.
func Get(category Category) *zap.Logger {
	if !IsCategoryEnabled(category) {
		return zap.NewNop()
	}

	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l = base.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes buffered entries and closes the log file.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	if file != nil {
		_ = file.Close()
		file = nil
	}
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn(t.op+" slow", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
