// Package paths resolves the ghost home directory and the on-disk layout of
// every mission ("haunting") beneath it.
//
// Layout:
//
//	<home>/config.yaml            global configuration
//	<home>/context.md             global researcher context (optional)
//	<home>/ghost.db               ledger
//	<home>/daemon.pid             background daemon pid record
//	<home>/daemon.log             background daemon output
//	<home>/logs/                  categorized CLI logs
//	<home>/hauntings/<slug>/      one directory per mission
package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// HomeEnv overrides the default home directory.
const HomeEnv = "GHOST_HOME"

// Per-mission file and directory names.
const (
	ConfigFile      = "config.yaml"
	JournalFile     = "journal.md"
	ReflectionsFile = "reflections.md"
	PlanFile        = "plan.md"
	ContextFile     = "context.md"
	PurposeFile     = "purpose.md"
	StatusFile      = "cycle_status.json"
	SourcesDir      = "sources"
	HistoryDir      = "history"
	ReportsDir      = "reports"
)

// DefaultSlugLength caps generated slugs.
const DefaultSlugLength = 60

// Layout is the resolved directory structure rooted at Home.
type Layout struct {
	Home string
}

// Resolve returns the layout for $GHOST_HOME, or ~/.ghost when unset.
func Resolve() (Layout, error) {
	if env := strings.TrimSpace(os.Getenv(HomeEnv)); env != "" {
		abs, err := filepath.Abs(env)
		if err != nil {
			return Layout{}, err
		}
		return Layout{Home: abs}, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return Layout{}, err
	}
	return Layout{Home: filepath.Join(userHome, ".ghost")}, nil
}

// New returns a layout rooted at an explicit directory.
func New(home string) Layout { return Layout{Home: home} }

func (l Layout) ConfigPath() string        { return filepath.Join(l.Home, ConfigFile) }
func (l Layout) GlobalContextPath() string { return filepath.Join(l.Home, ContextFile) }
func (l Layout) DBPath() string            { return filepath.Join(l.Home, "ghost.db") }
func (l Layout) PIDPath() string           { return filepath.Join(l.Home, "daemon.pid") }
func (l Layout) DaemonLogPath() string     { return filepath.Join(l.Home, "daemon.log") }
func (l Layout) LogsDir() string           { return filepath.Join(l.Home, "logs") }
func (l Layout) MissionsDir() string       { return filepath.Join(l.Home, "hauntings") }

// MissionDir returns the directory for a mission slug.
func (l Layout) MissionDir(slug string) string {
	return filepath.Join(l.MissionsDir(), slug)
}

// EnsureHome creates the home and missions directories.
func (l Layout) EnsureHome() error {
	for _, dir := range []string{l.Home, l.MissionsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

var (
	nonSlugChars = regexp.MustCompile(`[^\w\s-]`)
	spaceRuns    = regexp.MustCompile(`[\s_]+`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// Slugify maps a display name to a filesystem-safe identifier of at most
// maxLength bytes. A maxLength <= 0 uses DefaultSlugLength.
func Slugify(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultSlugLength
	}
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = nonSlugChars.ReplaceAllString(slug, "")
	slug = spaceRuns.ReplaceAllString(slug, "-")
	slug = dashRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if len(slug) > maxLength {
		slug = strings.TrimRight(slug[:maxLength], "-")
	}
	return slug
}
