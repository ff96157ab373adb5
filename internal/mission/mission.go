// Package mission manages the lifecycle of research missions: creation with
// initial artifacts, lookup, listing, status changes and deletion. Every
// change to the on-disk mission is mirrored into the ledger's registry.
package mission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ghost/internal/config"
	"ghost/internal/lock"
	"ghost/internal/logging"
	"ghost/internal/memory"
	"ghost/internal/paths"
	"ghost/internal/store"
)

var (
	ErrNotFound = errors.New("mission not found")
	ErrExists   = errors.New("mission already exists")
)

// Mission is a loaded mission directory.
type Mission struct {
	ID         string
	Dir        string
	SourcesDir string
	HistoryDir string
	ReportsDir string
	Config     *config.MissionConfig
}

func newMission(id, dir string, cfg *config.MissionConfig) *Mission {
	return &Mission{
		ID:         id,
		Dir:        dir,
		SourcesDir: filepath.Join(dir, paths.SourcesDir),
		HistoryDir: filepath.Join(dir, paths.HistoryDir),
		ReportsDir: filepath.Join(dir, paths.ReportsDir),
		Config:     cfg,
	}
}

// Name returns the display name.
func (m *Mission) Name() string { return m.Config.Name }

// Active reports whether the mission may run cycles.
func (m *Mission) Active() bool { return m.Config.Status == config.StatusActive }

// Record returns the ledger registry row for the mission.
func (m *Mission) Record() store.MissionRecord {
	rec := store.MissionRecord{
		ID:          m.ID,
		Name:        m.Config.Name,
		Description: m.Config.Description,
		Status:      m.Config.Status,
	}
	if t, err := time.Parse(time.RFC3339, m.Config.Created); err == nil {
		rec.CreatedAt = t
	}
	return rec
}

// Registry is the part of the ledger the manager writes to.
type Registry interface {
	RegisterMission(ctx context.Context, m store.MissionRecord) error
	SetMissionStatus(ctx context.Context, id, status string) error
	DeleteMission(ctx context.Context, id string) error
}

// Manager creates and finds missions under a home layout.
type Manager struct {
	layout   paths.Layout
	registry Registry
	log      *zap.Logger
	now      func() time.Time
}

// NewManager returns a manager. registry may be nil for read-only use.
func NewManager(layout paths.Layout, registry Registry, log *zap.Logger) *Manager {
	if log == nil {
		log = logging.Get(logging.CategoryMission)
	}
	return &Manager{layout: layout, registry: registry, log: log, now: time.Now}
}

// SetClock overrides the manager's time source.
func (mg *Manager) SetClock(now func() time.Time) { mg.now = now }

// Layout returns the home layout.
func (mg *Manager) Layout() paths.Layout { return mg.layout }

// CreateOptions describes a new mission.
type CreateOptions struct {
	Name        string
	Description string
	Queries     []string
	Interval    string // hourly | daily | weekly
	Cron        string
	Depth       string // shallow | standard | deep
	Force       bool   // replace an existing mission with the same slug
}

// Create writes the mission directory, its config and initial artifacts,
// and registers it in the ledger. Nothing is written if the options are
// invalid.
func (mg *Manager) Create(ctx context.Context, opts CreateOptions) (*Mission, error) {
	name := strings.TrimSpace(opts.Name)
	slug := paths.Slugify(name, paths.DefaultSlugLength)
	if slug == "" {
		return nil, fmt.Errorf("%w: name %q has no usable characters", config.ErrInvalid, opts.Name)
	}
	description := strings.TrimSpace(opts.Description)
	if description == "" {
		description = name
	}

	cfg := config.NewMissionConfig(name, description, opts.Queries, mg.now())
	if opts.Interval != "" {
		cfg.Schedule.Interval = opts.Interval
	}
	cfg.Schedule.Cron = opts.Cron
	if opts.Depth != "" {
		cfg.Research.Depth = opts.Depth
		cfg.Research.MaxSourcesPerCycle = config.SourcesForDepth(opts.Depth)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir := mg.layout.MissionDir(slug)
	if _, err := os.Stat(dir); err == nil {
		if !opts.Force {
			return nil, fmt.Errorf("%w: %s at %s", ErrExists, slug, dir)
		}
		lock.ReleaseCycleLock(dir)
		if mg.registry != nil {
			if err := mg.registry.DeleteMission(ctx, slug); err != nil {
				return nil, err
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to replace mission %s: %w", slug, err)
		}
	}

	m := newMission(slug, dir, cfg)
	for _, d := range []string{m.Dir, m.SourcesDir, m.HistoryDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	if err := config.SaveMission(dir, cfg); err != nil {
		return nil, err
	}

	art := memory.NewArtifacts(dir, "")
	if err := art.WriteJournal(memory.InitialJournal(name)); err != nil {
		return nil, err
	}
	if err := art.WriteReflections(memory.InitialReflections(name)); err != nil {
		return nil, err
	}
	if err := art.WritePlan(memory.InitialPlan(name, description, mg.now())); err != nil {
		return nil, err
	}

	// No earlier cycle can legitimately hold a lock on a new mission.
	lock.ReleaseCycleLock(dir)

	if err := mg.Register(ctx, m); err != nil {
		return nil, err
	}
	mg.log.Info("mission created", zap.String("mission", slug), zap.String("dir", dir))
	return m, nil
}

// Register upserts the mission into the ledger registry.
func (mg *Manager) Register(ctx context.Context, m *Mission) error {
	if mg.registry == nil {
		return nil
	}
	return mg.registry.RegisterMission(ctx, m.Record())
}

// Load finds a mission by directory name first, then by slugified name.
func (mg *Manager) Load(idOrName string) (*Mission, error) {
	candidates := []string{idOrName}
	if slug := paths.Slugify(idOrName, paths.DefaultSlugLength); slug != idOrName {
		candidates = append(candidates, slug)
	}
	for _, id := range candidates {
		if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			continue
		}
		dir := mg.layout.MissionDir(id)
		if _, err := os.Stat(filepath.Join(dir, paths.ConfigFile)); err != nil {
			continue
		}
		cfg, err := config.LoadMission(dir)
		if err != nil {
			return nil, fmt.Errorf("mission %s: %w", id, err)
		}
		return newMission(id, dir, cfg), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrName)
}

// List returns every loadable mission ordered by id. Directories with an
// invalid config are skipped with a warning.
func (mg *Manager) List() ([]*Mission, error) {
	entries, err := os.ReadDir(mg.layout.MissionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}

	var out []*Mission
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := mg.layout.MissionDir(e.Name())
		if _, err := os.Stat(filepath.Join(dir, paths.ConfigFile)); err != nil {
			continue
		}
		cfg, err := config.LoadMission(dir)
		if err != nil {
			mg.log.Warn("skipping invalid mission", zap.String("mission", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, newMission(e.Name(), dir, cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Active returns the missions in status active.
func (mg *Manager) Active() ([]*Mission, error) {
	all, err := mg.List()
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, m := range all {
		if m.Active() {
			active = append(active, m)
		}
	}
	return active, nil
}

// SetStatus changes the lifecycle status in config.yaml and the ledger.
func (mg *Manager) SetStatus(ctx context.Context, id, status string) (*Mission, error) {
	m, err := mg.Load(id)
	if err != nil {
		return nil, err
	}
	prev := m.Config.Status
	m.Config.Status = status
	if err := config.SaveMission(m.Dir, m.Config); err != nil {
		m.Config.Status = prev
		return nil, err
	}
	if mg.registry != nil {
		err := mg.registry.SetMissionStatus(ctx, m.ID, status)
		if errors.Is(err, store.ErrNotFound) {
			err = mg.Register(ctx, m)
		}
		if err != nil {
			return m, err
		}
	}
	mg.log.Info("mission status changed", zap.String("mission", m.ID), zap.String("from", prev), zap.String("to", status))
	return m, nil
}

// Delete releases the mission's lock, removes its ledger rows and then its
// directory. The lock goes first so no checkpoint outlives the mission.
func (mg *Manager) Delete(ctx context.Context, id string) error {
	m, err := mg.Load(id)
	if err != nil {
		return err
	}
	lock.ReleaseCycleLock(m.Dir)

	if mg.registry != nil {
		if err := mg.registry.DeleteMission(ctx, m.ID); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(m.Dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", m.Dir, err)
	}
	mg.log.Info("mission deleted", zap.String("mission", m.ID))
	return nil
}

// Unlock clears a mission's checkpoint and reports whether one existed.
func (mg *Manager) Unlock(id string) (bool, error) {
	m, err := mg.Load(id)
	if err != nil {
		return false, err
	}
	held := lock.IsCycleLocked(m.Dir)
	lock.ReleaseCycleLock(m.Dir)
	if held {
		mg.log.Warn("lock cleared manually", zap.String("mission", m.ID))
	}
	return held, nil
}
