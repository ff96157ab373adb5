package main

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"ghost/internal/agent"
	"ghost/internal/config"
	"ghost/internal/cycle"
	"ghost/internal/logging"
	"ghost/internal/mission"
	"ghost/internal/notify"
	"ghost/internal/paths"
	"ghost/internal/store"
)

// newAgent builds the cognitive agent. Tests replace it.
var newAgent = func(cfg config.AgentConfig) agent.Agent {
	return agent.NewClaudeCLI(cfg, logging.Get(logging.CategoryAgent))
}

// app carries the process-wide handles of one CLI invocation. The ledger is
// opened on first use and shared by every component.
type app struct {
	layout paths.Layout
	cfg    *config.Config
	out    io.Writer

	once      sync.Once
	ledger    *store.Ledger
	ledgerErr error

	missions *mission.Manager
}

func newApp(layout paths.Layout, cfg *config.Config, out io.Writer) *app {
	a := &app{layout: layout, cfg: cfg, out: out}
	a.missions = mission.NewManager(layout, lazyRegistry{a}, logging.Get(logging.CategoryMission))
	return a
}

// Ledger opens the ledger once.
func (a *app) Ledger(ctx context.Context) (*store.Ledger, error) {
	a.once.Do(func() {
		if err := a.layout.EnsureHome(); err != nil {
			a.ledgerErr = err
			return
		}
		dbPath := a.cfg.Ledger.Path
		if dbPath == "" {
			dbPath = a.layout.DBPath()
		}
		a.ledger, a.ledgerErr = store.Open(ctx, store.Options{
			Driver: a.cfg.Ledger.Driver,
			Path:   dbPath,
			Logger: logging.Get(logging.CategoryStore),
		})
	})
	return a.ledger, a.ledgerErr
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logging.Get(logging.CategoryStore).Warn("failed to close ledger", zap.Error(err))
		}
	}
}

// Orchestrator wires a cycle orchestrator to the shared ledger.
func (a *app) Orchestrator(ctx context.Context) (*cycle.Orchestrator, error) {
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	return cycle.New(cycle.Options{
		Agent:             newAgent(a.cfg.Agent),
		Ledger:            ledger,
		Notifier:          notify.FromConfig(a.cfg.Notifications, a.out, logging.Get(logging.CategoryNotify)),
		Config:            a.cfg,
		GlobalContextPath: a.layout.GlobalContextPath(),
		Logger:            logging.Get(logging.CategoryCycle),
	}), nil
}

// lazyRegistry defers opening the ledger until a mission change needs it.
type lazyRegistry struct{ a *app }

func (r lazyRegistry) RegisterMission(ctx context.Context, m store.MissionRecord) error {
	l, err := r.a.Ledger(ctx)
	if err != nil {
		return err
	}
	return l.RegisterMission(ctx, m)
}

func (r lazyRegistry) SetMissionStatus(ctx context.Context, id, status string) error {
	l, err := r.a.Ledger(ctx)
	if err != nil {
		return err
	}
	return l.SetMissionStatus(ctx, id, status)
}

func (r lazyRegistry) DeleteMission(ctx context.Context, id string) error {
	l, err := r.a.Ledger(ctx)
	if err != nil {
		return err
	}
	return l.DeleteMission(ctx, id)
}
