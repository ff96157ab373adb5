package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ghost/cmd/ghost/ui"
	"ghost/internal/daemon"
	"ghost/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run missions on their schedules",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler in the foreground",
	Long: `Checks for due missions immediately and then every tick interval, running
their cycles one at a time. The first Ctrl+C or SIGTERM stops scheduling and
lets the current phase finish; a second one aborts it.`,
	Args: cobra.NoArgs,
	RunE: runDaemonForeground,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler in the background",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background scheduler",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the scheduler is running and what is due",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func supervisor() *daemon.Supervisor {
	args := []string{"daemon", "run"}
	if homeFlag != "" {
		args = append(args, "--home", ghost.layout.Home)
	}
	return daemon.NewSupervisor(ghost.layout.PIDPath(), ghost.layout.DaemonLogPath(), args...)
}

func runDaemonForeground(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.Get(logging.CategoryDaemon)
	if err := ghost.layout.EnsureHome(); err != nil {
		return err
	}

	release, err := supervisor().Claim()
	if err != nil {
		return err
	}
	defer release()

	ledger, err := ghost.Ledger(ctx)
	if err != nil {
		return err
	}
	orch, err := ghost.Orchestrator(ctx)
	if err != nil {
		return err
	}

	loop, work, stop := shutdownContexts(ctx, log)
	defer stop()

	var watchDir string
	if ghost.cfg.Daemon.WatchMissions {
		watchDir = ghost.layout.MissionsDir()
	}
	s := daemon.NewScheduler(daemon.Options{
		Runner:         orch,
		Missions:       ghost.missions,
		Stats:          ledger,
		Logger:         log,
		TickInterval:   ghost.cfg.GetTickInterval(),
		FailureBackoff: ghost.cfg.GetFailureBackoff(),
		WatchDir:       watchDir,
		CycleContext:   work,
	})
	log.Info("daemon running", zap.String("home", ghost.layout.Home), zap.Bool("spawned", daemon.Spawned()))
	if !daemon.Spawned() {
		fmt.Fprintf(cmd.OutOrStdout(), "👻 ghost daemon running (tick %s). Ctrl+C to stop.\n", ghost.cfg.GetTickInterval())
	}
	return s.Run(loop)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if err := ghost.layout.EnsureHome(); err != nil {
		return err
	}
	pid, err := supervisor().Start()
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		fmt.Fprintf(out, "%s daemon already running (PID %d)\n", ui.Warn.Render("!"), pid)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "👻 daemon started (PID %d)\n", pid)
	fmt.Fprintln(out, ui.Field("Log", ghost.layout.DaemonLogPath()))
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	pid, err := supervisor().Stop()
	if errors.Is(err, daemon.ErrNotRunning) {
		if pid != 0 {
			fmt.Fprintf(out, "daemon not running (removed stale PID %d)\n", pid)
		} else {
			fmt.Fprintln(out, "daemon not running")
		}
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "👻 daemon stopped (PID %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	running, pid, err := supervisor().Status()
	if err != nil {
		return err
	}
	switch {
	case running:
		fmt.Fprintf(out, "Daemon: %s (PID %d)\n", ui.Good.Render("running"), pid)
	case pid > 0:
		fmt.Fprintf(out, "Daemon: %s (stale PID %d)\n", ui.Bad.Render("stopped"), pid)
	default:
		fmt.Fprintf(out, "Daemon: %s\n", ui.Dim.Render("stopped"))
	}

	missions, err := ghost.missions.List()
	if err != nil {
		return err
	}
	if len(missions) == 0 {
		return nil
	}
	ledger, err := ghost.Ledger(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	states, err := daemon.Describe(ctx, missions, ledger, now)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	for _, st := range states {
		detail := ""
		switch st.State {
		case daemon.StateRunning:
			detail = "phase " + st.Phase
		case daemon.StateWaiting:
			detail = "next " + st.NextDue.Local().Format("2006-01-02 15:04")
		case daemon.StateDue:
			detail = "last " + ago(st.LastCycleAt, now)
		}
		fmt.Fprintf(out, "  %-32s %s %s\n", truncate(st.ID, 32),
			ui.StateStyle(st.State).Render(fmt.Sprintf("%-10s", st.State)), ui.Dim.Render(detail))
	}
	return nil
}
