package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ghost/cmd/ghost/ui"
	"ghost/internal/cycle"
	"ghost/internal/mission"
)

var (
	hauntDescription string
	hauntSchedule    string
	hauntCron        string
	hauntDepth       string
	hauntQueries     []string
	hauntRun         bool
	hauntForce       bool

	runAll bool
)

var hauntCmd = &cobra.Command{
	Use:   "haunt <topic>",
	Short: "Start a new research mission",
	Long: `Creates a mission directory with its config, an empty journal, reflections
and an initial plan seeded from the description.

Example:
  ghost haunt "solid state batteries" \
    --description "I want to learn about sulfide electrolytes. Also track pilot lines." \
    --schedule daily --depth deep --run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHaunt,
}

var runCmd = &cobra.Command{
	Use:   "run [mission]",
	Short: "Run one research cycle now",
	Long: `Runs one cycle for the named mission, or for every active mission with --all,
regardless of schedule. Press Ctrl+C once to stop after the current phase and
twice to abort it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCycles,
}

func init() {
	hauntCmd.Flags().StringVarP(&hauntDescription, "description", "d", "", "What you want to learn (seeds the plan)")
	hauntCmd.Flags().StringVarP(&hauntSchedule, "schedule", "s", "", "Cadence: hourly, daily or weekly")
	hauntCmd.Flags().StringVar(&hauntCron, "cron", "", "Cron expression overriding the cadence")
	hauntCmd.Flags().StringVar(&hauntDepth, "depth", "", "Research depth: shallow, standard or deep")
	hauntCmd.Flags().StringSliceVarP(&hauntQueries, "query", "q", nil, "Seed search query (repeatable)")
	hauntCmd.Flags().BoolVar(&hauntRun, "run", false, "Run the first cycle immediately")
	hauntCmd.Flags().BoolVar(&hauntForce, "force", false, "Replace an existing mission with the same name")

	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every active mission")
}

func runHaunt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	m, err := ghost.missions.Create(ctx, mission.CreateOptions{
		Name:        strings.Join(args, " "),
		Description: hauntDescription,
		Queries:     hauntQueries,
		Interval:    hauntSchedule,
		Cron:        hauntCron,
		Depth:       hauntDepth,
		Force:       hauntForce,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "👻 Haunting %s\n", ui.Title.Render(m.Name()))
	fmt.Fprintln(out, ui.Field("ID", m.ID))
	fmt.Fprintln(out, ui.Field("Directory", m.Dir))
	schedule := m.Config.Schedule.Interval
	if m.Config.Schedule.Cron != "" {
		schedule = m.Config.Schedule.Cron
	}
	fmt.Fprintln(out, ui.Field("Schedule", schedule))
	fmt.Fprintln(out, ui.Field("Depth", fmt.Sprintf("%s (%d sources/cycle)", m.Config.Research.Depth, m.Config.Research.MaxSourcesPerCycle)))

	if !hauntRun {
		fmt.Fprintf(out, "\nRun %s now or let the daemon pick it up.\n", ui.Heading.Render("ghost run "+m.ID))
		return nil
	}
	fmt.Fprintln(out)
	return runMissions(ctx, out, []*mission.Mission{m})
}

func runCycles(cmd *cobra.Command, args []string) error {
	var targets []*mission.Mission
	switch {
	case runAll:
		active, err := ghost.missions.Active()
		if err != nil {
			return err
		}
		if len(active) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.Dim.Render("No active missions."))
			return nil
		}
		targets = active
	case len(args) == 1:
		m, err := ghost.missions.Load(args[0])
		if err != nil {
			return err
		}
		targets = []*mission.Mission{m}
	default:
		return errors.New("name a mission or pass --all")
	}
	return runMissions(cmd.Context(), cmd.OutOrStdout(), targets)
}

// runMissions runs one cycle per mission in order. It stops scheduling after
// the first shutdown signal and reports an error if any cycle failed.
func runMissions(ctx context.Context, out io.Writer, targets []*mission.Mission) error {
	loop, work, stop := shutdownContexts(ctx, logger)
	defer stop()

	orch, err := ghost.Orchestrator(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, m := range targets {
		if loop.Err() != nil {
			break
		}
		fmt.Fprintf(out, "%s %s\n", ui.Title.Render("▶"), m.Name())
		res, err := orch.Run(work, m)
		if err != nil {
			if len(targets) == 1 {
				return err
			}
			failed = append(failed, m.ID)
			fmt.Fprintf(out, "  %s\n", ui.Bad.Render(err.Error()))
			continue
		}
		printResult(out, res)
		if !res.Succeeded() {
			failed = append(failed, m.ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("cycle failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func printResult(out io.Writer, res *cycle.Result) {
	if res.Succeeded() {
		fmt.Fprintf(out, "  %s in %s\n", ui.Good.Render("✓ cycle complete"), res.Duration.Round(time.Second))
	} else {
		fmt.Fprintf(out, "  %s %s\n", ui.Bad.Render("✗ cycle failed:"), res.Error)
	}
	fmt.Fprintf(out, "  sources %d · observations +%d · reflected %s · notifications %d · $%.2f\n",
		res.SourcesFetched, res.ObservationsAdded, yesNo(res.Reflected), res.NotificationsSent, res.CostUSD)
	if len(res.PrunedPlanItems) > 0 {
		fmt.Fprintf(out, "  %s %s\n", ui.Warn.Render("plan pruned:"), strings.Join(res.PrunedPlanItems, "; "))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
