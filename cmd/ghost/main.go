// Command ghost runs long-lived research missions ("hauntings") in the
// background and keeps a self-compacting journal of what each one learns.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ghost/internal/config"
	"ghost/internal/daemon"
	"ghost/internal/logging"
	"ghost/internal/paths"
)

var (
	// Global flags
	verbose  bool
	homeFlag string
	jsonLogs bool

	logger *zap.Logger
	ghost  *app
)

var rootCmd = &cobra.Command{
	Use:   "ghost",
	Short: "ghost - background research missions that keep learning",
	Long: `ghost runs research missions on a schedule. Each cycle gathers sources,
records observations in a journal, compacts the journal into reflections when
it grows too large, updates the research plan and notifies you of critical
findings.

Start with:
  ghost init
  ghost haunt "solid state batteries" --description "I want to track pilot lines"
  ghost daemon start`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return fmt.Errorf("failed to resolve ghost home: %w", err)
		}
		cfg, err := config.Load(layout.ConfigPath())
		if err != nil {
			return err
		}
		if err := initLogging(cfg, layout, isDaemonRun(cmd)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Get(logging.CategoryBoot)
		ghost = newApp(layout, cfg, cmd.OutOrStdout())
		return nil
	},
}

func resolveLayout() (paths.Layout, error) {
	if homeFlag != "" {
		abs, err := filepath.Abs(homeFlag)
		if err != nil {
			return paths.Layout{}, err
		}
		return paths.New(abs), nil
	}
	return paths.Resolve()
}

// initLogging logs to the log file, and also to stderr for the foreground
// daemon and --verbose. A spawned daemon's stderr is daemon.log, so it logs
// JSON.
func initLogging(cfg *config.Config, layout paths.Layout, daemonMode bool) error {
	opts := logging.Options{
		Level:      cfg.Logging.Level,
		JSON:       jsonLogs || cfg.Logging.Format == "json" || daemon.Spawned(),
		File:       cfg.Logging.File,
		Stderr:     daemonMode || verbose,
		Categories: cfg.Logging.Categories,
	}
	if verbose {
		opts.Level = "debug"
	}
	if opts.File == "" {
		if err := os.MkdirAll(layout.LogsDir(), 0755); err == nil {
			opts.File = filepath.Join(layout.LogsDir(), "ghost.log")
		}
	}
	return logging.Initialize(opts)
}

func isDaemonRun(cmd *cobra.Command) bool {
	return cmd.Name() == "run" && cmd.HasParent() && cmd.Parent().Name() == "daemon"
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Ghost home directory (default: $GHOST_HOME or ~/.ghost)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Log as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(hauntCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(peekCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(daemonCmd)
}

func main() {
	if err := execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs the command line and releases the ledger and log file even
// when the command fails.
func execute(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if ghost != nil {
		ghost.Close()
		ghost = nil
	}
	logging.Sync()
	return err
}
