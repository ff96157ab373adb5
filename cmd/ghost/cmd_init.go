package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ghost/cmd/ghost/ui"
	"ghost/internal/memory"
)

const contextTemplate = `# Researcher Context

Describe who you are and what you work on. Every mission's agent reads this
file to judge what is relevant to you. A mission's own context.md overrides it.

## Role

## Current projects

## What counts as critical for me
`

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the ghost home directory, config and context template",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	layout := ghost.layout
	if err := layout.EnsureHome(); err != nil {
		return fmt.Errorf("failed to create %s: %w", layout.Home, err)
	}

	cfgPath := layout.ConfigPath()
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		fmt.Fprintf(out, "%s %s\n", ui.Dim.Render("exists "), cfgPath)
	} else {
		if err := ghost.cfg.Save(cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", ui.Good.Render("wrote  "), cfgPath)
	}

	ctxPath := layout.GlobalContextPath()
	if _, err := os.Stat(ctxPath); err == nil {
		fmt.Fprintf(out, "%s %s\n", ui.Dim.Render("exists "), ctxPath)
	} else {
		if err := memory.WriteFileAtomic(ctxPath, contextTemplate); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", ui.Good.Render("wrote  "), ctxPath)
	}

	if _, err := ghost.Ledger(cmd.Context()); err != nil {
		return err
	}
	logger.Info("home initialized", zap.String("home", layout.Home))
	fmt.Fprintf(out, "\n👻 ghost is ready. Edit %s, then run %s.\n", ctxPath, ui.Heading.Render("ghost haunt <topic>"))
	return nil
}
