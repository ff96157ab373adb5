// Package ui holds the terminal styling and views of the ghost CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Semantic colors.
var (
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
	Muted       = lipgloss.Color("#8a94a6")
	Ghost       = lipgloss.Color("#b39ddb")
)

// Styles used across commands.
var (
	Title   = lipgloss.NewStyle().Bold(true).Foreground(Ghost)
	Heading = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(Muted)
	Good    = lipgloss.NewStyle().Foreground(Success)
	Warn    = lipgloss.NewStyle().Foreground(Warning)
	Bad     = lipgloss.NewStyle().Foreground(Destructive)
	Label   = lipgloss.NewStyle().Foreground(Info).Width(16)
	Box     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Ghost).Padding(0, 1)
)

// StateStyle colors a mission status or scheduling state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "active", "running", "due":
		return Good
	case "paused", "waiting":
		return Warn
	case "failed":
		return Bad
	default:
		return Dim
	}
}

// Field renders an aligned "label value" line.
func Field(label, value string) string {
	return Label.Render(label) + value
}

// IsDarkTerminal guesses the terminal background from COLORFGBG.
func IsDarkTerminal() bool {
	v := os.Getenv("COLORFGBG")
	if v == "" {
		return true
	}
	parts := strings.Split(v, ";")
	switch parts[len(parts)-1] {
	case "7", "15":
		return false
	}
	return true
}
