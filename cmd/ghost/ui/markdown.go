package ui

import (
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders md for the terminal at the given width. Rendering
// failures fall back to the raw text.
func RenderMarkdown(md string, width int) string {
	if width <= 0 {
		width = 100
	}
	style := glamour.WithAutoStyle()
	if !IsDarkTerminal() {
		style = glamour.WithStylePath("light")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
