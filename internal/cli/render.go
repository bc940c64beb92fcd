package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Markdown renders a markdown document for the terminal. When stdout is
// not a terminal (pipes, CI) the raw markdown is returned unchanged.
func Markdown(doc string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return doc
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // detect light/dark background
	)
	if err != nil {
		return doc
	}
	out, err := r.Render(doc)
	if err != nil {
		return doc
	}
	return out
}

// StatusBadge colors a connectivity or session state for the terminal.
func StatusBadge(state string) string {
	p := termenv.ColorProfile()
	switch state {
	case "online", "interacting":
		return termenv.String(state).Foreground(p.Color("#4ade80")).String()
	case "offline", "closed":
		return termenv.String(state).Foreground(p.Color("#f87171")).String()
	default:
		return termenv.String(state).Foreground(p.Color("#facc15")).String()
	}
}

// Errorf prints an error the way the command surface expects it.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
