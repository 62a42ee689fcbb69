package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions:
// NO_COLOR (any value) disables color, CLICOLOR_FORCE enables it even when
// piped, CLICOLOR=0 disables it. Otherwise color is used on a terminal.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return IsTerminal()
}

// ForceColor switches lipgloss to the given profile. Used by tests and by
// --color=always.
func ForceColor(on bool) {
	if on {
		lipgloss.SetColorProfile(termenv.ANSI256)
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// TerminalWidth returns the width of stdout, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fallback
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
