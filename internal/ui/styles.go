// Package ui provides terminal styling for c2d CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/edgefleet/c2d/internal/types"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	// CategoryStyle for section headers
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

// Tree characters for dependency display
const (
	TreeChild  = "├─ "
	TreeLast   = "└─ "
	TreeIndent = "  "
)

// SeparatorLight is the rule printed between sections.
const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase with accent color
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// StateStyle returns the style for an operation state: green for DONE, red
// for FAILED, yellow for QUEUED, muted for CANCELLED and accent otherwise.
func StateStyle(s types.OperationState) lipgloss.Style {
	switch s {
	case types.StateDone:
		return PassStyle
	case types.StateFailed:
		return FailStyle
	case types.StateQueued:
		return WarnStyle
	case types.StateCancelled:
		return MutedStyle
	default:
		return AccentStyle
	}
}

// RenderState renders a state name in its color.
func RenderState(s types.OperationState) string {
	return StateStyle(s).Render(string(s))
}

// StateIcon returns the icon for a state.
func StateIcon(s types.OperationState) string {
	switch s {
	case types.StateDone:
		return PassStyle.Render(IconPass)
	case types.StateFailed:
		return FailStyle.Render(IconFail)
	case types.StateCancelled:
		return MutedStyle.Render(IconSkip)
	case types.StateQueued:
		return WarnStyle.Render(IconWarn)
	default:
		return AccentStyle.Render(IconInfo)
	}
}

// RenderSeverity renders an audit event severity.
func RenderSeverity(s types.Severity) string {
	switch s {
	case types.SeverityError:
		return FailStyle.Render(string(s))
	case types.SeverityWarn:
		return WarnStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}
