package ui

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

// TruncateSimple performs end truncation with a "..." suffix. UTF-8 safe.
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(text)
	return string(runes[:maxLen-3]) + "..."
}

// ShortID shortens a UUID-style id to its last n characters for tables.
// Ids that are already short are returned unchanged.
func ShortID(id string, n int) string {
	if n <= 0 || utf8.RuneCountInString(id) <= n {
		return id
	}
	runes := []rune(id)
	return "…" + string(runes[len(runes)-n:])
}

// PadRight pads s with spaces to width display cells. Styled text is
// measured without its escape sequences.
func PadRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// WrapText wraps text at word boundaries to fit within maxWidth.
// Preserves existing line breaks.
func WrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth = 80
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wrapLine(line, maxWidth)
	}
	return strings.Join(lines, "\n")
}

func wrapLine(line string, maxWidth int) string {
	if utf8.RuneCountInString(line) <= maxWidth {
		return line
	}
	var b strings.Builder
	cur := 0
	for _, word := range strings.Fields(line) {
		n := utf8.RuneCountInString(word)
		switch {
		case cur == 0:
			// first word on a line is written even if too long
		case cur+1+n <= maxWidth:
			b.WriteByte(' ')
			cur++
		default:
			b.WriteByte('\n')
			cur = 0
		}
		b.WriteString(word)
		cur += n
	}
	return b.String()
}
