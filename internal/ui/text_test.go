package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgefleet/c2d/internal/types"
)

func TestTruncateSimple(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short text unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"truncate with ellipsis", "hello world", 8, "hello..."},
		{"very short maxLen", "hello world", 3, "..."},
		{"empty string", "", 10, ""},
		{"unicode chars", "héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateSimple(tt.input, tt.maxLen))
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "op-1", ShortID("op-1", 8))
	assert.Equal(t, "…9c0e11", ShortID("0192f1e4-7c3a-7b21-9d4e-2f6b1a9c0e11", 6))
	assert.Equal(t, "abc", ShortID("abc", 0))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", PadRight("ab", 5))
	assert.Equal(t, "abcdef", PadRight("abcdef", 3))
	assert.Equal(t, "wörld ", PadRight("wörld", 6))
}

func TestWrapText(t *testing.T) {
	got := WrapText("the quick brown fox jumps", 10)
	assert.Equal(t, "the quick\nbrown fox\njumps", got)
	for _, line := range strings.Split(got, "\n") {
		assert.LessOrEqual(t, len(line), 10)
	}

	assert.Equal(t, "keep\nbreaks", WrapText("keep\nbreaks", 80))
	assert.Equal(t, "averyveryverylongword\nx", WrapText("averyveryverylongword x", 5))
}

func TestRenderStateWithoutColor(t *testing.T) {
	ForceColor(false)
	assert.Equal(t, "DONE", RenderState(types.StateDone))
	assert.Equal(t, "FAILED", RenderState(types.StateFailed))
	assert.Equal(t, IconPass, StateIcon(types.StateDone))
	assert.Equal(t, "ERROR", RenderSeverity(types.SeverityError))
	assert.Equal(t, "QUEUE", RenderCategory("queue"))
}

func TestRenderStateWithColor(t *testing.T) {
	ForceColor(true)
	t.Cleanup(func() { ForceColor(false) })
	out := RenderState(types.StateFailed)
	assert.Contains(t, out, "FAILED")
	assert.NotEqual(t, "FAILED", out, "expected escape sequences")
}

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		unset []string
		want  bool
	}{
		{"NO_COLOR disables color", map[string]string{"NO_COLOR": "1"}, []string{"CLICOLOR", "CLICOLOR_FORCE"}, false},
		{"CLICOLOR=0 disables color", map[string]string{"CLICOLOR": "0"}, []string{"NO_COLOR", "CLICOLOR_FORCE"}, false},
		{"CLICOLOR_FORCE enables color in non-TTY", map[string]string{"CLICOLOR_FORCE": "1"}, []string{"NO_COLOR", "CLICOLOR"}, true},
		{"NO_COLOR wins over CLICOLOR_FORCE", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, []string{"CLICOLOR"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range tt.unset {
				t.Setenv(k, "")
				unsetEnv(t, k)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, ShouldUseColor())
		})
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	if IsTerminal() {
		t.Skip("stdout is a terminal")
	}
	assert.Equal(t, 100, TerminalWidth(100))
}
