package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "warn", Format: "json"})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "agent", "a1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"agent":"a1"`)

	buf.Reset()
	logger, err = New(&buf, Options{Level: "error", Verbose: true})
	require.NoError(t, err)
	logger.Debug("debugging")
	assert.Contains(t, buf.String(), "msg=debugging")

	_, err = New(&buf, Options{Format: "xml"})
	assert.Error(t, err)
}
