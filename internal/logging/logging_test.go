package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNew_AutoIsJSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(&buf, "info", "auto")
	require.NoError(t, err)

	logger.Info("swallowed terminal", "window", "0x1400002")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "swallowed terminal", rec["msg"])
	require.Equal(t, "0x1400002", rec["window"])
}

func TestNew_TextAndLevelVar(t *testing.T) {
	var buf bytes.Buffer
	logger, level, err := New(&buf, "warning", "text")
	require.NoError(t, err)

	logger.Info("hidden")
	require.Empty(t, buf.String())

	level.Set(slog.LevelDebug)
	logger.Debug("shown", "pid", 42)
	require.True(t, strings.Contains(buf.String(), "msg=shown"), buf.String())
	require.True(t, strings.Contains(buf.String(), "pid=42"), buf.String())
}

func TestNew_RejectsUnknown(t *testing.T) {
	_, _, err := New(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
	_, _, err = New(&bytes.Buffer{}, "chatty", "text")
	require.Error(t, err)
	require.False(t, isTerminal(&bytes.Buffer{}))
}
