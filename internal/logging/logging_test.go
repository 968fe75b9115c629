package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
}

func TestInitWriter(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, InitWriter(&buf, "warn", "json"))

	slog.Info("[Test] hidden")
	slog.Warn("[Test] shown", "metric", "servers.a.cpu")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "[Test] shown", entry["msg"])
	require.Equal(t, "servers.a.cpu", entry["metric"])

	require.ErrorIs(t, InitWriter(&buf, "info", "xml"), coreerrors.ErrConfiguration)
}
