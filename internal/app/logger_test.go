package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"}, "worker")
	logger.Info("dropped")
	logger.Warn("kept", "event_id", "e-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	require.Equal(t, "kept", record["msg"])
	require.Equal(t, "worker", record["component"])
	require.Equal(t, "e-1", record["event_id"])
}

func TestParseLevel(t *testing.T) {
	for _, v := range []string{"", "info", "DEBUG", "warning", "error"} {
		_, err := parseLevel(v)
		require.NoError(t, err, v)
	}
	_, err := parseLevel("verbose")
	require.Error(t, err)
}
