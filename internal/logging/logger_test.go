package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf}).WithComponent("engine")

	logger.Debug().Msg("hidden")
	logger.Info().Int("records", 3).Msg("run finished")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, float64(3), entry["records"])
	assert.Equal(t, "run finished", entry["message"])
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Output: &buf}).WithField("run_id", "abc").Info().Msg("x")
	assert.Contains(t, buf.String(), `"run_id":"abc"`)
}

func TestOpenOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tflog.log")

	w, closeFn, err := OpenOutput(path)
	require.NoError(t, err)
	New(Config{Output: w}).Info().Msg("to file")
	require.NoError(t, closeFn())

	_, _, err = OpenOutput(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}
