package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, config Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	config.writer = output

	logger, err := New(&config)
	require.NoError(t, err)
	return logger, output
}

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		wantLevels []string
	}{
		{name: "debug", level: "debug", wantLevels: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{name: "info", level: "info", wantLevels: []string{"INFO", "WARN", "ERROR"}},
		{name: "warning alias", level: "warning", wantLevels: []string{"WARN", "ERROR"}},
		{name: "error", level: "error", wantLevels: []string{"ERROR"}},
		{name: "upper case", level: "DEBUG", wantLevels: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{name: "unknown defaults to info", level: "verbose", wantLevels: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("job polled")
			logger.Info("job created")
			logger.Warn("job status update skipped")
			logger.Error("job failed")

			var got []string
			for _, entry := range decodeLines(t, output) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.wantLevels, got)
		})
	}
}

func TestNew_Formats(t *testing.T) {
	t.Run("json with source", func(t *testing.T) {
		logger, output := newBuffered(t, Config{Level: "info", Format: "json", EnableSource: true})
		logger.Info("job created", slog.String("job_id", "abc"))

		entries := decodeLines(t, output)
		require.Len(t, entries, 1)
		assert.Equal(t, "abc", entries[0]["job_id"])
		require.Contains(t, entries[0], "source")
		assert.Contains(t, entries[0]["source"].(map[string]any), "file")
	})

	t.Run("console", func(t *testing.T) {
		logger, output := newBuffered(t, Config{Level: "info", Format: "console"})
		logger.Info("job created", slog.String("job_id", "abc"))

		// tint abbreviates levels
		assert.Contains(t, output.String(), "INF")
		assert.Contains(t, output.String(), "job created")
	})
}

func TestLogger_Component(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json"})

	logger.Component("worker").Info("job dispatched", slog.String("job_id", "12345"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "worker", entries[0]["component"])
	assert.Equal(t, "12345", entries[0]["job_id"])
	assert.Equal(t, "job dispatched", entries[0]["msg"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	logger, err := New(&Config{
		Level:  "info",
		Format: "text",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("key", "value"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "key=value")
	assert.NotContains(t, string(data), "\x1b[", "file output has no color codes")
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	logger, err := New(&Config{Output: filepath.Join(blocker, "service.log")})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestLogger_CloseStandardStreams(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", ""} {
		logger, err := New(&Config{Output: output})
		require.NoError(t, err)
		assert.NoError(t, logger.Close())
	}
}
