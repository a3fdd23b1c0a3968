package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{level: "trace", visible: []string{"trace", "debug", "info"}},
		{level: "debug", visible: []string{"debug", "info"}, hidden: []string{"trace"}},
		{level: "info", visible: []string{"info", "warn"}, hidden: []string{"debug"}},
		{level: "warn", visible: []string{"warn", "error"}, hidden: []string{"info"}},
		{level: "error", visible: []string{"error"}, hidden: []string{"warn"}},
		{level: "bogus", visible: []string{"info"}, hidden: []string{"debug"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")
			logger.Error().Msg("error message")

			out := buf.String()
			for _, l := range tt.visible {
				assert.Contains(t, out, l+" message")
			}
			for _, l := range tt.hidden {
				assert.NotContains(t, out, l+" message")
			}
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Level: "info", Output: &buf}), "strip")
	logger.Info().Str("file", "Game.dll").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "strip", entry["component"])
	assert.Equal(t, "Game.dll", entry["file"])
	assert.Contains(t, entry, "time")
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, NoColor: true, Output: &buf})
	logger.Info().Int("removed", 3).Msg("Stripped attributes")

	out := buf.String()
	assert.Contains(t, out, "Stripped attributes")
	assert.Contains(t, out, "removed=3")
	assert.NotContains(t, out, "\x1b[")
}

func TestOpen_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strip.log")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	var console bytes.Buffer
	logger, closer, err := Open(Config{Level: "info", Pretty: true, Output: &console, File: path})
	require.NoError(t, err)
	logger.Info().Msg("Done")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "previous run\n"))
	assert.Contains(t, string(data), "Done")
	assert.NotContains(t, string(data), "\x1b[")
	assert.Contains(t, console.String(), "Done")
}

func TestOpen_WithoutFile(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := Open(Config{Level: "info", Output: &console})
	require.NoError(t, err)
	logger.Info().Msg("console only")
	assert.NoError(t, closer.Close())
	assert.Contains(t, console.String(), "console only")
}

func TestOpen_BadPath(t *testing.T) {
	_, _, err := Open(Config{File: filepath.Join(t.TempDir(), "missing", "strip.log")})
	assert.Error(t, err)
}

func TestOpen_ConcurrentLinesStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strip.log")
	var console bytes.Buffer
	logger, closer, err := Open(Config{Level: "info", Output: &console, File: path})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info().Int("worker", i).Int("n", j).Msg("line")
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, closer.Close())

	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	assert.Len(t, lines, 16*50)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Pretty)
	assert.Equal(t, os.Stderr, cfg.Output)
	assert.Empty(t, cfg.File)
}
