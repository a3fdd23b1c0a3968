package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envSample struct {
	Name     string        `env:"TEST_ATTRSTRIP_NAME"`
	Count    int           `env:"TEST_ATTRSTRIP_COUNT"`
	Size     int64         `env:"TEST_ATTRSTRIP_SIZE"`
	Workers  uint8         `env:"TEST_ATTRSTRIP_WORKERS"`
	Enabled  bool          `env:"TEST_ATTRSTRIP_ENABLED"`
	Timeout  time.Duration `env:"TEST_ATTRSTRIP_TIMEOUT"`
	List     []string      `env:"TEST_ATTRSTRIP_LIST"`
	Untagged string
	Nested   struct {
		Value string `env:"TEST_ATTRSTRIP_NESTED"`
	}
	hidden string `env:"TEST_ATTRSTRIP_HIDDEN"`
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TEST_ATTRSTRIP_NAME", "game")
	t.Setenv("TEST_ATTRSTRIP_COUNT", "3")
	t.Setenv("TEST_ATTRSTRIP_SIZE", "1048576")
	t.Setenv("TEST_ATTRSTRIP_WORKERS", "7")
	t.Setenv("TEST_ATTRSTRIP_ENABLED", "true")
	t.Setenv("TEST_ATTRSTRIP_TIMEOUT", "1m30s")
	t.Setenv("TEST_ATTRSTRIP_LIST", "a, b,,c")
	t.Setenv("TEST_ATTRSTRIP_NESTED", "inner")
	t.Setenv("TEST_ATTRSTRIP_HIDDEN", "nope")

	cfg := envSample{Untagged: "kept"}
	require.NoError(t, LoadFromEnv(&cfg))

	assert.Equal(t, "game", cfg.Name)
	assert.Equal(t, 3, cfg.Count)
	assert.Equal(t, int64(1048576), cfg.Size)
	assert.Equal(t, uint8(7), cfg.Workers)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.List)
	assert.Equal(t, "kept", cfg.Untagged)
	assert.Equal(t, "inner", cfg.Nested.Value)
	assert.Empty(t, cfg.hidden)
}

func TestLoadFromEnv_UnsetLeavesDefaults(t *testing.T) {
	t.Setenv("TEST_ATTRSTRIP_NAME", "")

	cfg := envSample{Name: "default", Count: 5}
	require.NoError(t, LoadFromEnv(&cfg))
	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, 5, cfg.Count)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "int", key: "TEST_ATTRSTRIP_COUNT", value: "three"},
		{name: "uint overflow", key: "TEST_ATTRSTRIP_WORKERS", value: "300"},
		{name: "bool", key: "TEST_ATTRSTRIP_ENABLED", value: "maybe"},
		{name: "duration", key: "TEST_ATTRSTRIP_TIMEOUT", value: "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := LoadFromEnv(&envSample{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadFromEnv_RequiresPointer(t *testing.T) {
	assert.Error(t, LoadFromEnv(envSample{}))
	assert.Error(t, LoadFromEnv((*envSample)(nil)))
}
