package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8385", cfg.ListenAddr)
	assert.Equal(t, EmbedProvider("ollama"), cfg.EmbedProvider)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 3, cfg.WriteRetries)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
	assert.GreaterOrEqual(t, cfg.QueryFanout, 3)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MEMCORD_LISTEN_ADDR", ":9999")
	t.Setenv("MEMCORD_WRITE_RETRIES", "5")
	t.Setenv("MEMCORD_STORE_TIMEOUT", "2s")
	t.Setenv("MEMCORD_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.WriteRetries)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memcord.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":7777\"\nwrite_retries: 7\n"), 0o600))
	t.Setenv("MEMCORD_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.WriteRetries)
}

func TestQueryFanoutFloor(t *testing.T) {
	t.Setenv("MEMCORD_QUERY_FANOUT", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.QueryFanout, "fanout below the floor is raised")
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MEMCORD_WRITE_RETRIES", "not-a-number")
	t.Setenv("MEMCORD_STORE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WriteRetries)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
}
