package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, "3001", cfg.Port)
	require.Equal(t, "general", cfg.DefaultRoom)
	require.Equal(t, 5000, cfg.HistoryCap)
	require.Equal(t, 100, cfg.BacklogSize)
	require.Equal(t, 10*time.Second, cfg.TypingTTL)
	require.False(t, cfg.DebugRoutes)
	require.Empty(t, cfg.AMQPURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAT_PORT", "8080")
	t.Setenv("CHAT_HISTORY_CAP", "10")
	t.Setenv("CHAT_TYPING_TTL", "3s")
	t.Setenv("CHAT_DEBUG_ROUTES", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 10, cfg.HistoryCap)
	require.Equal(t, 3*time.Second, cfg.TypingTTL)
	require.True(t, cfg.DebugRoutes)
}

func TestLoadFromDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_DEFAULT_ROOM=lobby\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHAT_DEFAULT_ROOM") })

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "lobby", cfg.DefaultRoom)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CHAT_BACKLOG_SIZE", "0")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("CHAT_BACKLOG_SIZE", "5")
	t.Setenv("CHAT_TYPING_TTL", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
