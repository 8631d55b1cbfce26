package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISKANALYZER_ROOTS", "/data, /home ,")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/data", "/home"}, cfg.Roots)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Watch)
	assert.Equal(t, 200*time.Millisecond, cfg.RenameWindow)
	assert.Equal(t, 256, cfg.EventBuffer)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DISKANALYZER_ROOTS", "/data")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("WATCH", "true")

	cfg, err := Load([]string{"--log-level", "debug", "--watch=false", "--rename-window", "1s", "/extra"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Watch)
	assert.Equal(t, time.Second, cfg.RenameWindow)
	assert.Equal(t, []string{"/data", "/extra"}, cfg.Roots)
}

func TestLoadRequiresRoot(t *testing.T) {
	t.Setenv("DISKANALYZER_ROOTS", "")

	_, err := Load(nil)
	require.Error(t, err)
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("DISKANALYZER_ROOTS", "/data")
	t.Setenv("RENAME_WINDOW", "soon")
	t.Setenv("EVENT_BUFFER", "lots")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, cfg.RenameWindow)
	assert.Equal(t, 256, cfg.EventBuffer)
}

func TestLoadRejectsNonPositiveBuffer(t *testing.T) {
	t.Setenv("DISKANALYZER_ROOTS", "/data")

	_, err := Load([]string{"--event-buffer", "0"})
	require.Error(t, err)
}
