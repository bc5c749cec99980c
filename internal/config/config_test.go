package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresTelegramCredentials(t *testing.T) {
	t.Setenv("TG_API_ID", "")
	t.Setenv("TG_API_HASH", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TG_API_ID", "12345")
	t.Setenv("TG_API_HASH", "abcdef")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.TGApiID)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "data/media", cfg.MediaDir)
	assert.Equal(t, 2.0, cfg.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, cfg.VisionTimeout)
	assert.Equal(t, "data/archive.json", cfg.SnapshotPath())
	assert.False(t, cfg.HasVisionKey())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TG_API_ID", "12345")
	t.Setenv("TG_API_HASH", "abcdef")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_TIMEOUT_SECONDS", "60")
	t.Setenv("TG_REQUESTS_PER_SECOND", "1.5")
	t.Setenv("ARCHIVER_DATA_DIR", "/var/archive")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HasVisionKey())
	assert.Equal(t, 60*time.Second, cfg.VisionTimeout)
	assert.Equal(t, 1.5, cfg.RequestsPerSecond)
	assert.Equal(t, "/var/archive/archive.json", cfg.SnapshotPath())
}
