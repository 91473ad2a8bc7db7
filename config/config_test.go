package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytdlapi/config"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		for _, key := range []string{
			"YTDLAPI_PORT", "YTDLAPI_MAX_CONCURRENCY", "YTDLAPI_AUTH_MODE",
			"YTDLAPI_THROTTLE_FREEDISK", "TASK_RETENTION_MINUTES", "TASK_CLEANUP_INTERVAL_SECONDS",
			"FFMPEG_PATH", "YTDLAPI_API_KEYS",
		} {
			t.Setenv(key, "")
		}

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "49153", cfg.Port)
		assert.Equal(t, "127.0.0.1", cfg.Host)
		assert.Equal(t, 4, cfg.MaxConcurrency)
		assert.Equal(t, 100, cfg.QueueSize)
		assert.Equal(t, config.ModePrivate, cfg.AuthMode)
		assert.Equal(t, "yt-dlp", cfg.YTDLPBin)
		assert.Equal(t, "", cfg.FFBin)
		assert.Equal(t, 30, cfg.TaskRetentionMinutes)
		assert.Equal(t, 60, cfg.TaskCleanupIntervalSeconds)
		assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeDisk)
		assert.Equal(t, 30*time.Minute, cfg.RetentionWindow())
		assert.Equal(t, time.Minute, cfg.SweepInterval())
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("YTDLAPI_PORT", "9999")
		t.Setenv("YTDLAPI_MAX_CONCURRENCY", "10")
		t.Setenv("YTDLAPI_AUTH_MODE", "Unprivate")
		t.Setenv("YTDLAPI_API_KEYS", "alpha,beta")
		t.Setenv("YTDLAPI_THROTTLE_FREEDISK", "50MB")
		t.Setenv("TASK_RETENTION_MINUTES", "5")
		t.Setenv("TASK_CLEANUP_INTERVAL_SECONDS", "15")
		t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 10, cfg.MaxConcurrency)
		assert.Equal(t, config.ModeUnprivate, cfg.AuthMode)
		assert.Equal(t, []string{"alpha", "beta"}, cfg.APIKeys)
		assert.Equal(t, int64(50*1024*1024), cfg.ThrottleFreeDisk)
		assert.Equal(t, 5*time.Minute, cfg.RetentionWindow())
		assert.Equal(t, 15*time.Second, cfg.SweepInterval())
		assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFBin)
	})

	t.Run("falls back on unparseable retention settings", func(t *testing.T) {
		t.Setenv("TASK_RETENTION_MINUTES", "half an hour")
		t.Setenv("TASK_CLEANUP_INTERVAL_SECONDS", "10s")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, 30, cfg.TaskRetentionMinutes)
		assert.Equal(t, 60, cfg.TaskCleanupIntervalSeconds)
	})

	t.Run("rejects unprivate mode without keys", func(t *testing.T) {
		t.Setenv("YTDLAPI_AUTH_MODE", "unprivate")
		t.Setenv("YTDLAPI_API_KEYS", "")

		_, err := config.Load()
		assert.Error(t, err)
	})
}

func TestConfigFloors(t *testing.T) {
	cfg := &config.Config{TaskRetentionMinutes: 0, TaskCleanupIntervalSeconds: 1}
	assert.Equal(t, time.Minute, cfg.RetentionWindow())
	assert.Equal(t, 10*time.Second, cfg.SweepInterval())

	cfg = &config.Config{TaskRetentionMinutes: -3, TaskCleanupIntervalSeconds: -1}
	assert.Equal(t, time.Minute, cfg.RetentionWindow())
	assert.Equal(t, 10*time.Second, cfg.SweepInterval())
}

func TestConfigValidate(t *testing.T) {
	valid := config.Config{AuthMode: config.ModePublic, MaxConcurrency: 1, QueueSize: 1}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.AuthMode = "secret"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.MaxConcurrency = 0
	assert.Error(t, bad.Validate())
}
