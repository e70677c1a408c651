package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("STRIX_LOG_LEVEL", "")
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "local", cfg.Broker)
		assert.Equal(t, 10*time.Millisecond, cfg.SlowSubscriber.Duration)
		assert.Equal(t, slog.LevelWarn, cfg.level())
		assert.NotEmpty(t, cfg.Questions)
	})

	t.Run("file and environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strix.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
name = "nightly"
broker = "nats"
interval = "1s"
questions = ["ping"]
`), 0o600))
		t.Setenv("STRIX_LOG_LEVEL", "debug")

		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "nightly", cfg.Name)
		assert.Equal(t, "nats", cfg.Broker)
		assert.Equal(t, time.Second, cfg.Interval.Duration)
		assert.Equal(t, []string{"ping"}, cfg.Questions)
		assert.Equal(t, slog.LevelDebug, cfg.level())
		assert.Equal(t, "strix.demo", cfg.Topic)
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte(`interval = "soon"`), 0o600))
		_, err := loadConfig(path)
		require.Error(t, err)

		_, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		require.Error(t, err)

		path = filepath.Join(t.TempDir(), "stalls.toml")
		require.NoError(t, os.WriteFile(path, []byte(`slow_subscriber_timeout = "0s"`), 0o600))
		_, err = loadConfig(path)
		require.Error(t, err)
	})
}
