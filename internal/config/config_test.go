package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 30, cfg.Store.OpenAttempts)
	assert.Equal(t, time.Second, cfg.Store.OpenBackoff)
	assert.Equal(t, BackendNone, cfg.Remote.Backend)
	assert.False(t, cfg.Remote.UploadDB)
	assert.True(t, cfg.Remote.DeleteReplayed)
	assert.Equal(t, "1-12:small,13-16:large", cfg.SeatMap)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
	assert.True(t, cfg.Throttle.Enabled)
	assert.Equal(t, 3, cfg.Throttle.Capacity)
	assert.Equal(t, time.Minute, cfg.Throttle.RefillInterval)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REMOTE_BACKEND", "fs")
	t.Setenv("UPLOAD_DB", "true")
	t.Setenv("REMOTE_TIMEOUT", "5s")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, BackendFS, cfg.Remote.Backend)
	assert.True(t, cfg.Remote.UploadDB)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "cache:6380", cfg.Redis.Address())
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Cleanup(func() { _ = os.Unsetenv("SEAT_MAP") })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=1111\nSEAT_MAP=1-2:large\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "1-2:large", cfg.SeatMap)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Setenv("REMOTE_BACKEND", "s3")
	_, err := Load(missing)
	assert.Error(t, err)

	t.Setenv("REMOTE_BACKEND", "drive")
	_, err = Load(missing)
	assert.Error(t, err)

	t.Setenv("REMOTE_BACKEND", "none")
	t.Setenv("STORE_DRIVER", "mysql")
	_, err = Load(missing)
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("BACKUP_THROTTLE_BURST", "0")
	_, err = Load(missing)
	assert.Error(t, err)

	t.Setenv("BACKUP_THROTTLE_BURST", "3")
	t.Setenv("STORE_OPEN_BACKOFF", "soon")
	_, err = Load(missing)
	assert.ErrorContains(t, err, "parse env")
}
