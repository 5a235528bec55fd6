package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.Scheduler.PageSize)
	assert.Equal(t, 1000, cfg.Fanout.BatchSize)
	assert.Equal(t, time.Minute, cfg.Consumer.MinIdle)
	assert.Equal(t, 24*time.Hour, cfg.Consumer.HandledTTL)
	assert.False(t, cfg.Queue.KeepFailed)
	assert.Zero(t, cfg.Queue.Concurrency)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  driver: sqlite
  dsn: ":memory:"
queue:
  concurrency: 8
scheduler:
  interval: 30s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("FANOUT_QUEUE_CONCURRENCY", "12")
	t.Setenv("FANOUT_REDIS_ADDR", "redis:6380")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 12, cfg.Queue.Concurrency)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestOrDefault(t *testing.T) {
	tests := []struct {
		v, def, want int
	}{
		{0, 5, 5},
		{-1, 5, 5},
		{3, 5, 3},
		{2, 5, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OrDefault(tt.v, tt.def), "OrDefault(%d, %d)", tt.v, tt.def)
	}
}
