package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/lock"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, 100, c.BatchSize)
	require.Equal(t, 50, c.SnapshotTrigger)
	require.Equal(t, lock.Pessimistic, c.LockingStrategy)
	require.True(t, c.ClearCountersAfterAppend)
	require.Equal(t, DriverMemory, c.StorageDriver)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.BatchSize = 0
	c.StorageDriver = DriverPostgres
	err := c.Validate()
	require.ErrorIs(t, err, es.ErrIllegalArgument)
	require.ErrorContains(t, err, "batch size")
	require.ErrorContains(t, err, "needs a dsn")

	c = Default()
	c.StorageDriver = "oracle"
	require.ErrorContains(t, c.Validate(), "unknown storage driver")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("EVENTCORE_BATCH_SIZE", "25")
	t.Setenv("EVENTCORE_SNAPSHOT_TRIGGER", "10")
	t.Setenv("EVENTCORE_LOCKING_STRATEGY", "optimistic")
	t.Setenv("EVENTCORE_CLEAR_COUNTERS_AFTER_APPEND", "false")
	t.Setenv("EVENTCORE_STORAGE_DRIVER", "SQLite")
	t.Setenv("EVENTCORE_STORAGE_DSN", "file::memory:")
	t.Setenv("EVENTCORE_LOG_LEVEL", "debug")

	c, err := FromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, 25, c.BatchSize)
	require.Equal(t, 10, c.SnapshotTrigger)
	require.Equal(t, lock.Optimistic, c.LockingStrategy)
	require.False(t, c.ClearCountersAfterAppend)
	require.Equal(t, DriverSQLite, c.StorageDriver)
	require.Equal(t, "file::memory:", c.StorageDSN)
	require.Equal(t, slog.LevelDebug, c.LogLevel)

	require.Len(t, c.StoreOptions(), 1)
	require.Len(t, c.TriggerOptions(), 2)
	require.Len(t, c.RepoOptions(), 1)
}

func TestFromEnv_DotenvFile(t *testing.T) {
	t.Setenv("EVENTCORE_BATCH_SIZE", "7")
	t.Setenv("EVENTCORE_METRICS_ADDR", "")
	require.NoError(t, os.Unsetenv("EVENTCORE_METRICS_ADDR")) // restored by t.Setenv cleanup

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("EVENTCORE_BATCH_SIZE=9\nEVENTCORE_METRICS_ADDR=:9102\n"), 0o600))

	c, err := FromEnv(path)
	require.NoError(t, err)
	require.Equal(t, 7, c.BatchSize, "the environment wins over the file")
	require.Equal(t, ":9102", c.MetricsAddr)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("EVENTCORE_BATCH_SIZE", "many")
	t.Setenv("EVENTCORE_LOCKING_STRATEGY", "sometimes")

	_, err := FromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, es.ErrIllegalArgument)
	require.ErrorContains(t, err, "EVENTCORE_BATCH_SIZE")
	require.ErrorContains(t, err, "sometimes")
}
