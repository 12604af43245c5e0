// Package config holds the settings of the event-sourcing core and reads
// them from EVENTCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/lock"
	"github.com/heianxing/axon-demo/core/repo"
	"github.com/heianxing/axon-demo/core/snapshot"
)

const envPrefix = "EVENTCORE_"

// Driver names a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverMongo    Driver = "mongo"
	DriverNATS     Driver = "nats"
)

var drivers = []Driver{DriverMemory, DriverSQLite, DriverPostgres, DriverMySQL, DriverMongo, DriverNATS}

type Config struct {
	// BatchSize is the page size of event reads.
	BatchSize int
	// SnapshotTrigger is the event count after which a snapshot is taken.
	SnapshotTrigger          int
	LockingStrategy          lock.Strategy
	ClearCountersAfterAppend bool

	StorageDriver Driver
	// StorageDSN is the connection string of the driver, unused for memory.
	StorageDSN string

	// MetricsAddr is the listen address of the metrics endpoint; empty
	// disables it.
	MetricsAddr string
	LogLevel    slog.Level
}

func Default() Config {
	return Config{
		BatchSize:                es.DefaultBatchSize,
		SnapshotTrigger:          snapshot.DefaultThreshold,
		LockingStrategy:          lock.Pessimistic,
		ClearCountersAfterAppend: true,
		StorageDriver:            DriverMemory,
		LogLevel:                 slog.LevelInfo,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.SnapshotTrigger < 1 {
		errs = append(errs, fmt.Errorf("snapshot trigger must be positive, got %d", c.SnapshotTrigger))
	}
	if !slices.Contains(drivers, c.StorageDriver) {
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	} else if c.StorageDriver != DriverMemory && c.StorageDSN == "" {
		errs = append(errs, fmt.Errorf("storage driver %s needs a dsn", c.StorageDriver))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: invalid config: %w", es.ErrIllegalArgument, err)
	}
	return nil
}

// FromEnv starts from Default and applies the EVENTCORE_* variables. The
// given dotenv files, or ./.env if none are given, are loaded first when
// they exist; variables already set in the environment win.
func FromEnv(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	c := Default()
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(envInt("BATCH_SIZE", &c.BatchSize))
	collect(envInt("SNAPSHOT_TRIGGER", &c.SnapshotTrigger))
	collect(envBool("CLEAR_COUNTERS_AFTER_APPEND", &c.ClearCountersAfterAppend))
	if v, ok := lookupEnv("LOCKING_STRATEGY"); ok {
		collect(c.LockingStrategy.UnmarshalText([]byte(v)))
	}
	if v, ok := lookupEnv("STORAGE_DRIVER"); ok {
		c.StorageDriver = Driver(strings.ToLower(v))
	}
	if v, ok := lookupEnv("STORAGE_DSN"); ok {
		c.StorageDSN = v
	}
	if v, ok := lookupEnv("METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		collect(c.LogLevel.UnmarshalText([]byte(v)))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("%w: read config from env: %w", es.ErrIllegalArgument, err)
	}
	return c, c.Validate()
}

// StoreOptions returns the event store options the config implies.
func (c Config) StoreOptions() []es.StoreOption {
	return []es.StoreOption{es.WithBatchSize(c.BatchSize)}
}

// TriggerOptions returns the snapshot trigger options the config implies.
func (c Config) TriggerOptions() []snapshot.TriggerOption {
	return []snapshot.TriggerOption{
		snapshot.WithThreshold(c.SnapshotTrigger),
		snapshot.WithClearCountersAfterAppend(c.ClearCountersAfterAppend),
	}
}

// RepoOptions returns the repository options the config implies.
func (c Config) RepoOptions() []repo.Option {
	return []repo.Option{repo.WithLockingStrategy(c.LockingStrategy)}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envInt(key string, dst *int) error {
	v, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}
