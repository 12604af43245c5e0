package es

import "github.com/heianxing/axon-demo/core/metrics"

// Metrics is the instrumentation surface of the event sourcing core.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// Store operations
	StoreReadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer

	// Locks
	LockWaitDuration(strategy string) metrics.Timer

	// Cache
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Snapshots
	SnapshotScheduled(aggType string)
	SnapshotSaveDuration(aggType string) metrics.Timer

	// Units of work
	UnitOfWorkCommitted()
	UnitOfWorkRolledBack()

	// Publication
	EventsPublished(count int)
}

type nopMetrics struct{}

func (nopMetrics) StoreReadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)               {}
func (nopMetrics) ConcurrencyConflict(string)               {}

func (nopMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopMetrics) LockWaitDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopMetrics) CacheHit(string)  {}
func (nopMetrics) CacheMiss(string) {}

func (nopMetrics) SnapshotScheduled(string)                  {}
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopMetrics) UnitOfWorkCommitted()  {}
func (nopMetrics) UnitOfWorkRolledBack() {}

func (nopMetrics) EventsPublished(int) {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
