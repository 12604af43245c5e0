package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeReadDuration    *prometheus.HistogramVec
	storeAppendDuration  *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration *prometheus.HistogramVec
	repoSaveDuration *prometheus.HistogramVec

	lockWaitDuration *prometheus.HistogramVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Snapshot metrics
	snapshotsScheduled   *prometheus.CounterVec
	snapshotSaveDuration *prometheus.HistogramVec

	// Unit of work metrics
	unitsOfWork     *prometheus.CounterVec
	eventsPublished prometheus.Counter
}

// NewMetrics registers the event sourcing metrics with reg.
func NewMetrics(reg prometheus.Registerer) es.Metrics {
	m := &esMetrics{
		storeReadDuration:    histogram("store", "read_duration_seconds", "Event store read latency in seconds", "aggregate_type"),
		storeAppendDuration:  histogram("store", "append_duration_seconds", "Event store append latency in seconds", "aggregate_type"),
		eventsAppended:       counter("store", "events_appended_total", "Total number of events appended", "aggregate_type"),
		concurrencyConflicts: counter("store", "concurrency_conflicts_total", "Total number of appends rejected for an already used sequence number", "aggregate_type"),

		repoLoadDuration: histogram("repo", "load_duration_seconds", "Repository load latency in seconds", "aggregate_type"),
		repoSaveDuration: histogram("repo", "save_duration_seconds", "Repository save latency in seconds", "aggregate_type"),

		lockWaitDuration: histogram("lock", "wait_duration_seconds", "Time spent waiting for an aggregate lock in seconds", "strategy"),

		cacheHits:   counter("cache", "hits_total", "Total number of aggregate cache hits", "aggregate_type"),
		cacheMisses: counter("cache", "misses_total", "Total number of aggregate cache misses", "aggregate_type"),

		snapshotsScheduled:   counter("snapshot", "scheduled_total", "Total number of scheduled snapshots", "aggregate_type"),
		snapshotSaveDuration: histogram("snapshot", "save_duration_seconds", "Snapshot save latency in seconds", "aggregate_type"),

		unitsOfWork: counter("uow", "finished_total", "Total number of finished units of work", "outcome"),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "events_published_total",
			Help:      "Total number of events published after commit",
		}),
	}

	reg.MustRegister(
		m.storeReadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.lockWaitDuration,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotsScheduled,
		m.snapshotSaveDuration,
		m.unitsOfWork,
		m.eventsPublished,
	)

	return m
}

func (m *esMetrics) StoreReadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeReadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) LockWaitDuration(strategy string) metrics.Timer {
	return newTimer(m.lockWaitDuration.WithLabelValues(strategy))
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotScheduled(aggType string) {
	m.snapshotsScheduled.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) UnitOfWorkCommitted()  { m.unitsOfWork.WithLabelValues("committed").Inc() }
func (m *esMetrics) UnitOfWorkRolledBack() { m.unitsOfWork.WithLabelValues("rolled_back").Inc() }

func (m *esMetrics) EventsPublished(count int) {
	m.eventsPublished.Add(float64(count))
}

var _ es.Metrics = (*esMetrics)(nil)
