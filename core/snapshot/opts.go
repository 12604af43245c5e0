package snapshot

import (
	"log/slog"

	"github.com/heianxing/axon-demo/core/es"
)

// DefaultThreshold is the number of events after which a snapshot is taken.
const DefaultThreshold = 50

type (
	valueOption[T any] struct{ v T }

	triggerOpts struct {
		threshold                int
		clearCountersAfterAppend bool
		log                      *slog.Logger
		metrics                  es.Metrics
	}

	snapshotterOpts struct {
		executor Executor
		log      *slog.Logger
	}

	TriggerOption     interface{ applyToTrigger(*triggerOpts) }
	SnapshotterOption interface{ applyToSnapshotter(*snapshotterOpts) }

	ThresholdOption     valueOption[int]
	ClearCountersOption valueOption[bool]
	ExecutorOption      valueOption[Executor]
	LogOption           valueOption[*slog.Logger]
	MetricsOption       valueOption[es.Metrics]
)

// WithThreshold sets how many events may accumulate before a snapshot is
// scheduled. Values below 1 are ignored.
func WithThreshold(n int) ThresholdOption { return ThresholdOption{v: n} }

// WithClearCountersAfterAppend controls whether counters are dropped after
// every append. Keep them only if a cache that reports evictions holds the
// aggregates, otherwise reloads count events twice.
func WithClearCountersAfterAppend(clear bool) ClearCountersOption {
	return ClearCountersOption{v: clear}
}

// WithExecutor sets how snapshot tasks run. Defaults to [DirectExecutor].
func WithExecutor(e Executor) ExecutorOption { return ExecutorOption{v: e} }

func WithLog(l *slog.Logger) LogOption       { return LogOption{v: l} }
func WithMetrics(m es.Metrics) MetricsOption { return MetricsOption{v: m} }

func (o ThresholdOption) applyToTrigger(t *triggerOpts) {
	if o.v > 0 {
		t.threshold = o.v
	}
}

func (o ClearCountersOption) applyToTrigger(t *triggerOpts)    { t.clearCountersAfterAppend = o.v }
func (o LogOption) applyToTrigger(t *triggerOpts)              { t.log = o.v }
func (o MetricsOption) applyToTrigger(t *triggerOpts)          { t.metrics = o.v }
func (o ExecutorOption) applyToSnapshotter(s *snapshotterOpts) { s.executor = o.v }
func (o LogOption) applyToSnapshotter(s *snapshotterOpts)      { s.log = o.v }

func newTriggerOpts(opts ...TriggerOption) triggerOpts {
	options := triggerOpts{
		threshold:                DefaultThreshold,
		clearCountersAfterAppend: true,
		log:                      slog.Default(),
		metrics:                  es.NopMetrics(),
	}
	for _, opt := range opts {
		opt.applyToTrigger(&options)
	}
	return options
}

func newSnapshotterOpts(opts ...SnapshotterOption) snapshotterOpts {
	options := snapshotterOpts{
		executor: DirectExecutor{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt.applyToSnapshotter(&options)
	}
	return options
}
