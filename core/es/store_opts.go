package es

import "log/slog"

type (
	valueOption[T any] struct{ v T }

	storeOpts struct {
		batchSize  int
		serializer Serializer
		classifier DuplicateKeyClassifier
		log        *slog.Logger
		metrics    Metrics
	}

	StoreOption interface{ applyToStore(*storeOpts) }

	BatchSizeOption  valueOption[int]
	SerializerOption valueOption[Serializer]
	ClassifierOption valueOption[DuplicateKeyClassifier]
	LogOption        valueOption[*slog.Logger]
	MetricsOption    valueOption[Metrics]
)

// WithBatchSize sets the page size of reads and full-store visits.
func WithBatchSize(n int) BatchSizeOption { return BatchSizeOption{v: n} }

// WithSerializer replaces the default [EventRegistry]. Stores that share
// payload types should share one serializer.
func WithSerializer(s Serializer) SerializerOption { return SerializerOption{v: s} }

// WithDuplicateKeyClassifier overrides the backend's own classifier.
func WithDuplicateKeyClassifier(c DuplicateKeyClassifier) ClassifierOption {
	return ClassifierOption{v: c}
}

func WithLog(l *slog.Logger) LogOption    { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption { return MetricsOption{v: m} }

func (o BatchSizeOption) applyToStore(s *storeOpts) {
	if o.v > 0 {
		s.batchSize = o.v
	}
}
func (o SerializerOption) applyToStore(s *storeOpts) { s.serializer = o.v }
func (o ClassifierOption) applyToStore(s *storeOpts) { s.classifier = o.v }
func (o LogOption) applyToStore(s *storeOpts)        { s.log = o.v }
func (o MetricsOption) applyToStore(s *storeOpts)    { s.metrics = o.v }

func newStoreOpts(opts ...StoreOption) storeOpts {
	options := storeOpts{
		batchSize: DefaultBatchSize,
		log:       slog.Default(),
		metrics:   NopMetrics(),
	}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	if options.serializer == nil {
		options.serializer = NewRegistry()
	}
	return options
}
