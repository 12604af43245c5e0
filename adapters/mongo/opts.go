package mongo

import (
	"log/slog"
	"time"
)

type (
	valueOption[T any] struct{ v T }

	backendOpts struct {
		log       *slog.Logger
		events    string
		snapshots string
		timeout   time.Duration
	}

	Option interface{ applyToBackend(*backendOpts) }

	LogOption                 valueOption[*slog.Logger]
	EventsCollectionOption    valueOption[string]
	SnapshotsCollectionOption valueOption[string]
	TimeoutOption             valueOption[time.Duration]
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithEventsCollection renames the event collection. Default "domain_events".
func WithEventsCollection(name string) EventsCollectionOption {
	return EventsCollectionOption{v: name}
}

// WithSnapshotsCollection renames the snapshot collection. Default "snapshot_events".
func WithSnapshotsCollection(name string) SnapshotsCollectionOption {
	return SnapshotsCollectionOption{v: name}
}

// WithTimeout bounds connecting and index creation in Open. Default 10s.
func WithTimeout(d time.Duration) TimeoutOption { return TimeoutOption{v: d} }

func (o LogOption) applyToBackend(b *backendOpts)                 { b.log = o.v }
func (o EventsCollectionOption) applyToBackend(b *backendOpts)    { b.events = o.v }
func (o SnapshotsCollectionOption) applyToBackend(b *backendOpts) { b.snapshots = o.v }
func (o TimeoutOption) applyToBackend(b *backendOpts)             { b.timeout = o.v }

func newOpts(opts ...Option) backendOpts {
	options := backendOpts{
		log:       slog.Default(),
		events:    "domain_events",
		snapshots: "snapshot_events",
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToBackend(&options)
	}
	return options
}
