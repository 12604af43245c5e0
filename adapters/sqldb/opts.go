package sqldb

import "log/slog"

type (
	valueOption[T any] struct{ v T }

	backendOpts struct {
		log       *slog.Logger
		events    string
		snapshots string
		migrate   bool
	}

	Option interface{ applyToBackend(*backendOpts) }

	LogOption            valueOption[*slog.Logger]
	EventsTableOption    valueOption[string]
	SnapshotsTableOption valueOption[string]
	MigrateOption        valueOption[bool]
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithEventsTable renames the event table. Default "domain_events".
func WithEventsTable(name string) EventsTableOption { return EventsTableOption{v: name} }

// WithSnapshotsTable renames the snapshot table. Default "snapshot_events".
func WithSnapshotsTable(name string) SnapshotsTableOption { return SnapshotsTableOption{v: name} }

// WithMigrate controls whether Open creates missing tables. Default true.
func WithMigrate(enabled bool) MigrateOption { return MigrateOption{v: enabled} }

func (o LogOption) applyToBackend(b *backendOpts)            { b.log = o.v }
func (o EventsTableOption) applyToBackend(b *backendOpts)    { b.events = o.v }
func (o SnapshotsTableOption) applyToBackend(b *backendOpts) { b.snapshots = o.v }
func (o MigrateOption) applyToBackend(b *backendOpts)        { b.migrate = o.v }

func newOpts(opts ...Option) backendOpts {
	options := backendOpts{
		log:       slog.Default(),
		events:    "domain_events",
		snapshots: "snapshot_events",
		migrate:   true,
	}
	for _, opt := range opts {
		opt.applyToBackend(&options)
	}
	return options
}
