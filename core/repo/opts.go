package repo

import (
	"log/slog"

	"github.com/heianxing/axon-demo/core/cache"
	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/lock"
	"github.com/heianxing/axon-demo/core/snapshot"
)

type (
	valueOption[T any] struct{ v T }

	repoOpts struct {
		log               *slog.Logger
		metrics           es.Metrics
		publisher         es.EventPublisher
		locks             lock.Manager
		strategy          lock.Strategy
		strategySet       bool
		trigger           snapshot.Trigger
		resolver          ConflictResolver
		cache             cache.Cache
		aggType           string
		resolvesConflicts bool
	}

	Option interface{ applyToRepo(*repoOpts) }

	LogOption              valueOption[*slog.Logger]
	MetricsOption          valueOption[es.Metrics]
	PublisherOption        valueOption[es.EventPublisher]
	LockManagerOption      valueOption[lock.Manager]
	LockingStrategyOption  valueOption[lock.Strategy]
	TriggerOption          valueOption[snapshot.Trigger]
	ConflictResolverOption valueOption[ConflictResolver]
	CacheOption            valueOption[cache.Cache]
	aggTypeOption          valueOption[string]
	conflictsOption        valueOption[bool]
)

func WithLog(l *slog.Logger) LogOption       { return LogOption{v: l} }
func WithMetrics(m es.Metrics) MetricsOption { return MetricsOption{v: m} }

// WithPublisher publishes saved events when the unit of work commits.
func WithPublisher(p es.EventPublisher) PublisherOption { return PublisherOption{v: p} }

// WithLockManager sets the lock manager. It takes precedence over
// [WithLockingStrategy].
func WithLockManager(m lock.Manager) LockManagerOption { return LockManagerOption{v: m} }

// WithLockingStrategy selects the lock manager by strategy. Pessimistic if
// not set.
func WithLockingStrategy(s lock.Strategy) LockingStrategyOption {
	return LockingStrategyOption{v: s}
}

func WithTrigger(t snapshot.Trigger) TriggerOption { return TriggerOption{v: t} }

// WithConflictResolver lets loads with a stale expected version proceed.
// The resolver decides at prepare-commit whether the changes conflict.
func WithConflictResolver(r ConflictResolver) ConflictResolverOption {
	return ConflictResolverOption{v: r}
}

// WithCache keeps loaded aggregates in c. Cached aggregates are shared
// between units of work, so only pessimistic locking is allowed.
func WithCache(c cache.Cache) CacheOption { return CacheOption{v: c} }

func (o LogOption) applyToRepo(r *repoOpts)              { r.log = o.v }
func (o MetricsOption) applyToRepo(r *repoOpts)          { r.metrics = o.v }
func (o PublisherOption) applyToRepo(r *repoOpts)        { r.publisher = o.v }
func (o LockManagerOption) applyToRepo(r *repoOpts)      { r.locks = o.v }
func (o TriggerOption) applyToRepo(r *repoOpts)          { r.trigger = o.v }
func (o ConflictResolverOption) applyToRepo(r *repoOpts) { r.resolver = o.v }
func (o CacheOption) applyToRepo(r *repoOpts)            { r.cache = o.v }
func (o aggTypeOption) applyToRepo(r *repoOpts)          { r.aggType = o.v }
func (o conflictsOption) applyToRepo(r *repoOpts)        { r.resolvesConflicts = o.v }

func (o LockingStrategyOption) applyToRepo(r *repoOpts) {
	r.strategy = o.v
	r.strategySet = true
}

func newRepoOpts(opts ...Option) repoOpts {
	options := repoOpts{
		log:      slog.Default(),
		metrics:  es.NopMetrics(),
		strategy: lock.Pessimistic,
		trigger:  snapshot.NoTrigger{},
	}
	for _, opt := range opts {
		opt.applyToRepo(&options)
	}
	return options
}

// LoadOption configures a single load.
type LoadOption func(*loadOpts)

type loadOpts struct {
	expected *es.Version
}

// WithExpectedVersion fails the load with
// [es.ErrConflictingAggregateVersion] if the aggregate moved past v.
func WithExpectedVersion(v es.Version) LoadOption {
	return func(o *loadOpts) { o.expected = &v }
}
