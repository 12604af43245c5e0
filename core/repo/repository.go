package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

// Repository gives access to the aggregates of one type.
type Repository[T es.Aggregate] interface {
	// Add registers a new aggregate with the current unit of work.
	Add(ctx context.Context, agg T) error
	// Load returns the aggregate registered with the current unit of work.
	Load(ctx context.Context, id es.Identifier, opts ...LoadOption) (T, error)
}

// Storage is the persistence a [Base] repository delegates to.
type Storage[T es.Aggregate] interface {
	DoLoad(ctx context.Context, id es.Identifier, expected *es.Version) (T, error)
	DoSave(ctx context.Context, agg T) error
}

// Base implements the unit of work bookkeeping shared by all repositories.
type Base[T es.Aggregate] struct {
	storage           Storage[T]
	aggType           string
	publisher         es.EventPublisher
	resolvesConflicts bool
	log               *slog.Logger
	metrics           es.Metrics
}

func NewBase[T es.Aggregate](storage Storage[T], opts ...Option) *Base[T] {
	options := newRepoOpts(opts...)
	return &Base[T]{
		storage:           storage,
		aggType:           options.aggType,
		publisher:         options.publisher,
		resolvesConflicts: options.resolvesConflicts,
		log:               options.log.With(slog.String("repo", options.aggType)),
		metrics:           options.metrics,
	}
}

// Add fails with [es.ErrIllegalArgument] for aggregates that were persisted
// before; those must be loaded.
func (r *Base[T]) Add(ctx context.Context, agg T) error {
	if agg.Version().IsSet() {
		return fmt.Errorf(
			"%w: aggregate %s already has version %d, load it instead",
			es.ErrIllegalArgument, agg.AggregateID(), agg.Version(),
		)
	}
	u, ok := uow.Current(ctx)
	if !ok {
		return fmt.Errorf("add aggregate %s: %w", agg.AggregateID(), uow.ErrNotStarted)
	}
	u.RegisterAggregate(agg, r.save)
	return nil
}

func (r *Base[T]) Load(ctx context.Context, id es.Identifier, opts ...LoadOption) (T, error) {
	var zero T
	var lo loadOpts
	for _, opt := range opts {
		opt(&lo)
	}

	u, ok := uow.Current(ctx)
	if !ok {
		return zero, fmt.Errorf("load aggregate %s: %w", id, uow.ErrNotStarted)
	}

	timer := r.metrics.RepoLoadDuration(r.aggType)
	agg, err := r.storage.DoLoad(ctx, id, lo.expected)
	timer.ObserveDuration()
	if err != nil {
		return zero, err
	}
	if err := r.validateOnLoad(agg, lo.expected); err != nil {
		return zero, err
	}

	registered, ok := u.RegisterAggregate(agg, r.save).(T)
	if !ok {
		return zero, fmt.Errorf("%w: aggregate %s is registered with another type", es.ErrIllegalState, id)
	}
	r.log.Debug("loaded", slog.Group("agg", id.SlogAttr(), registered.Version().SlogAttr()))
	return registered, nil
}

func (r *Base[T]) validateOnLoad(agg T, expected *es.Version) error {
	if expected == nil || *expected >= agg.Version() || r.resolvesConflicts {
		return nil
	}
	return fmt.Errorf(
		"%w: aggregate %s has version %d, expected %d",
		es.ErrConflictingAggregateVersion, agg.AggregateID(), agg.Version(), *expected,
	)
}

// save is the callback the unit of work invokes on commit.
func (r *Base[T]) save(ctx context.Context, a es.Aggregate) error {
	agg, ok := a.(T)
	if !ok {
		return fmt.Errorf("%w: cannot save %T", es.ErrIllegalArgument, a)
	}
	defer r.metrics.RepoSaveDuration(r.aggType).ObserveDuration()

	events := agg.Uncommitted()
	if err := r.storage.DoSave(ctx, agg); err != nil {
		return err
	}
	agg.CommitEvents()

	if r.publisher != nil {
		if u, ok := uow.Current(ctx); ok {
			for _, e := range events {
				u.PublishEvent(e, r.publisher)
			}
		}
	}
	return nil
}

var _ Repository[es.Aggregate] = (*Base[es.Aggregate])(nil)
