package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/heianxing/axon-demo/core/cache"
	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/lock"
	"github.com/heianxing/axon-demo/core/snapshot"
	"github.com/heianxing/axon-demo/core/uow"
)

// Factory creates the empty aggregate events are replayed into.
type Factory[T es.Aggregate] func(id es.Identifier) T

// EventSourcing is a locking repository storing aggregates as event streams.
type EventSourcing[T es.Aggregate] struct {
	*Locking[T]
	storage *eventStorage[T]
}

// NewEventSourcing returns the repository for the aggregates factory
// creates. The aggregate type is taken from an aggregate of the factory.
func NewEventSourcing[T es.Aggregate](store es.EventStore, factory Factory[T], opts ...Option) (*EventSourcing[T], error) {
	var zero es.Identifier
	aggType := factory(zero).AggregateType()

	options := newRepoOpts(opts...)
	log := options.log.With(slog.String("repo", aggType))

	s := &eventStorage[T]{
		store:    store,
		factory:  factory,
		aggType:  aggType,
		trigger:  options.trigger,
		resolver: options.resolver,
		log:      log,
		metrics:  options.metrics,
	}

	if options.cache != nil {
		if err := requirePessimistic(options); err != nil {
			return nil, err
		}
		s.cache = cache.NewTyped[T](options.cache)
		if l, ok := options.trigger.(cache.Listener); ok {
			s.cache.RegisterListener(l)
		}
	}

	opts = append(slices.Clip(opts), aggTypeOption{v: aggType}, conflictsOption{v: options.resolver != nil})
	locking, err := NewLocking[T](s, opts...)
	if err != nil {
		return nil, err
	}
	return &EventSourcing[T]{Locking: locking, storage: s}, nil
}

func requirePessimistic(options repoOpts) error {
	if options.locks != nil {
		if _, ok := options.locks.(*lock.PessimisticManager); !ok {
			return fmt.Errorf("%w: a cached repository needs a pessimistic lock manager, got %T", es.ErrIllegalArgument, options.locks)
		}
		return nil
	}
	if options.strategySet && options.strategy != lock.Pessimistic {
		return fmt.Errorf("%w: a cached repository needs pessimistic locking, got %s", es.ErrIllegalArgument, options.strategy)
	}
	return nil
}

// AggregateType returns the type the repository stores events under.
func (r *EventSourcing[T]) AggregateType() string { return r.storage.aggType }

type eventStorage[T es.Aggregate] struct {
	store    es.EventStore
	factory  Factory[T]
	aggType  string
	trigger  snapshot.Trigger
	resolver ConflictResolver
	cache    cache.TypedCache[T]
	log      *slog.Logger
	metrics  es.Metrics
}

func (s *eventStorage[T]) DoLoad(ctx context.Context, id es.Identifier, expected *es.Version) (T, error) {
	if s.cache != nil {
		if agg, ok := s.cache.Get(id.String()); ok && !s.needsUnseenEvents(agg, expected) {
			s.metrics.CacheHit(s.aggType)
			s.evictOnRollback(ctx, id)
			return agg, nil
		}
		s.metrics.CacheMiss(s.aggType)
	}

	agg, err := s.replay(ctx, id, expected)
	if err != nil {
		var zero T
		return zero, err
	}
	if s.cache != nil {
		s.evictOnRollback(ctx, id)
	}
	return agg, nil
}

func (s *eventStorage[T]) replay(ctx context.Context, id es.Identifier, expected *es.Version) (T, error) {
	var zero T
	stream, err := s.store.ReadEvents(ctx, s.aggType, id)
	if err != nil {
		if errors.Is(err, es.ErrEventStreamNotFound) {
			return zero, fmt.Errorf("%w: %s %s: %w", es.ErrAggregateNotFound, s.aggType, id, err)
		}
		return zero, err
	}
	stream = s.trigger.DecorateForRead(ctx, s.aggType, id, stream)

	var collector *unseenCollector
	if expected != nil && s.resolver != nil {
		collector = &unseenCollector{Stream: stream, after: *expected}
		stream = collector
	}

	agg := s.factory(id)
	if err := es.InitializeState(agg, stream); err != nil {
		return zero, fmt.Errorf("initialize %s %s: %w", s.aggType, id, err)
	}

	if collector != nil && len(collector.unseen) > 0 {
		if u, ok := uow.Current(ctx); ok {
			u.RegisterListener(&conflictResolving{
				agg:      agg,
				unseen:   collector.unseen,
				resolver: s.resolver,
				log:      s.log,
			})
		}
	}
	return agg, nil
}

// needsUnseenEvents reports whether a cached aggregate cannot be used
// because the conflict resolver needs the events past expected.
func (s *eventStorage[T]) needsUnseenEvents(agg T, expected *es.Version) bool {
	return s.resolver != nil && expected != nil && *expected < agg.Version()
}

func (s *eventStorage[T]) evictOnRollback(ctx context.Context, id es.Identifier) {
	if u, ok := uow.Current(ctx); ok {
		u.RegisterListener(uow.RollbackFunc(func(context.Context, error) {
			s.cache.Delete(id.String())
		}))
	}
}

func (s *eventStorage[T]) DoSave(ctx context.Context, agg T) error {
	events := es.NewSliceStream(agg.Uncommitted()...)
	if err := s.store.AppendEvents(ctx, s.aggType, s.trigger.DecorateForAppend(ctx, s.aggType, agg, events)); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Put(agg.AggregateID().String(), agg)
	}
	return nil
}

var _ Repository[es.Aggregate] = (*EventSourcing[es.Aggregate])(nil)
