package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

// Factory creates an empty aggregate to replay events into.
type Factory func(id es.Identifier) es.Aggregate

// AggregateSnapshotter snapshots an aggregate by replaying it from the store
// and appending its state as a snapshot event. Aggregates must implement
// [es.Snapshottable] or marshal to JSON.
type AggregateSnapshotter struct {
	store    es.SnapshotEventStore
	executor Executor
	log      *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	inflight  singleflight.Group
}

func NewAggregateSnapshotter(store es.SnapshotEventStore, opts ...SnapshotterOption) *AggregateSnapshotter {
	options := newSnapshotterOpts(opts...)
	return &AggregateSnapshotter{
		store:     store,
		executor:  options.executor,
		log:       options.log.With(slog.String("component", "snapshotter")),
		factories: map[string]Factory{},
	}
}

// Register adds the factory of an aggregate type.
func (s *AggregateSnapshotter) Register(aggType string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[aggType] = f
}

// RegisterFactory registers a typed factory under the aggregate type its
// aggregates report.
func RegisterFactory[T es.Aggregate](s *AggregateSnapshotter, f func(id es.Identifier) T) {
	var zero es.Identifier
	s.Register(f(zero).AggregateType(), func(id es.Identifier) es.Aggregate { return f(id) })
}

// ScheduleSnapshot hands the snapshot of one aggregate to the executor. The
// task runs without the unit of work of ctx and survives its cancellation.
func (s *AggregateSnapshotter) ScheduleSnapshot(ctx context.Context, aggType string, id es.Identifier) error {
	s.mu.RLock()
	f, ok := s.factories[aggType]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no aggregate factory for type %s", es.ErrIllegalArgument, aggType)
	}
	return s.executor.Execute(uow.Detach(ctx), aggType, id, func(ctx context.Context) error {
		return s.snapshot(ctx, aggType, id, f)
	})
}

// snapshot collapses concurrent requests for the same aggregate.
func (s *AggregateSnapshotter) snapshot(ctx context.Context, aggType string, id es.Identifier, f Factory) error {
	_, err, _ := s.inflight.Do(taskKey(aggType, id), func() (any, error) {
		return nil, s.createSnapshot(ctx, aggType, id, f)
	})
	return err
}

func (s *AggregateSnapshotter) createSnapshot(ctx context.Context, aggType string, id es.Identifier, f Factory) error {
	log := s.log.With(slog.Group("agg", slog.String("type", aggType), id.SlogAttr()))

	stream, err := s.store.ReadEvents(ctx, aggType, id)
	if err != nil {
		if errors.Is(err, es.ErrEventStreamNotFound) {
			log.Debug("nothing to snapshot")
			return nil
		}
		return fmt.Errorf("read events of %s: %w", id, err)
	}
	first, _ := stream.Peek()

	agg := f(id)
	if err := es.InitializeState(agg, stream); err != nil {
		return fmt.Errorf("replay %s: %w", id, err)
	}
	if agg.Version().Int64() <= first.SequenceNumber {
		// the stream held a single event, nothing to compress
		log.Debug("snapshot skipped", agg.Version().SlogAttr())
		return nil
	}

	snap, err := es.NewSnapshotEvent(agg)
	if err != nil {
		return err
	}
	if err := s.store.AppendSnapshotEvent(ctx, aggType, snap); err != nil {
		return fmt.Errorf("append snapshot of %s: %w", id, err)
	}
	log.Debug("snapshot stored", agg.Version().SlogAttr())
	return nil
}

var _ Snapshotter = (*AggregateSnapshotter)(nil)
