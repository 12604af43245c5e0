package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
	"github.com/heianxing/axon-demo/core/uow"
)

func newStore(t *testing.T) *es.Store {
	t.Helper()
	return es.NewInMemoryStore(es.WithSerializer(domain.NewRegistry()))
}

func seed(t *testing.T, store *es.Store, id es.Identifier, n int) {
	t.Helper()
	require.NoError(t, store.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, n)...)))
}

func latestSnapshot(t *testing.T, store *es.Store, id es.Identifier) (es.Record, bool) {
	t.Helper()
	rec, ok, err := store.Backend().LatestSnapshot(t.Context(), domain.AggType, id.String())
	require.NoError(t, err)
	return rec, ok
}

func newSnapshotter(store *es.Store, opts ...SnapshotterOption) *AggregateSnapshotter {
	s := NewAggregateSnapshotter(store, opts...)
	RegisterFactory(s, domain.NewTestAgg)
	return s
}

func TestAggregateSnapshotter(t *testing.T) {
	store := newStore(t)
	seed(t, store, "a", 10)

	s := newSnapshotter(store)
	require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, "a"))

	rec, ok := latestSnapshot(t, store, "a")
	require.True(t, ok)
	require.Equal(t, int64(9), rec.SequenceNumber)

	stream, err := store.ReadEvents(t.Context(), domain.AggType, "a")
	require.NoError(t, err)
	agg := &domain.TestAgg{}
	require.NoError(t, es.InitializeState(agg, stream))
	require.Equal(t, 10, agg.Count())
	require.Equal(t, es.Version(9), agg.Version())
}

func TestAggregateSnapshotter_BuildsOnPreviousSnapshot(t *testing.T) {
	store := newStore(t)
	seed(t, store, "a", 5)
	s := newSnapshotter(store)
	require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, "a"))

	require.NoError(t, store.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events("a", 5, 3)...)))
	require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, "a"))

	rec, ok := latestSnapshot(t, store, "a")
	require.True(t, ok)
	require.Equal(t, int64(7), rec.SequenceNumber)
}

func TestAggregateSnapshotter_NothingToCompress(t *testing.T) {
	store := newStore(t)
	seed(t, store, "a", 1)
	s := newSnapshotter(store)

	require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, "a"))
	_, ok := latestSnapshot(t, store, "a")
	require.False(t, ok)

	require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, "missing"))
}

func TestAggregateSnapshotter_UnknownType(t *testing.T) {
	s := newSnapshotter(newStore(t))
	err := s.ScheduleSnapshot(t.Context(), "unknown", "a")
	require.ErrorIs(t, err, es.ErrIllegalArgument)
}

func TestAggregateSnapshotter_DetachesFromUnitOfWork(t *testing.T) {
	store := newStore(t)
	seed(t, store, "a", 4)

	var sawUnit bool
	exec := executorFunc(func(ctx context.Context, _ string, _ es.Identifier, task Task) error {
		sawUnit = uow.IsStarted(ctx)
		return task(ctx)
	})
	s := newSnapshotter(store, WithExecutor(exec))

	require.NoError(t, uow.Run(t.Context(), func(ctx context.Context) error {
		return s.ScheduleSnapshot(ctx, domain.AggType, "a")
	}))
	require.False(t, sawUnit)
	_, ok := latestSnapshot(t, store, "a")
	require.True(t, ok)
}

func TestAsyncExecutor(t *testing.T) {
	store := newStore(t)
	ids := []es.Identifier{"a", "b", "c", "d"}
	for _, id := range ids {
		seed(t, store, id, 6)
	}

	exec := NewAsyncExecutor(2, nil)
	s := newSnapshotter(store, WithExecutor(exec))
	for _, id := range ids {
		require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, id))
		require.NoError(t, s.ScheduleSnapshot(t.Context(), domain.AggType, id))
	}
	exec.Close()

	for _, id := range ids {
		rec, ok := latestSnapshot(t, store, id)
		require.True(t, ok, id)
		require.Equal(t, int64(5), rec.SequenceNumber)
	}
	require.Error(t, s.ScheduleSnapshot(t.Context(), domain.AggType, "a"), "closed executor")
}

func TestTriggerDrivesSnapshotter(t *testing.T) {
	store := newStore(t)
	seed(t, store, "a", 3)

	trigger := NewEventCountTrigger(newSnapshotter(store), WithThreshold(3))

	require.NoError(t, uow.Run(t.Context(), func(ctx context.Context) error {
		stream, err := store.ReadEvents(ctx, domain.AggType, "a")
		require.NoError(t, err)
		agg := &domain.TestAgg{}
		require.NoError(t, es.InitializeState(agg, trigger.DecorateForRead(ctx, domain.AggType, "a", stream)))

		require.NoError(t, agg.Inc())
		return store.AppendEvents(ctx, domain.AggType,
			trigger.DecorateForAppend(ctx, domain.AggType, agg, es.NewSliceStream(agg.Uncommitted()...)))
	}))

	rec, ok := latestSnapshot(t, store, "a")
	require.True(t, ok)
	require.Equal(t, int64(3), rec.SequenceNumber)
}

type executorFunc func(ctx context.Context, aggType string, id es.Identifier, task Task) error

func (f executorFunc) Execute(ctx context.Context, aggType string, id es.Identifier, task Task) error {
	return f(ctx, aggType, id, task)
}
