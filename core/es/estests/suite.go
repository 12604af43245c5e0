// Package estests holds the conformance suite every event store backend runs.
package estests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
)

// StoreFactory builds a store over a fresh or shared backend. The suite
// uses new identifiers per subtest, so backends may be shared.
type StoreFactory func(t *testing.T, opts ...es.StoreOption) *es.Store

// RunStoreSuite checks the behaviour every backend must provide.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Helper()

	store := func(t *testing.T, opts ...es.StoreOption) *es.Store {
		return newStore(t, append([]es.StoreOption{es.WithSerializer(domain.NewRegistry())}, opts...)...)
	}

	t.Run("unknown stream", func(t *testing.T) {
		_, err := store(t).ReadEvents(t.Context(), domain.AggType, es.NewIdentifier())
		require.ErrorIs(t, err, es.ErrEventStreamNotFound)
	})

	t.Run("append and read in order", func(t *testing.T) {
		s := store(t)
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 5)...)))

		stream, err := s.ReadEvents(t.Context(), domain.AggType, id)
		require.NoError(t, err)
		requireSequence(t, stream, 0, 5)
	})

	t.Run("empty append", func(t *testing.T) {
		require.NoError(t, store(t).AppendEvents(t.Context(), domain.AggType, es.NewSliceStream()))
	})

	for _, n := range []int{2, 3, 6, 10} {
		t.Run(fmt.Sprintf("paging over %d events with batch size 3", n), func(t *testing.T) {
			s := store(t, es.WithBatchSize(3))
			id := es.NewIdentifier()
			require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, n)...)))

			stream, err := s.ReadEvents(t.Context(), domain.AggType, id)
			require.NoError(t, err)
			requireSequence(t, stream, 0, n)
		})
	}

	t.Run("aggregate types partition the log", func(t *testing.T) {
		s := store(t)
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 2)...)))
		_, err := s.ReadEvents(t.Context(), "other_type", id)
		require.ErrorIs(t, err, es.ErrEventStreamNotFound)
	})

	t.Run("duplicate sequence number", func(t *testing.T) {
		s := store(t)
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 3)...)))

		err := s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 2, 1)...))
		require.ErrorIs(t, err, es.ErrConcurrency)
		require.ErrorContains(t, err, id.String())
		require.ErrorContains(t, err, "sequence 2")

		stream, err := s.ReadEvents(t.Context(), domain.AggType, id)
		require.NoError(t, err)
		requireSequence(t, stream, 0, 3)
	})

	t.Run("concurrent appends of the same sequence number", func(t *testing.T) {
		s := store(t)
		id := es.NewIdentifier()

		const writers = 2
		var (
			wg   sync.WaitGroup
			errs = make(chan error, writers)
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.AppendEvents(context.Background(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 1)...))
			}()
		}
		wg.Wait()
		close(errs)

		var ok, conflicts int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, es.ErrConcurrency):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, conflicts)
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		s := store(t, es.WithBatchSize(2))
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 5)...)))

		snapshot := snapshotAt(t, id, 2)
		require.NoError(t, s.AppendSnapshotEvent(t.Context(), domain.AggType, snapshot))

		stream, err := s.ReadEvents(t.Context(), domain.AggType, id)
		require.NoError(t, err)

		first, ok := stream.Peek()
		require.True(t, ok)
		require.True(t, first.IsSnapshot())
		require.Equal(t, int64(2), first.SequenceNumber)

		agg := &domain.TestAgg{}
		require.NoError(t, es.InitializeState(agg, stream))
		require.Equal(t, id, agg.AggregateID())
		require.Equal(t, 5, agg.Count())
		require.Equal(t, es.Version(4), agg.Version())
	})

	t.Run("newest snapshot wins", func(t *testing.T) {
		s := store(t)
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 6)...)))
		require.NoError(t, s.AppendSnapshotEvent(t.Context(), domain.AggType, snapshotAt(t, id, 3)))
		require.NoError(t, s.AppendSnapshotEvent(t.Context(), domain.AggType, snapshotAt(t, id, 1)))

		stream, err := s.ReadEvents(t.Context(), domain.AggType, id)
		require.NoError(t, err)
		events, err := es.Collect(stream)
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.True(t, events[0].IsSnapshot())
		require.Equal(t, int64(3), events[0].SequenceNumber)
		require.Equal(t, int64(4), events[1].SequenceNumber)
		require.Equal(t, int64(5), events[2].SequenceNumber)
	})

	t.Run("snapshot rejects plain events", func(t *testing.T) {
		id := es.NewIdentifier()
		err := store(t).AppendSnapshotEvent(t.Context(), domain.AggType, domain.Events(id, 0, 1)[0])
		require.ErrorIs(t, err, es.ErrIllegalArgument)
	})

	t.Run("visit events", func(t *testing.T) {
		s := store(t, es.WithBatchSize(4))
		ids := []es.Identifier{es.NewIdentifier(), es.NewIdentifier(), es.NewIdentifier()}
		for seq := range 3 {
			for _, id := range ids {
				require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, int64(seq), 1)...)))
			}
		}

		var (
			last    time.Time
			lastSeq = map[es.Identifier]int64{}
		)
		for _, id := range ids {
			lastSeq[id] = -1
		}
		require.NoError(t, s.VisitEvents(t.Context(), es.VisitorFunc(func(_ context.Context, e es.Event) error {
			prev, ours := lastSeq[e.AggregateID]
			if !ours {
				// shared backends may hold events of other subtests
				return nil
			}
			require.False(t, e.Timestamp.Before(last))
			require.Equal(t, prev+1, e.SequenceNumber)
			lastSeq[e.AggregateID] = e.SequenceNumber
			last = e.Timestamp
			return nil
		})))
		for _, id := range ids {
			require.Equal(t, int64(2), lastSeq[id])
		}
	})

	t.Run("visitor error aborts", func(t *testing.T) {
		s := store(t)
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 2)...)))

		boom := errors.New("boom")
		err := s.VisitEvents(t.Context(), es.VisitorFunc(func(context.Context, es.Event) error { return boom }))
		require.ErrorIs(t, err, boom)
	})
}

func requireSequence(t *testing.T, stream es.Stream, first int64, n int) {
	t.Helper()
	events, err := es.Collect(stream)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		require.Equal(t, first+int64(i), e.SequenceNumber)
		require.IsType(t, &domain.Incremented{}, e.Payload)
	}
	require.False(t, stream.HasNext())
	_, err = stream.Next()
	require.ErrorIs(t, err, es.ErrNoSuchElement)
}

// snapshotAt builds the snapshot of an aggregate whose events 0..seq each
// incremented the counter by one.
func snapshotAt(t *testing.T, id es.Identifier, seq int64) es.Event {
	t.Helper()
	agg := &domain.TestAgg{}
	require.NoError(t, es.InitializeState(agg, es.NewSliceStream(domain.Events(id, 0, int(seq)+1)...)))
	snapshot, err := es.NewSnapshotEvent(agg)
	require.NoError(t, err)
	return snapshot
}
