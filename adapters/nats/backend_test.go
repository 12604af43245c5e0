package nats

import (
	"context"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
)

func TestBackend(t *testing.T) {
	connect := NewTestContainer(t)
	b, err := NewBackend(context.Background(), BackendConfig{
		Connect: connect,
		Storage: jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	t.Run("store suite", func(t *testing.T) {
		estests.RunStoreSuite(t, func(_ *testing.T, opts ...es.StoreOption) *es.Store {
			return es.NewStore(b, opts...)
		})
	})

	t.Run("failed batch is undone", func(t *testing.T) {
		s := es.NewStore(b, es.WithSerializer(domain.NewRegistry()))
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 2, 1)...)))

		err := s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 3)...))
		require.ErrorIs(t, err, es.ErrConcurrency)

		recs, err := b.ReadEvents(t.Context(), domain.AggType, id.String(), 0, 10)
		require.NoError(t, err)
		require.Empty(t, recs)

		// purged keys can be written again
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 2)...)))
		recs, err = b.ReadEvents(t.Context(), domain.AggType, id.String(), 0, 10)
		require.NoError(t, err)
		require.Len(t, recs, 3)
	})

	t.Run("older snapshot does not replace newer", func(t *testing.T) {
		id := es.NewIdentifier()
		for _, seq := range []int64{5, 2} {
			require.NoError(t, b.InsertSnapshot(t.Context(), es.Record{
				EventID:        es.NewIdentifier().String(),
				AggregateType:  domain.AggType,
				AggregateID:    id.String(),
				SequenceNumber: seq,
				PayloadType:    "snapshot",
				Payload:        []byte("{}"),
			}))
		}
		rec, ok, err := b.LatestSnapshot(t.Context(), domain.AggType, id.String())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(5), rec.SequenceNumber)
	})

	t.Run("scan pages", func(t *testing.T) {
		scanned, err := NewBackend(t.Context(), BackendConfig{
			Connect:         connect,
			Storage:         jetstream.MemoryStorage,
			EventsBucket:    "scan_events",
			SnapshotsBucket: "scan_snapshots",
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = scanned.Close() })

		s := es.NewStore(scanned, es.WithSerializer(domain.NewRegistry()))
		first, second, third := es.NewIdentifier(), es.NewIdentifier(), es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(first, 0, 4)...)))
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(second, 0, 3)...)))
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(third, 1, 1)...)))
		// the undone batch leaves a purge marker behind
		err = s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(third, 0, 2)...))
		require.ErrorIs(t, err, es.ErrConcurrency)

		var (
			pages int
			got   []string
		)
		require.NoError(t, scanned.ScanEvents(t.Context(), 3, func(page []es.Record) error {
			pages++
			require.LessOrEqual(t, len(page), 3)
			for _, rec := range page {
				got = append(got, fmt.Sprintf("%s/%d", rec.AggregateID, rec.SequenceNumber))
			}
			return nil
		}))
		require.GreaterOrEqual(t, pages, 3)
		require.Equal(t, []string{
			first.String() + "/0", first.String() + "/1", first.String() + "/2", first.String() + "/3",
			second.String() + "/0", second.String() + "/1", second.String() + "/2",
			third.String() + "/1",
		}, got)
	})
}

func TestEventKey(t *testing.T) {
	require.Equal(t, "dGVzdF9hZ2c.YS0x.0000000000000000042", eventKey("test_agg", "a-1", 42))
	require.Less(t, eventKey("t", "x", 9), eventKey("t", "x", 10))
}
