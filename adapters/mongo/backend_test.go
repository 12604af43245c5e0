package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	if testing.Short() {
		t.Skip("container test")
	}

	ctx := context.Background()
	mongoC, err := testcontainers.Run(
		ctx, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mongoC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := mongoC.Host(ctx)
	require.NoError(t, err)
	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	b, err := Open(ctx, "mongodb://"+host+":"+port.Port(), "events")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestMongo(t *testing.T) {
	b := newTestBackend(t)

	t.Run("store suite", func(t *testing.T) {
		estests.RunStoreSuite(t, func(_ *testing.T, opts ...es.StoreOption) *es.Store {
			return es.NewStore(b, opts...)
		})
	})

	t.Run("failed batch leaves no partial writes", func(t *testing.T) {
		s := es.NewStore(b, es.WithSerializer(domain.NewRegistry()))
		id := es.NewIdentifier()
		require.NoError(t, s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 2, 1)...)))

		// 0 and 1 are new, 2 collides
		err := s.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events(id, 0, 3)...))
		require.ErrorIs(t, err, es.ErrConcurrency)

		recs, err := b.ReadEvents(t.Context(), domain.AggType, id.String(), 0, 10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, int64(2), recs[0].SequenceNumber)
	})

	t.Run("snapshots are pruned", func(t *testing.T) {
		id := es.NewIdentifier()
		for _, seq := range []int64{1, 4} {
			require.NoError(t, b.InsertSnapshot(t.Context(), es.Record{
				EventID:        es.NewIdentifier().String(),
				AggregateType:  domain.AggType,
				AggregateID:    id.String(),
				SequenceNumber: seq,
				PayloadType:    "snapshot",
				Payload:        []byte("{}"),
			}))
		}
		n, err := b.snapshots.CountDocuments(t.Context(), streamFilter(domain.AggType, id.String()))
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})
}
