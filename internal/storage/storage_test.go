package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/config"
	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
	"github.com/heianxing/axon-demo/core/uow"
)

func TestOpen_Memory(t *testing.T) {
	s, err := Open(t.Context(), config.Default(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	require.IsType(t, &es.InMemoryBackend{}, s.Backend)
	require.Nil(t, s.TxManager)
	require.Empty(t, s.UnitOfWorkOptions())
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDriver = config.DriverSQLite
	cfg.StorageDSN = filepath.Join(t.TempDir(), "events.db")

	s, err := Open(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.NotNil(t, s.TxManager)
	require.Len(t, s.UnitOfWorkOptions(), 1)

	store := es.NewStore(s.Backend, es.WithSerializer(domain.NewRegistry()))
	id := es.NewIdentifier()
	require.NoError(t, uow.Run(t.Context(), func(ctx context.Context) error {
		return store.AppendEvents(ctx, domain.AggType, es.NewSliceStream(domain.Events(id, 0, 3)...))
	}, s.UnitOfWorkOptions()...))

	stream, err := store.ReadEvents(t.Context(), domain.AggType, id)
	require.NoError(t, err)
	events, err := es.Collect(stream)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDriver = "cassandra"
	_, err := Open(t.Context(), cfg, slog.Default())
	require.ErrorIs(t, err, es.ErrIllegalArgument)
}

func TestSplitMongoDSN(t *testing.T) {
	uri, db, err := splitMongoDSN("mongodb://localhost:27017/orders?replicaSet=rs0")
	require.NoError(t, err)
	require.Equal(t, "mongodb://localhost:27017/orders?replicaSet=rs0", uri)
	require.Equal(t, "orders", db)

	_, db, err = splitMongoDSN("mongodb://localhost:27017")
	require.NoError(t, err)
	require.Equal(t, defaultMongoDatabase, db)
}
