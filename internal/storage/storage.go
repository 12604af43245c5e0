// Package storage opens the event store backend a [config.Config] names.
package storage

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/heianxing/axon-demo/adapters/mongo"
	"github.com/heianxing/axon-demo/adapters/nats"
	"github.com/heianxing/axon-demo/adapters/sqldb"
	"github.com/heianxing/axon-demo/core/config"
	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

const defaultMongoDatabase = "axon"

// Storage is an opened backend. TxManager is nil when units of work cannot
// join a backend transaction.
type Storage struct {
	Backend   es.Backend
	TxManager uow.TransactionManager
	close     func() error
}

func (s *Storage) Close() error { return s.close() }

// UnitOfWorkOptions binds units of work to the backend transaction, if any.
func (s *Storage) UnitOfWorkOptions() []uow.Option {
	if s.TxManager == nil {
		return nil
	}
	return []uow.Option{uow.WithTransactionManager(s.TxManager)}
}

func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Storage, error) {
	log = log.With(slog.String("driver", string(cfg.StorageDriver)))

	switch cfg.StorageDriver {
	case config.DriverMemory:
		log.Info("using in-memory backend")
		return &Storage{Backend: es.NewInMemoryBackend(), close: func() error { return nil }}, nil

	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		dialect, err := sqldb.DialectFor(string(cfg.StorageDriver))
		if err != nil {
			return nil, err
		}
		b, err := sqldb.Open(ctx, dialect, cfg.StorageDSN, sqldb.WithLog(log))
		if err != nil {
			return nil, err
		}
		log.Info("using sql backend")
		return &Storage{Backend: b, TxManager: b.TxManager(), close: b.Close}, nil

	case config.DriverMongo:
		uri, database, err := splitMongoDSN(cfg.StorageDSN)
		if err != nil {
			return nil, err
		}
		b, err := mongo.Open(ctx, uri, database, mongo.WithLog(log))
		if err != nil {
			return nil, err
		}
		log.Info("using mongo backend", slog.String("database", database))
		return &Storage{Backend: b, close: func() error { return b.Close(context.Background()) }}, nil

	case config.DriverNATS:
		b, err := nats.NewBackend(ctx, nats.BackendConfig{
			Connect: nats.ConnectURL(cfg.StorageDSN),
			Log:     log,
		})
		if err != nil {
			return nil, err
		}
		log.Info("using nats backend")
		return &Storage{Backend: b, close: b.Close}, nil
	}
	return nil, fmt.Errorf("%w: unknown storage driver %q", es.ErrIllegalArgument, cfg.StorageDriver)
}

// splitMongoDSN takes the database from the path of the connection string.
func splitMongoDSN(dsn string) (uri, database string, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("%w: mongo dsn: %w", es.ErrIllegalArgument, err)
	}
	database = cmp.Or(strings.Trim(u.Path, "/"), defaultMongoDatabase)
	return dsn, database, nil
}
