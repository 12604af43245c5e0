package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

// TxManager runs units of work in a MongoDB session transaction. It needs
// a replica set or sharded cluster.
type TxManager struct {
	client *mongo.Client
	opts   *options.TransactionOptions
}

func NewTxManager(client *mongo.Client, opts *options.TransactionOptions) *TxManager {
	return &TxManager{client: client, opts: opts}
}

func (m *TxManager) Begin(ctx context.Context) (any, error) {
	session, err := m.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if err := session.StartTransaction(m.opts); err != nil {
		session.EndSession(ctx)
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return session, nil
}

func (m *TxManager) Commit(ctx context.Context, tx any) error {
	session, err := asSession(tx)
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	if err := session.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (m *TxManager) Rollback(ctx context.Context, tx any) error {
	session, err := asSession(tx)
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	if err := session.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func asSession(tx any) (mongo.Session, error) {
	session, ok := tx.(mongo.Session)
	if !ok {
		return nil, fmt.Errorf("%w: expected mongo.Session, got %T", es.ErrIllegalArgument, tx)
	}
	return session, nil
}

// sessionContext binds ctx to the session of the current unit of work.
func sessionContext(ctx context.Context) (context.Context, bool) {
	tx, ok := uow.Transaction(ctx)
	if !ok {
		return ctx, false
	}
	session, ok := tx.(mongo.Session)
	if !ok {
		return ctx, false
	}
	return mongo.NewSessionContext(ctx, session), true
}

var _ uow.TransactionManager = (*TxManager)(nil)
