package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

// TxManager runs units of work in a database transaction. Backends over the
// same database join it, so events, snapshots and everything else written
// through uow.Transaction commit or roll back together.
type TxManager struct {
	db   *sqlx.DB
	opts *sql.TxOptions
}

func NewTxManager(db *sqlx.DB, opts *sql.TxOptions) *TxManager {
	return &TxManager{db: db, opts: opts}
}

func (m *TxManager) Begin(ctx context.Context) (any, error) {
	tx, err := m.db.BeginTxx(ctx, m.opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

func (m *TxManager) Commit(_ context.Context, tx any) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	return t.Commit()
}

func (m *TxManager) Rollback(_ context.Context, tx any) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	return t.Rollback()
}

func asTx(tx any) (*sqlx.Tx, error) {
	t, ok := tx.(*sqlx.Tx)
	if !ok {
		return nil, fmt.Errorf("%w: expected *sqlx.Tx, got %T", es.ErrIllegalArgument, tx)
	}
	return t, nil
}

// Tx returns the transaction of the current unit of work, if it runs in one.
func Tx(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := uow.Transaction(ctx)
	if !ok {
		return nil, false
	}
	t, ok := tx.(*sqlx.Tx)
	return t, ok
}

var _ uow.TransactionManager = (*TxManager)(nil)
