package uow

import "context"

// TransactionManager binds a storage transaction to the outermost unit of
// work. Nested units join the transaction of their outer unit.
type TransactionManager interface {
	Begin(ctx context.Context) (tx any, err error)
	Commit(ctx context.Context, tx any) error
	Rollback(ctx context.Context, tx any) error
}
