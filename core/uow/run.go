package uow

import (
	"context"
	"fmt"
)

// Run executes fn inside a new unit of work. The unit commits when fn
// returns nil and rolls back otherwise, also when fn panics.
func Run(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	ctx, u, err := Start(ctx, opts...)
	if err != nil {
		return err
	}

	committing := false
	defer func() {
		if r := recover(); r != nil {
			if !committing {
				u.Rollback(ctx, fmt.Errorf("panic: %v", r))
			}
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		u.Rollback(ctx, err)
		return err
	}
	committing = true
	return u.Commit(ctx)
}
