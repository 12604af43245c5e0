package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/lock"
	"github.com/heianxing/axon-demo/core/uow"
)

// Locking guards aggregates with a lock that is held from Add or Load until
// the unit of work ends. Saving an aggregate whose lock does not validate
// fails with [es.ErrConcurrency].
type Locking[T es.Aggregate] struct {
	*Base[T]
	locks lock.Manager
	log   *slog.Logger
}

// NewLocking wraps storage. The lock manager comes from [WithLockManager]
// or [WithLockingStrategy].
func NewLocking[T es.Aggregate](storage Storage[T], opts ...Option) (*Locking[T], error) {
	options := newRepoOpts(opts...)
	locks := options.locks
	if locks == nil {
		var err error
		if locks, err = lock.New(options.strategy, lock.WithLog(options.log), lock.WithMetrics(options.metrics)); err != nil {
			return nil, err
		}
	}
	return &Locking[T]{
		Base:  NewBase[T](&lockedStorage[T]{Storage: storage, locks: locks}, opts...),
		locks: locks,
		log:   options.log.With(slog.String("repo", options.aggType)),
	}, nil
}

// LockManager returns the lock manager guarding the aggregates.
func (r *Locking[T]) LockManager() lock.Manager { return r.locks }

func (r *Locking[T]) Add(ctx context.Context, agg T) error {
	id := agg.AggregateID()
	if err := r.locks.ObtainLock(ctx, id); err != nil {
		return err
	}
	if err := r.Base.Add(ctx, agg); err != nil {
		return r.releaseOnError(ctx, id, err)
	}
	r.releaseOnCleanup(ctx, id)
	return nil
}

func (r *Locking[T]) Load(ctx context.Context, id es.Identifier, opts ...LoadOption) (T, error) {
	var zero T
	if err := r.locks.ObtainLock(ctx, id); err != nil {
		return zero, err
	}
	agg, err := r.Base.Load(ctx, id, opts...)
	if err != nil {
		return zero, r.releaseOnError(ctx, id, err)
	}
	r.releaseOnCleanup(ctx, id)
	return agg, nil
}

func (r *Locking[T]) releaseOnError(ctx context.Context, id es.Identifier, cause error) error {
	if err := r.locks.ReleaseLock(ctx, id); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// releaseOnCleanup releases the lock with the context it was obtained with,
// so the owner matches even if cleanup runs with another context.
func (r *Locking[T]) releaseOnCleanup(ctx context.Context, id es.Identifier) {
	u, _ := uow.Current(ctx)
	u.RegisterListener(uow.CleanupFunc(func(context.Context) {
		if err := r.locks.ReleaseLock(ctx, id); err != nil {
			r.log.Error("release lock", id.SlogAttr(), slog.Any("error", err))
		}
	}))
}

type lockedStorage[T es.Aggregate] struct {
	Storage[T]
	locks lock.Manager
}

func (s *lockedStorage[T]) DoSave(ctx context.Context, agg T) error {
	if agg.Version().IsSet() && !s.locks.ValidateLock(ctx, agg) {
		return fmt.Errorf(
			"%w: aggregate %s was modified concurrently since version %d was loaded",
			es.ErrConcurrency, agg.AggregateID(), agg.Version(),
		)
	}
	return s.Storage.DoSave(ctx, agg)
}

var _ Repository[es.Aggregate] = (*Locking[es.Aggregate])(nil)
