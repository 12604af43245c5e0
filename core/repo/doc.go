// Package repo loads and saves aggregates within a unit of work.
//
// [Base] registers added and loaded aggregates with the current unit of
// work; their events are saved, committed and published when the unit
// commits. [Locking] guards every aggregate with a [lock.Manager] for the
// lifetime of the unit of work. [EventSourcing] stores aggregates as event
// streams in an [es.EventStore], optionally backed by a cache, a snapshot
// trigger and a conflict resolver.
//
//	repo, err := repo.NewEventSourcing(store, NewAccount,
//		repo.WithLockingStrategy(lock.Pessimistic),
//		repo.WithTrigger(trigger),
//	)
//
//	err = uow.Run(ctx, func(ctx context.Context) error {
//		acc, err := repo.Load(ctx, id)
//		if err != nil {
//			return err
//		}
//		return acc.Deposit(100)
//	})
package repo
