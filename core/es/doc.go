// Package es contains the storage side of the event sourcing core.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and implements Apply to mutate its
// state. Changes are recorded with [RaiseAndApply], which assigns each event
// the next sequence number of the aggregate at the moment it is applied:
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int
//	}
//
//	func (a *Account) AggregateType() string { return "account" }
//
//	func (a *Account) Deposit(amount int) error {
//	    return es.RaiseAndApply(a, &Deposited{Amount: amount})
//	}
//
// The version of an aggregate is the sequence number of its last persisted
// event. Sequence numbers start at 0, so an aggregate that was never saved
// reports [NoVersion].
//
// # Event store
//
// [Store] is the append-only log keyed by (aggregate type, identifier,
// sequence number). It talks to a [Backend] (memory, SQL, MongoDB, NATS) and
// hides read pagination behind a [Stream]:
//
//	store := es.NewInMemoryStore(es.WithBatchSize(100))
//	stream, err := store.ReadEvents(ctx, "account", id)
//	for ev, err := range es.All(stream) { ... }
//
// Writes rely on the backend's uniqueness constraint: a duplicate sequence
// number is classified by a [DuplicateKeyClassifier] and reported as
// [ErrConcurrency].
//
// # Snapshots
//
// A snapshot is an ordinary [Event] carrying a [*SnapshotPayload]. Reads start
// at the newest snapshot and continue with the events that follow it.
// Snapshots never replace or delete the log.
package es
