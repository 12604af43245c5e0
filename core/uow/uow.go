package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/heianxing/axon-demo/core/es"
)

var (
	ErrAlreadyStarted = fmt.Errorf("%w: unit of work is already started", es.ErrIllegalState)
	ErrNotStarted     = fmt.Errorf("%w: unit of work is not started", es.ErrIllegalState)
)

// SaveCallback persists a registered aggregate when its unit of work commits.
type SaveCallback func(ctx context.Context, agg es.Aggregate) error

// UnitOfWork is what repositories and listeners see of a unit of work.
type UnitOfWork interface {
	Commit(ctx context.Context) error
	// Rollback discards the unit. Cleanup listeners are notified even if the
	// unit was never started.
	Rollback(ctx context.Context, cause error)
	IsStarted() bool

	// RegisterAggregate registers agg to be saved on commit. If an aggregate
	// of the same type and identifier is registered already, that instance
	// is returned and cb is dropped.
	RegisterAggregate(agg es.Aggregate, cb SaveCallback) es.Aggregate
	RegisterListener(l Listener)
	// PublishEvent queues e for publication on commit.
	PublishEvent(e es.Event, publisher es.EventPublisher)
}

type (
	registeredAggregate struct {
		agg es.Aggregate
		cb  SaveCallback
	}

	pendingEvent struct {
		event     es.Event
		publisher es.EventPublisher
	}
)

// DefaultUnitOfWork is the standard unit of work. It supports nesting and
// can be started again after it ended.
type DefaultUnitOfWork struct {
	id      string
	log     *slog.Logger
	metrics es.Metrics
	txm     TransactionManager

	started   bool
	cleanedUp bool
	outer     UnitOfWork
	inners    []*DefaultUnitOfWork
	frame     *frame
	release   func()

	aggregates []registeredAggregate
	events     []pendingEvent
	listeners  []Listener
	tx         any
}

func New(opts ...Option) *DefaultUnitOfWork {
	options := newOpts(opts...)
	id := gonanoid.Must(8)
	return &DefaultUnitOfWork{
		id:      id,
		log:     options.log.With(slog.String("uow", id)),
		metrics: options.metrics,
		txm:     options.txm,
		release: func() {},
	}
}

// Start creates and starts a unit of work. The returned context carries it.
func Start(ctx context.Context, opts ...Option) (context.Context, *DefaultUnitOfWork, error) {
	u := New(opts...)
	ctx, err := u.Start(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ctx, u, nil
}

// Start starts the unit and makes it current in the returned context. If
// ctx already carries a current unit, this unit nests into it.
func (u *DefaultUnitOfWork) Start(ctx context.Context) (context.Context, error) {
	if u.started {
		return nil, ErrAlreadyStarted
	}
	u.reset()

	if outer, ok := Current(ctx); ok {
		u.outer = outer
		if n, ok := outer.(*DefaultUnitOfWork); ok {
			n.inners = append(n.inners, u)
		} else {
			outer.RegisterListener(&commitOnOuterCommit{inner: u})
		}
		u.log.Debug("nesting unit of work")
	}

	if u.txm != nil {
		if _, joined := Transaction(ctx); !joined {
			tx, err := u.txm.Begin(ctx)
			if err != nil {
				return nil, fmt.Errorf("begin transaction: %w", err)
			}
			u.tx = tx
		}
	}

	ctx, u.frame = bind(ctx, u)
	u.release = u.frame.release
	u.started = true
	u.log.Debug("started")
	return ctx, nil
}

func (u *DefaultUnitOfWork) reset() {
	u.cleanedUp = false
	u.outer = nil
	u.inners = nil
	u.aggregates = nil
	u.events = nil
	u.listeners = nil
	u.tx = nil
}

func (u *DefaultUnitOfWork) IsStarted() bool { return u.started }

// within returns ctx with u as its current unit. Commit and Rollback may be
// called with a context that does not carry u, e.g. the one u was started
// from; repositories and lock managers still have to find u and its root.
func (u *DefaultUnitOfWork) within(ctx context.Context) context.Context {
	if cur, ok := Current(ctx); (ok && cur == UnitOfWork(u)) || u.frame == nil {
		return ctx
	}
	return withFrame(ctx, u.frame)
}

func (u *DefaultUnitOfWork) transaction() any { return u.tx }

// Aggregates returns the registered aggregates in registration order.
func (u *DefaultUnitOfWork) Aggregates() []es.Aggregate {
	out := make([]es.Aggregate, 0, len(u.aggregates))
	for _, r := range u.aggregates {
		out = append(out, r.agg)
	}
	return out
}

func (u *DefaultUnitOfWork) RegisterAggregate(agg es.Aggregate, cb SaveCallback) es.Aggregate {
	for _, r := range u.aggregates {
		if r.agg.AggregateType() == agg.AggregateType() && r.agg.AggregateID() == agg.AggregateID() {
			return r.agg
		}
	}
	u.aggregates = append(u.aggregates, registeredAggregate{agg: agg, cb: cb})
	return agg
}

func (u *DefaultUnitOfWork) RegisterListener(l Listener) {
	u.listeners = append(u.listeners, l)
}

func (u *DefaultUnitOfWork) PublishEvent(e es.Event, publisher es.EventPublisher) {
	u.events = append(u.events, pendingEvent{event: e, publisher: publisher})
}

// Commit notifies prepare-commit listeners and saves the registered
// aggregates. An outermost unit then publishes its events, commits its
// transaction and its inner units and ends. A nested unit leaves all of
// that to its outer unit. On failure the unit rolls back, ends, and the
// error is returned; panics are re-raised after the rollback.
func (u *DefaultUnitOfWork) Commit(ctx context.Context) (err error) {
	if !u.started {
		return ErrNotStarted
	}
	u.log.Debug("committing")
	ctx = u.within(ctx)

	defer u.release()
	defer func() {
		if r := recover(); r != nil {
			u.abort(ctx, fmt.Errorf("panic during commit: %v", r))
			panic(r)
		}
	}()

	if err = u.commit(ctx); err != nil {
		u.log.Debug("commit failed, rolling back", slog.Any("error", err))
		u.abort(ctx, err)
	}
	return err
}

func (u *DefaultUnitOfWork) commit(ctx context.Context) error {
	if err := u.notifyPrepareCommit(ctx); err != nil {
		return err
	}
	if err := u.saveAggregates(ctx); err != nil {
		return err
	}
	if u.outer != nil {
		u.log.Debug("nested, commit is finalized by the outer unit of work")
		return nil
	}
	if err := u.doCommit(ctx); err != nil {
		return err
	}
	u.started = false
	u.notifyCleanup(ctx)
	u.metrics.UnitOfWorkCommitted()
	return nil
}

func (u *DefaultUnitOfWork) abort(ctx context.Context, cause error) {
	u.doRollback(ctx, cause)
	u.started = false
	u.notifyCleanup(ctx)
}

// Rollback rolls the unit back if it is started. Cleanup listeners are
// notified and the unit is cleared from its context in any case.
func (u *DefaultUnitOfWork) Rollback(ctx context.Context, cause error) {
	ctx = u.within(ctx)
	defer u.release()
	if u.started {
		u.log.Debug("rolling back", slog.Any("cause", cause))
		u.doRollback(ctx, cause)
	}
	u.started = false
	u.notifyCleanup(ctx)
}

func (u *DefaultUnitOfWork) saveAggregates(ctx context.Context) error {
	for _, r := range u.aggregates {
		if err := r.cb(ctx, r.agg); err != nil {
			return err
		}
	}
	return nil
}

func (u *DefaultUnitOfWork) doCommit(ctx context.Context) error {
	if err := u.publishEvents(ctx); err != nil {
		return err
	}
	if u.tx != nil {
		if err := u.txm.Commit(ctx, u.tx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		u.tx = nil
	}
	if err := u.commitInners(ctx); err != nil {
		return err
	}
	u.notifyAfterCommit(ctx)
	return nil
}

func (u *DefaultUnitOfWork) publishEvents(ctx context.Context) error {
	// handlers may queue further events
	for len(u.events) > 0 {
		pending := u.events[0]
		u.events = u.events[1:]
		if err := pending.publisher.Publish(ctx, pending.event); err != nil {
			return fmt.Errorf("publish %s: %w", es.EventTypeOf(pending.event.Payload), err)
		}
		u.metrics.EventsPublished(1)
	}
	return nil
}

func (u *DefaultUnitOfWork) commitInners(ctx context.Context) error {
	var errs []error
	for _, inner := range u.inners {
		if inner.started {
			errs = append(errs, inner.performInnerCommit(ctx))
		}
	}
	return errors.Join(errs...)
}

// performInnerCommit finalizes a nested unit after its outer unit committed.
func (u *DefaultUnitOfWork) performInnerCommit(ctx context.Context) (err error) {
	u.log.Debug("finalizing nested commit")
	ctx = u.within(ctx)
	defer func() {
		u.started = false
		u.notifyCleanup(ctx)
		u.release()
	}()
	if err = u.doCommit(ctx); err != nil {
		u.doRollback(ctx, err)
		return err
	}
	u.metrics.UnitOfWorkCommitted()
	return nil
}

func (u *DefaultUnitOfWork) doRollback(ctx context.Context, cause error) {
	u.aggregates = nil
	u.events = nil

	for _, inner := range u.inners {
		if inner.started {
			innerCtx := inner.within(ctx)
			inner.doRollback(innerCtx, cause)
			inner.started = false
			inner.notifyCleanup(innerCtx)
			inner.release()
		}
	}

	if u.tx != nil {
		if err := u.txm.Rollback(ctx, u.tx); err != nil {
			u.log.Error("rollback transaction", slog.Any("error", err))
		}
		u.tx = nil
	}

	u.notifyRollback(ctx, cause)
	u.metrics.UnitOfWorkRolledBack()
}

func (u *DefaultUnitOfWork) notifyPrepareCommit(ctx context.Context) error {
	aggregates := u.Aggregates()
	var events []es.Event
	for _, agg := range aggregates {
		events = append(events, agg.Uncommitted()...)
	}
	for _, p := range u.events {
		events = append(events, p.event)
	}
	for _, l := range u.listeners {
		if err := l.OnPrepareCommit(ctx, aggregates, events); err != nil {
			return err
		}
	}
	return nil
}

func (u *DefaultUnitOfWork) notifyAfterCommit(ctx context.Context) {
	for _, l := range u.listeners {
		u.safely("after commit", func() { l.AfterCommit(ctx) })
	}
}

func (u *DefaultUnitOfWork) notifyRollback(ctx context.Context, cause error) {
	for _, l := range u.listeners {
		u.safely("rollback", func() { l.OnRollback(ctx, cause) })
	}
}

// notifyCleanup runs at most once per lifecycle, newest listener first.
func (u *DefaultUnitOfWork) notifyCleanup(ctx context.Context) {
	if u.cleanedUp {
		return
	}
	u.cleanedUp = true
	for _, l := range slices.Backward(u.listeners) {
		u.safely("cleanup", func() { l.OnCleanup(ctx) })
	}
}

func (u *DefaultUnitOfWork) safely(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			u.log.Warn("listener panicked", slog.String("phase", phase), slog.Any("panic", r))
		}
	}()
	fn()
}

// commitOnOuterCommit finalizes a nested unit whose outer unit does not
// support nesting.
type commitOnOuterCommit struct {
	ListenerAdapter
	inner *DefaultUnitOfWork
}

func (c *commitOnOuterCommit) AfterCommit(ctx context.Context) {
	if !c.inner.started {
		return
	}
	if err := c.inner.performInnerCommit(ctx); err != nil {
		c.inner.log.Error("nested commit failed", slog.Any("error", err))
	}
}

func (c *commitOnOuterCommit) OnRollback(ctx context.Context, cause error) {
	if !c.inner.started {
		return
	}
	ctx = c.inner.within(ctx)
	c.inner.doRollback(ctx, cause)
	c.inner.started = false
	c.inner.notifyCleanup(ctx)
	c.inner.release()
}

var _ UnitOfWork = (*DefaultUnitOfWork)(nil)
