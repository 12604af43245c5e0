package uow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
)

// recorder collects the phases seen by listeners, callbacks and publishers.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingListener struct {
	name string
	rec  *recorder
	veto error
}

func (l *recordingListener) OnPrepareCommit(_ context.Context, aggs []es.Aggregate, events []es.Event) error {
	l.rec.add(l.name + ":prepare")
	return l.veto
}
func (l *recordingListener) AfterCommit(context.Context)       { l.rec.add(l.name + ":after_commit") }
func (l *recordingListener) OnRollback(context.Context, error) { l.rec.add(l.name + ":rollback") }
func (l *recordingListener) OnCleanup(context.Context)         { l.rec.add(l.name + ":cleanup") }

type fakeTxManager struct {
	rec *recorder
}

func (m *fakeTxManager) Begin(context.Context) (any, error) {
	m.rec.add("tx:begin")
	return "tx", nil
}
func (m *fakeTxManager) Commit(context.Context, any) error {
	m.rec.add("tx:commit")
	return nil
}
func (m *fakeTxManager) Rollback(context.Context, any) error {
	m.rec.add("tx:rollback")
	return nil
}

func publisher(rec *recorder, name string) es.EventPublisher {
	return es.EventPublisherFunc(func(_ context.Context, events ...es.Event) error {
		for range events {
			rec.add(name + ":publish")
		}
		return nil
	})
}

func saving(rec *recorder, name string, err error) SaveCallback {
	return func(context.Context, es.Aggregate) error {
		rec.add(name + ":save")
		return err
	}
}

func TestCommit_lifecycle(t *testing.T) {
	rec := &recorder{}
	ctx, u, err := Start(t.Context(), WithTransactionManager(&fakeTxManager{rec: rec}))
	require.NoError(t, err)
	require.True(t, u.IsStarted())

	current, ok := Current(ctx)
	require.True(t, ok)
	require.Same(t, u, current)

	tx, ok := Transaction(ctx)
	require.True(t, ok)
	require.Equal(t, "tx", tx)

	u.RegisterListener(&recordingListener{name: "l", rec: rec})
	u.RegisterAggregate(domain.NewTestAgg("a-1"), saving(rec, "a-1", nil))
	u.PublishEvent(es.NewEvent("a-1", 0, &domain.Incremented{Inc: 1}), publisher(rec, "bus"))

	require.NoError(t, u.Commit(ctx))
	require.False(t, u.IsStarted())
	require.False(t, IsStarted(ctx))
	_, ok = Transaction(ctx)
	require.False(t, ok)

	require.Equal(t, []string{
		"tx:begin",
		"l:prepare",
		"a-1:save",
		"bus:publish",
		"tx:commit",
		"l:after_commit",
		"l:cleanup",
	}, rec.get())
}

func TestCommit_withParentContext(t *testing.T) {
	rec := &recorder{}
	parent := t.Context()
	_, u, err := Start(parent)
	require.NoError(t, err)

	u.RegisterAggregate(domain.NewTestAgg("a-1"), func(ctx context.Context, agg es.Aggregate) error {
		current, ok := Current(ctx)
		require.True(t, ok)
		require.Same(t, u, current)
		current.PublishEvent(es.NewEvent(agg.AggregateID(), 0, &domain.Incremented{Inc: 1}), publisher(rec, "bus"))
		return nil
	})

	require.NoError(t, u.Commit(parent))
	require.False(t, u.IsStarted())
	require.False(t, IsStarted(parent))
	require.Equal(t, []string{"bus:publish"}, rec.get())
}

func TestRollback_withParentContext(t *testing.T) {
	parent := t.Context()
	ctx, u, err := Start(parent)
	require.NoError(t, err)

	var seen UnitOfWork
	u.RegisterListener(RollbackFunc(func(ctx context.Context, _ error) {
		seen, _ = Current(ctx)
	}))
	u.Rollback(parent, errors.New("abandoned"))
	require.Same(t, u, seen)
	require.False(t, IsStarted(ctx))
}

func TestCommit_twice(t *testing.T) {
	ctx, u, err := Start(t.Context())
	require.NoError(t, err)
	require.NoError(t, u.Commit(ctx))

	err = u.Commit(ctx)
	require.ErrorIs(t, err, ErrNotStarted)
	require.ErrorIs(t, err, es.ErrIllegalState)
}

func TestStart_twice(t *testing.T) {
	ctx, u, err := Start(t.Context())
	require.NoError(t, err)
	_, err = u.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyStarted)
	require.ErrorIs(t, err, es.ErrIllegalState)
}

func TestStart_again(t *testing.T) {
	rec := &recorder{}
	u := New()
	ctx, err := u.Start(t.Context())
	require.NoError(t, err)
	u.RegisterListener(&recordingListener{name: "first", rec: rec})
	require.NoError(t, u.Commit(ctx))

	ctx, err = u.Start(t.Context())
	require.NoError(t, err)
	require.NoError(t, u.Commit(ctx))
	require.Equal(t, []string{"first:prepare", "first:after_commit", "first:cleanup"}, rec.get())
}

func TestCommit_saveFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")

	ctx, u, err := Start(t.Context(), WithTransactionManager(&fakeTxManager{rec: rec}))
	require.NoError(t, err)
	u.RegisterListener(&recordingListener{name: "l", rec: rec})
	u.RegisterAggregate(domain.NewTestAgg("a-1"), saving(rec, "a-1", boom))
	u.RegisterAggregate(domain.NewTestAgg("a-2"), saving(rec, "a-2", nil))
	u.PublishEvent(es.NewEvent("a-1", 0, &domain.Incremented{}), publisher(rec, "bus"))

	require.ErrorIs(t, u.Commit(ctx), boom)
	require.False(t, u.IsStarted())
	require.False(t, IsStarted(ctx))
	require.Equal(t, []string{
		"tx:begin",
		"l:prepare",
		"a-1:save",
		"tx:rollback",
		"l:rollback",
		"l:cleanup",
	}, rec.get())

	// a rollback after the failed commit does not clean up twice
	u.Rollback(ctx, boom)
	require.Len(t, rec.get(), 6)
}

func TestCommit_panicRollsBackAndRepanics(t *testing.T) {
	rec := &recorder{}
	ctx, u, err := Start(t.Context())
	require.NoError(t, err)
	u.RegisterListener(&recordingListener{name: "l", rec: rec})
	u.RegisterAggregate(domain.NewTestAgg("a-1"), func(context.Context, es.Aggregate) error {
		panic("save exploded")
	})

	require.PanicsWithValue(t, "save exploded", func() { _ = u.Commit(ctx) })
	require.False(t, IsStarted(ctx))
	require.Equal(t, []string{"l:prepare", "l:rollback", "l:cleanup"}, rec.get())
}

func TestCommit_prepareVeto(t *testing.T) {
	rec := &recorder{}
	veto := errors.New("veto")
	ctx, u, err := Start(t.Context())
	require.NoError(t, err)
	u.RegisterListener(&recordingListener{name: "l", rec: rec, veto: veto})
	u.RegisterAggregate(domain.NewTestAgg("a-1"), saving(rec, "a-1", nil))

	require.ErrorIs(t, u.Commit(ctx), veto)
	require.Equal(t, []string{"l:prepare", "l:rollback", "l:cleanup"}, rec.get())
}

func TestCleanup_listenerPanicDoesNotStopOthers(t *testing.T) {
	rec := &recorder{}
	ctx, u, err := Start(t.Context())
	require.NoError(t, err)
	u.RegisterListener(&recordingListener{name: "first", rec: rec})
	u.RegisterListener(CleanupFunc(func(context.Context) { panic("cleanup exploded") }))
	u.RegisterListener(&recordingListener{name: "third", rec: rec})

	require.NoError(t, u.Commit(ctx))
	require.False(t, IsStarted(ctx))
	// cleanup runs newest listener first
	require.Equal(t, []string{
		"first:prepare", "third:prepare",
		"first:after_commit", "third:after_commit",
		"third:cleanup", "first:cleanup",
	}, rec.get())
}

func TestRollback_notStarted(t *testing.T) {
	rec := &recorder{}
	u := New()
	u.RegisterListener(&recordingListener{name: "l", rec: rec})
	u.Rollback(t.Context(), nil)
	require.Equal(t, []string{"l:cleanup"}, rec.get())
}

func TestRegisterAggregate_dedupe(t *testing.T) {
	_, u, err := Start(t.Context())
	require.NoError(t, err)

	first := domain.NewTestAgg("a-1")
	require.Same(t, first, u.RegisterAggregate(first, saving(&recorder{}, "x", nil)))
	require.Same(t, first, u.RegisterAggregate(domain.NewTestAgg("a-1"), saving(&recorder{}, "y", nil)))
	require.Len(t, u.Aggregates(), 1)
}

func TestNested_commitDeferredToOuter(t *testing.T) {
	rec := &recorder{}
	txm := &fakeTxManager{rec: rec}

	outerCtx, outer, err := Start(t.Context(), WithTransactionManager(txm))
	require.NoError(t, err)
	outer.RegisterListener(&recordingListener{name: "outer", rec: rec})

	innerCtx, inner, err := Start(outerCtx, WithTransactionManager(txm))
	require.NoError(t, err)
	require.Same(t, inner, mustCurrent(t, innerCtx))
	root, ok := Root(innerCtx)
	require.True(t, ok)
	require.Same(t, outer, root)

	inner.RegisterListener(&recordingListener{name: "inner", rec: rec})
	inner.RegisterAggregate(domain.NewTestAgg("a-1"), saving(rec, "inner", nil))
	inner.PublishEvent(es.NewEvent("a-1", 0, &domain.Incremented{}), publisher(rec, "inner"))

	require.NoError(t, inner.Commit(innerCtx))
	require.True(t, inner.IsStarted(), "nested commit waits for the outer unit")
	require.Same(t, outer, mustCurrent(t, innerCtx))
	require.Equal(t, []string{"tx:begin", "inner:prepare", "inner:save"}, rec.get())

	require.NoError(t, outer.Commit(outerCtx))
	require.False(t, inner.IsStarted())
	require.Equal(t, []string{
		"tx:begin", "inner:prepare", "inner:save",
		"outer:prepare",
		"tx:commit",
		"inner:publish", "inner:after_commit", "inner:cleanup",
		"outer:after_commit", "outer:cleanup",
	}, rec.get())
}

func TestNested_innerPublishesWithinItself(t *testing.T) {
	rec := &recorder{}
	outerCtx, outer, err := Start(t.Context())
	require.NoError(t, err)
	innerCtx, inner, err := Start(outerCtx)
	require.NoError(t, err)

	// a handler that reacts to the inner event queues a follow-up on the
	// unit that is current while it runs
	followUp := es.EventPublisherFunc(func(ctx context.Context, events ...es.Event) error {
		rec.add("inner:publish")
		current := mustCurrent(t, ctx)
		require.Same(t, inner, current)
		current.PublishEvent(es.NewEvent("a-2", 0, &domain.Incremented{}), publisher(rec, "follow-up"))
		return nil
	})
	inner.PublishEvent(es.NewEvent("a-1", 0, &domain.Incremented{}), followUp)
	require.NoError(t, inner.Commit(innerCtx))

	require.NoError(t, outer.Commit(outerCtx))
	require.Equal(t, []string{"inner:publish", "follow-up:publish"}, rec.get())
}

func TestNested_innerRollbackKeepsOuterCleanup(t *testing.T) {
	rec := &recorder{}
	outerCtx, outer, err := Start(t.Context())
	require.NoError(t, err)
	outer.RegisterListener(&recordingListener{name: "outer", rec: rec})

	innerCtx, inner, err := Start(outerCtx)
	require.NoError(t, err)
	inner.RegisterListener(&recordingListener{name: "inner", rec: rec})
	inner.Rollback(innerCtx, errors.New("inner failed"))
	require.Same(t, outer, mustCurrent(t, innerCtx))

	require.NoError(t, outer.Commit(outerCtx))
	require.Equal(t, []string{
		"inner:rollback", "inner:cleanup",
		"outer:prepare", "outer:after_commit", "outer:cleanup",
	}, rec.get())
}

func TestNested_outerRollbackRollsBackInner(t *testing.T) {
	rec := &recorder{}
	outerCtx, outer, err := Start(t.Context())
	require.NoError(t, err)
	outer.RegisterListener(&recordingListener{name: "outer", rec: rec})

	innerCtx, inner, err := Start(outerCtx)
	require.NoError(t, err)
	inner.RegisterListener(&recordingListener{name: "inner", rec: rec})
	require.NoError(t, inner.Commit(innerCtx))

	outer.Rollback(outerCtx, errors.New("outer failed"))
	require.False(t, inner.IsStarted())
	require.Equal(t, []string{
		"inner:prepare",
		"inner:rollback", "inner:cleanup",
		"outer:rollback", "outer:cleanup",
	}, rec.get())
}

// plainUnit hides the nesting support of the wrapped unit.
type plainUnit struct{ *DefaultUnitOfWork }

func TestNested_outerWithoutNestingSupport(t *testing.T) {
	rec := &recorder{}
	base := New()
	ctx, err := base.Start(t.Context())
	require.NoError(t, err)
	outer := plainUnit{base}
	outerCtx, release := Bind(ctx, outer)
	defer release()

	innerCtx, inner, err := Start(outerCtx)
	require.NoError(t, err)
	inner.RegisterListener(&recordingListener{name: "inner", rec: rec})
	require.NoError(t, inner.Commit(innerCtx))
	require.True(t, inner.IsStarted())

	require.NoError(t, outer.Commit(outerCtx))
	require.False(t, inner.IsStarted())
	require.Equal(t, []string{"inner:prepare", "inner:after_commit", "inner:cleanup"}, rec.get())
}

func TestRun(t *testing.T) {
	rec := &recorder{}
	err := Run(t.Context(), func(ctx context.Context) error {
		u, ok := Current(ctx)
		require.True(t, ok)
		u.RegisterListener(&recordingListener{name: "ok", rec: rec})
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Run(t.Context(), func(ctx context.Context) error {
		u, _ := Current(ctx)
		u.RegisterListener(&recordingListener{name: "failed", rec: rec})
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{
		"ok:prepare", "ok:after_commit", "ok:cleanup",
		"failed:rollback", "failed:cleanup",
	}, rec.get())
}

func TestDetach(t *testing.T) {
	ctx, u, err := Start(t.Context())
	require.NoError(t, err)
	defer u.Rollback(ctx, nil)

	detached := Detach(ctx)
	require.False(t, IsStarted(detached))
	_, ok := Root(detached)
	require.False(t, ok)
}

func mustCurrent(t *testing.T, ctx context.Context) UnitOfWork {
	t.Helper()
	u, ok := Current(ctx)
	require.True(t, ok)
	return u
}
