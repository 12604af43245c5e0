package bus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/estests/domain"
	"github.com/heianxing/axon-demo/core/repo"
	"github.com/heianxing/axon-demo/core/uow"
)

type other struct{}

func TestSimpleBus_Publish(t *testing.T) {
	b := New()

	var all, typed []int64
	b.Subscribe(HandleFunc(func(_ context.Context, e es.Event) error {
		all = append(all, e.SequenceNumber)
		return nil
	}))
	b.SubscribeTo(es.EventTypeOf(&domain.Incremented{}), HandleFunc(func(_ context.Context, e es.Event) error {
		typed = append(typed, e.SequenceNumber)
		return nil
	}))

	events := domain.Events("a", 0, 2)
	events = append(events, es.NewEvent("a", 2, &other{}))
	require.NoError(t, b.Publish(t.Context(), events...))

	require.Equal(t, []int64{0, 1, 2}, all)
	require.Equal(t, []int64{0, 1}, typed)
}

func TestSimpleBus_Unsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsubscribe := b.Subscribe(HandleFunc(func(context.Context, es.Event) error {
		calls++
		return nil
	}))

	require.NoError(t, b.Publish(t.Context(), domain.Events("a", 0, 1)...))
	unsubscribe()
	unsubscribe()
	require.NoError(t, b.Publish(t.Context(), domain.Events("a", 1, 1)...))
	require.Equal(t, 1, calls)
}

func TestSimpleBus_HandlerErrorStops(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	calls := 0
	b.Subscribe(HandleFunc(func(context.Context, es.Event) error {
		calls++
		return boom
	}))

	err := b.Publish(t.Context(), domain.Events("a", 0, 3)...)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "seq=0")
	require.Equal(t, 1, calls)
}

func TestOn(t *testing.T) {
	var total int
	h := On(func(_ context.Context, _ es.Event, p *domain.Incremented) error {
		total += int(p.Inc)
		return nil
	})
	require.NoError(t, h.Handle(t.Context(), es.NewEvent("a", 0, &domain.Incremented{Inc: 3})))
	require.NoError(t, h.Handle(t.Context(), es.NewEvent("a", 1, &other{})))
	require.Equal(t, 3, total)
}

func TestMiddlewares(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var order []string
	trace := func(name string) Middleware {
		return MiddlewareHandle(func(ctx context.Context, e es.Event, next Handler) error {
			order = append(order, name)
			return next.Handle(ctx, e)
		})
	}
	b := New(WithMiddlewares(trace("outer"), trace("inner"), NewLogMiddleware(log), NewRecoverMiddleware()))
	b.Subscribe(HandleFunc(func(context.Context, es.Event) error {
		order = append(order, "handler")
		panic("kaputt")
	}))

	err := b.Publish(t.Context(), domain.Events("a", 0, 1)...)
	require.ErrorContains(t, err, "kaputt")
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
	require.Contains(t, buf.String(), "failed")
}

func TestReplay(t *testing.T) {
	store := es.NewInMemoryStore(es.WithSerializer(domain.NewRegistry()))
	require.NoError(t, store.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events("a", 0, 3)...)))
	require.NoError(t, store.AppendEvents(t.Context(), domain.AggType, es.NewSliceStream(domain.Events("b", 0, 2)...)))

	counts := map[es.Identifier]int{}
	b := New()
	b.Subscribe(On(func(_ context.Context, e es.Event, p *domain.Incremented) error {
		counts[e.AggregateID] += int(p.Inc)
		return nil
	}))

	require.NoError(t, b.Replay(t.Context(), store))
	require.Equal(t, map[es.Identifier]int{"a": 3, "b": 2}, counts)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, Replay(ctx, store, HandleFunc(func(context.Context, es.Event) error { return nil })), context.Canceled)
}

func TestSimpleBus_AsRepositoryPublisher(t *testing.T) {
	b := New()
	var published []es.Event
	b.Subscribe(HandleFunc(func(ctx context.Context, e es.Event) error {
		require.True(t, uow.IsStarted(ctx), "published inside the committing unit of work")
		published = append(published, e)
		return nil
	}))

	store := es.NewInMemoryStore(es.WithSerializer(domain.NewRegistry()))
	r, err := repo.NewEventSourcing(store, domain.NewTestAgg, repo.WithPublisher(b))
	require.NoError(t, err)

	require.NoError(t, uow.Run(t.Context(), func(ctx context.Context) error {
		agg := domain.NewTestAgg(es.NewIdentifier())
		require.NoError(t, agg.Inc())
		require.NoError(t, agg.Reset())
		return r.Add(ctx, agg)
	}))
	require.Len(t, published, 2)
}
