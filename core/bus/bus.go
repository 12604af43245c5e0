// Package bus delivers published events to subscribed handlers.
//
// [SimpleBus] dispatches synchronously on the publishing goroutine, which
// for repository events is the committing unit of work. A failing handler
// therefore fails the commit. [Replay] feeds the complete event store
// through a handler, e.g. to rebuild a projection.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/heianxing/axon-demo/core/es"
)

type (
	valueOption[T any] struct{ v T }

	busOpts struct {
		log         *slog.Logger
		middlewares []Middleware
	}

	Option interface{ applyToBus(*busOpts) }

	LogOption         valueOption[*slog.Logger]
	MiddlewaresOption valueOption[[]Middleware]
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithMiddlewares wraps every subscribed handler, outermost first.
func WithMiddlewares(mws ...Middleware) MiddlewaresOption { return MiddlewaresOption{v: mws} }

func (o LogOption) applyToBus(b *busOpts)         { b.log = o.v }
func (o MiddlewaresOption) applyToBus(b *busOpts) { b.middlewares = append(b.middlewares, o.v...) }

type subscription struct {
	eventType string // empty for all events
	handler   Handler
}

// SimpleBus is an in-process event bus.
type SimpleBus struct {
	log         *slog.Logger
	middlewares []Middleware

	mu   sync.RWMutex
	subs []*subscription
}

func New(opts ...Option) *SimpleBus {
	options := busOpts{log: slog.Default()}
	for _, opt := range opts {
		opt.applyToBus(&options)
	}
	return &SimpleBus{
		log:         options.log.With(slog.String("component", "event_bus")),
		middlewares: options.middlewares,
	}
}

// Subscribe delivers every event to h. The returned function unsubscribes.
func (b *SimpleBus) Subscribe(h Handler) func() { return b.subscribe("", h) }

// SubscribeTo delivers the events of one event type to h.
func (b *SimpleBus) SubscribeTo(eventType string, h Handler) func() {
	return b.subscribe(eventType, h)
}

func (b *SimpleBus) subscribe(eventType string, h Handler) func() {
	s := &subscription{eventType: eventType, handler: applyMiddlewares(h, b.middlewares)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(other *subscription) bool { return other == s })
		})
	}
}

// Publish hands each event to the matching handlers in subscription order
// and stops at the first failing handler.
func (b *SimpleBus) Publish(ctx context.Context, events ...es.Event) error {
	for _, e := range events {
		if err := b.dispatch(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *SimpleBus) dispatch(ctx context.Context, e es.Event) error {
	eventType := es.EventTypeOf(e.Payload)

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.eventType != "" && s.eventType != eventType {
			continue
		}
		if err := s.handler.Handle(ctx, e); err != nil {
			return fmt.Errorf("handle %s (seq=%d): %w", eventType, e.SequenceNumber, err)
		}
	}
	return nil
}

// Replay delivers every stored event to the subscribers of the bus.
func (b *SimpleBus) Replay(ctx context.Context, store es.EventStoreManagement) error {
	b.log.Debug("replaying event store")
	return Replay(ctx, store, HandleFunc(b.dispatch))
}

// Replay delivers every stored event to h in store order.
func Replay(ctx context.Context, store es.EventStoreManagement, h Handler) error {
	return store.VisitEvents(ctx, es.VisitorFunc(func(ctx context.Context, e es.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return h.Handle(ctx, e)
	}))
}

var _ es.EventPublisher = (*SimpleBus)(nil)
