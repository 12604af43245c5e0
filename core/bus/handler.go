package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heianxing/axon-demo/core/es"
)

type (
	Handler interface {
		Handle(ctx context.Context, e es.Event) error
	}
	HandleFunc           func(ctx context.Context, e es.Event) error
	Middleware           func(next Handler) Handler
	MiddlewareHandleFunc func(ctx context.Context, e es.Event, next Handler) error
)

func applyMiddlewares(h Handler, middlewares []Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === handler func ===

func (f HandleFunc) Handle(ctx context.Context, e es.Event) error { return f(ctx, e) }

// On adapts a handler for one payload type. Events with other payloads are
// ignored.
func On[T any](fn func(ctx context.Context, e es.Event, payload *T) error) HandleFunc {
	return func(ctx context.Context, e es.Event) error {
		p, ok := e.Payload.(*T)
		if !ok {
			return nil
		}
		return fn(ctx, e, p)
	}
}

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(ctx context.Context, e es.Event) error { return m.mw(ctx, e, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) Middleware {
	return func(next Handler) Handler {
		return &middleware{
			next: next,
			mw:   mw,
		}
	}
}

// === log ===

func NewLogMiddleware(log *slog.Logger, attrs ...any) Middleware {
	log = log.With(attrs...)
	return MiddlewareHandle(func(ctx context.Context, e es.Event, next Handler) (err error) {
		handleAt := time.Now()
		log := log.With(e.SlogAttr())

		err = next.Handle(ctx, e)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === recover ===

// NewRecoverMiddleware turns handler panics into errors.
func NewRecoverMiddleware() Middleware {
	return MiddlewareHandle(func(ctx context.Context, e es.Event, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked on %s: %v", es.EventTypeOf(e.Payload), r)
			}
		}()
		return next.Handle(ctx, e)
	})
}
