package uow

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

// frame links a unit of work to the unit that was current when it was bound.
type frame struct {
	unit   UnitOfWork
	parent *frame
	done   atomic.Bool
}

func frameFrom(ctx context.Context) *frame {
	f, _ := ctx.Value(ctxKey{}).(*frame)
	return f
}

// Bind makes unit the current unit of work of the returned context. The
// release function clears it again; afterwards [Current] falls back to the
// unit that was current before.
func Bind(ctx context.Context, unit UnitOfWork) (context.Context, func()) {
	ctx, f := bind(ctx, unit)
	return ctx, f.release
}

func bind(ctx context.Context, unit UnitOfWork) (context.Context, *frame) {
	f := &frame{unit: unit, parent: frameFrom(ctx)}
	return withFrame(ctx, f), f
}

func withFrame(ctx context.Context, f *frame) context.Context {
	return context.WithValue(ctx, ctxKey{}, f)
}

func (f *frame) release() { f.done.Store(true) }

// Current returns the innermost unit of work that has not been cleared.
func Current(ctx context.Context) (UnitOfWork, bool) {
	for f := frameFrom(ctx); f != nil; f = f.parent {
		if !f.done.Load() {
			return f.unit, true
		}
	}
	return nil, false
}

// IsStarted reports whether ctx carries a current unit of work.
func IsStarted(ctx context.Context) bool {
	_, ok := Current(ctx)
	return ok
}

// Root returns the outermost unit of work that has not been cleared. All
// units nested in it share its identity, e.g. as lock owner.
func Root(ctx context.Context) (UnitOfWork, bool) {
	var root UnitOfWork
	for f := frameFrom(ctx); f != nil; f = f.parent {
		if !f.done.Load() {
			root = f.unit
		}
	}
	return root, root != nil
}

// Detach returns a context without any unit of work. Work scheduled from a
// listener that must outlive the unit, like snapshotting, runs detached.
func Detach(ctx context.Context) context.Context {
	return withFrame(context.WithoutCancel(ctx), nil)
}

// Transaction returns the backing transaction of the nearest current unit
// that has one.
func Transaction(ctx context.Context) (any, bool) {
	for f := frameFrom(ctx); f != nil; f = f.parent {
		if f.done.Load() {
			continue
		}
		if t, ok := f.unit.(interface{ transaction() any }); ok {
			if tx := t.transaction(); tx != nil {
				return tx, true
			}
		}
	}
	return nil, false
}
