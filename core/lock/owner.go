package lock

import (
	"context"
	"fmt"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

var (
	ErrNoOwner = fmt.Errorf("%w: no lock owner in context", es.ErrIllegalState)
	ErrNotHeld = fmt.Errorf("%w: lock is not held by the caller", es.ErrIllegalState)
)

type ownerKey struct{}

// WithOwner sets an explicit lock owner. owner must be comparable.
func WithOwner(ctx context.Context, owner any) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Owner returns the lock owner of ctx: the explicit owner if one is set,
// otherwise the root unit of work. Nested units of work therefore share
// the locks of their outer unit.
func Owner(ctx context.Context) (any, bool) {
	if owner := ctx.Value(ownerKey{}); owner != nil {
		return owner, true
	}
	if root, ok := uow.Root(ctx); ok {
		return root, true
	}
	return nil, false
}
