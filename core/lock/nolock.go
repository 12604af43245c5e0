package lock

import (
	"context"

	"github.com/heianxing/axon-demo/core/es"
)

// NoLockManager leaves consistency to the event store.
type NoLockManager struct{}

func (NoLockManager) ObtainLock(context.Context, es.Identifier) error  { return nil }
func (NoLockManager) ReleaseLock(context.Context, es.Identifier) error { return nil }
func (NoLockManager) ValidateLock(context.Context, es.Aggregate) bool  { return true }

var _ Manager = NoLockManager{}
