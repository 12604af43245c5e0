package uow

import (
	"context"

	"github.com/heianxing/axon-demo/core/es"
)

// Listener is notified about the phases of a unit of work.
type Listener interface {
	// OnPrepareCommit runs before any aggregate is saved. An error aborts
	// the commit and rolls the unit back.
	OnPrepareCommit(ctx context.Context, aggregates []es.Aggregate, events []es.Event) error
	AfterCommit(ctx context.Context)
	OnRollback(ctx context.Context, cause error)
	// OnCleanup runs exactly once when the unit ends, committed or not.
	OnCleanup(ctx context.Context)
}

// ListenerAdapter implements Listener with no-ops. Embed it and override
// the phases of interest.
type ListenerAdapter struct{}

func (ListenerAdapter) OnPrepareCommit(context.Context, []es.Aggregate, []es.Event) error {
	return nil
}
func (ListenerAdapter) AfterCommit(context.Context)       {}
func (ListenerAdapter) OnRollback(context.Context, error) {}
func (ListenerAdapter) OnCleanup(context.Context)         {}

// CleanupFunc is a Listener that only cares about cleanup.
type CleanupFunc func(ctx context.Context)

func (CleanupFunc) OnPrepareCommit(context.Context, []es.Aggregate, []es.Event) error {
	return nil
}
func (CleanupFunc) AfterCommit(context.Context)       {}
func (CleanupFunc) OnRollback(context.Context, error) {}
func (f CleanupFunc) OnCleanup(ctx context.Context)   { f(ctx) }

// RollbackFunc is a Listener that only cares about rollback.
type RollbackFunc func(ctx context.Context, cause error)

func (RollbackFunc) OnPrepareCommit(context.Context, []es.Aggregate, []es.Event) error {
	return nil
}
func (RollbackFunc) AfterCommit(context.Context)                   {}
func (f RollbackFunc) OnRollback(ctx context.Context, cause error) { f(ctx, cause) }
func (RollbackFunc) OnCleanup(context.Context)                     {}

var (
	_ Listener = ListenerAdapter{}
	_ Listener = CleanupFunc(nil)
	_ Listener = RollbackFunc(nil)
)
