package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

// ConflictResolver decides whether the changes a unit of work applied to an
// aggregate conflict with the changes committed since the version the
// caller expected. It returns an error wrapping
// [es.ErrConflictingModification] to reject the commit.
type ConflictResolver interface {
	ResolveConflicts(ctx context.Context, applied, committed []es.Event) error
}

type ConflictResolverFunc func(ctx context.Context, applied, committed []es.Event) error

func (f ConflictResolverFunc) ResolveConflicts(ctx context.Context, applied, committed []es.Event) error {
	return f(ctx, applied, committed)
}

// RejectConcurrentChanges treats any committed change as a conflict.
var RejectConcurrentChanges ConflictResolverFunc = func(_ context.Context, applied, committed []es.Event) error {
	if len(applied) == 0 || len(committed) == 0 {
		return nil
	}
	return fmt.Errorf(
		"%w: %d events were committed to aggregate %s since the expected version",
		es.ErrConflictingModification, len(committed), committed[0].AggregateID,
	)
}

// conflictResolving hands the unseen events of one aggregate to the
// resolver when the unit of work prepares to commit.
type conflictResolving struct {
	uow.ListenerAdapter
	agg      es.Aggregate
	unseen   []es.Event
	resolver ConflictResolver
	log      *slog.Logger
}

func (c *conflictResolving) OnPrepareCommit(ctx context.Context, _ []es.Aggregate, _ []es.Event) error {
	applied := c.agg.Uncommitted()
	if err := c.resolver.ResolveConflicts(ctx, applied, c.unseen); err != nil {
		c.log.Debug(
			"conflicting modification",
			c.agg.AggregateID().SlogAttr(),
			slog.Int("applied", len(applied)),
			slog.Int("committed", len(c.unseen)),
		)
		return err
	}
	return nil
}

// unseenCollector remembers the events past the expected version while the
// aggregate is replayed.
type unseenCollector struct {
	es.Stream
	after  es.Version
	unseen []es.Event
}

func (s *unseenCollector) Next() (es.Event, error) {
	e, err := s.Stream.Next()
	if err == nil && !e.IsSnapshot() && e.SequenceNumber > s.after.Int64() {
		s.unseen = append(s.unseen, e)
	}
	return e, err
}
