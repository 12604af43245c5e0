// Package snapshot decides when aggregates get snapshotted and builds the
// snapshots.
//
// A [Trigger] decorates the streams the repository reads and appends. The
// [EventCountTrigger] counts the events passing through and, once a unit of
// work ends with more than the threshold counted, asks a [Snapshotter] to
// snapshot the aggregate. [AggregateSnapshotter] does so by replaying the
// aggregate from the store and appending its state as a snapshot event.
package snapshot

import (
	"context"

	"github.com/heianxing/axon-demo/core/es"
)

// Snapshotter schedules snapshot creation for one aggregate.
type Snapshotter interface {
	ScheduleSnapshot(ctx context.Context, aggType string, id es.Identifier) error
}

type SnapshotterFunc func(ctx context.Context, aggType string, id es.Identifier) error

func (f SnapshotterFunc) ScheduleSnapshot(ctx context.Context, aggType string, id es.Identifier) error {
	return f(ctx, aggType, id)
}

// Trigger observes the event streams of a repository.
type Trigger interface {
	// DecorateForRead wraps the stream an aggregate is loaded from.
	DecorateForRead(ctx context.Context, aggType string, id es.Identifier, stream es.Stream) es.Stream
	// DecorateForAppend wraps the stream of new events of agg before they
	// are appended.
	DecorateForAppend(ctx context.Context, aggType string, agg es.Aggregate, stream es.Stream) es.Stream
}

// NoTrigger never snapshots.
type NoTrigger struct{}

func (NoTrigger) DecorateForRead(_ context.Context, _ string, _ es.Identifier, s es.Stream) es.Stream {
	return s
}

func (NoTrigger) DecorateForAppend(_ context.Context, _ string, _ es.Aggregate, s es.Stream) es.Stream {
	return s
}

var _ Trigger = NoTrigger{}
