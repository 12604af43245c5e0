package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/heianxing/axon-demo/core/cache"
	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/uow"
)

// EventCountTrigger schedules a snapshot once more than a threshold of
// events went through the decorated streams of one aggregate.
//
// Reading an aggregate restarts its counter. Appending adds to it and, once
// the appended stream is drained, registers a cleanup listener with the
// current unit of work. At cleanup the counter is compared against the
// threshold, so one unit of work schedules at most one snapshot per
// aggregate no matter how many streams it appended.
//
// The trigger implements [cache.Listener]: when aggregates are cached and
// counters are kept across appends, every evicted aggregate loses its
// counter because the next load replays and counts again.
type EventCountTrigger struct {
	snapshotter              Snapshotter
	threshold                int64
	clearCountersAfterAppend bool
	log                      *slog.Logger
	metrics                  es.Metrics

	mu       sync.Mutex
	counters map[es.Identifier]*atomic.Int64
}

func NewEventCountTrigger(snapshotter Snapshotter, opts ...TriggerOption) *EventCountTrigger {
	options := newTriggerOpts(opts...)
	return &EventCountTrigger{
		snapshotter:              snapshotter,
		threshold:                int64(options.threshold),
		clearCountersAfterAppend: options.clearCountersAfterAppend,
		log:                      options.log.With(slog.String("component", "snapshot_trigger")),
		metrics:                  options.metrics,
		counters:                 map[es.Identifier]*atomic.Int64{},
	}
}

func (t *EventCountTrigger) DecorateForRead(
	_ context.Context,
	_ string,
	id es.Identifier,
	stream es.Stream,
) es.Stream {
	counter := &atomic.Int64{}
	t.mu.Lock()
	t.counters[id] = counter
	t.mu.Unlock()
	return &countingStream{Stream: stream, counter: counter}
}

func (t *EventCountTrigger) DecorateForAppend(
	ctx context.Context,
	aggType string,
	agg es.Aggregate,
	stream es.Stream,
) es.Stream {
	id := agg.AggregateID()
	t.mu.Lock()
	counter, ok := t.counters[id]
	if !ok {
		counter = &atomic.Int64{}
		t.counters[id] = counter
	}
	t.mu.Unlock()

	return &triggeringStream{
		countingStream: countingStream{Stream: stream, counter: counter},
		ctx:            ctx,
		trigger:        t,
		aggType:        aggType,
		id:             id,
	}
}

// Counter returns the current count for id.
func (t *EventCountTrigger) Counter(id es.Identifier) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[id]
	if !ok {
		return 0, false
	}
	return c.Load(), true
}

// OnEvict forgets the counter of an aggregate that left the cache.
func (t *EventCountTrigger) OnEvict(id es.Identifier) { t.forget(id) }

// OnRemove implements [cache.Listener].
func (t *EventCountTrigger) OnRemove(key string, _ cache.RemovalReason) {
	t.forget(es.Identifier(key))
}

// OnClear implements [cache.Listener].
func (t *EventCountTrigger) OnClear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.counters)
}

func (t *EventCountTrigger) forget(id es.Identifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, id)
}

// drained runs once the appended stream of an aggregate is exhausted.
func (t *EventCountTrigger) drained(ctx context.Context, aggType string, id es.Identifier, counter *atomic.Int64) {
	evaluate := func(ctx context.Context) { t.evaluate(ctx, aggType, id, counter) }
	if u, ok := uow.Current(ctx); ok {
		u.RegisterListener(uow.CleanupFunc(evaluate))
	} else {
		evaluate(ctx)
	}

	if t.clearCountersAfterAppend {
		t.mu.Lock()
		if t.counters[id] == counter {
			delete(t.counters, id)
		}
		t.mu.Unlock()
	}
}

func (t *EventCountTrigger) evaluate(ctx context.Context, aggType string, id es.Identifier, counter *atomic.Int64) {
	if counter.Load() <= t.threshold {
		return
	}
	log := t.log.With(slog.Group("agg", slog.String("type", aggType), id.SlogAttr()))
	log.Debug("threshold exceeded, scheduling snapshot", slog.Int64("events", counter.Load()))
	t.metrics.SnapshotScheduled(aggType)
	if err := t.snapshotter.ScheduleSnapshot(ctx, aggType, id); err != nil {
		log.Error("schedule snapshot", slog.Any("error", err))
	}
	counter.Store(1)
}

type countingStream struct {
	es.Stream
	counter *atomic.Int64
}

func (s *countingStream) Next() (es.Event, error) {
	e, err := s.Stream.Next()
	if err == nil {
		s.counter.Add(1)
	}
	return e, err
}

type triggeringStream struct {
	countingStream
	ctx     context.Context
	trigger *EventCountTrigger
	aggType string
	id      es.Identifier
	done    bool
}

func (s *triggeringStream) HasNext() bool {
	hasNext := s.Stream.HasNext()
	if !hasNext && !s.done {
		s.done = true
		s.trigger.drained(s.ctx, s.aggType, s.id, s.counter)
	}
	return hasNext
}

var (
	_ Trigger        = (*EventCountTrigger)(nil)
	_ cache.Listener = (*EventCountTrigger)(nil)
)
