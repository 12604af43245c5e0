package es

import (
	"fmt"

	"github.com/heianxing/axon-demo/core/es/assert"
)

// Aggregate is the capability contract the repositories need from a domain
// object. Concrete aggregates embed [BaseAggregate] and implement
// AggregateType and Apply.
//
// Invariant: uncommitted events are contiguous, and the first one carries
// the sequence number Version().Next().
type Aggregate interface {
	// AggregateType names the event partition of the aggregate.
	AggregateType() string
	AggregateID() Identifier
	// Version is the sequence number of the last persisted event.
	Version() Version
	// Apply mutates the state from an event payload. It must not fail for
	// payloads that were accepted before.
	Apply(payload any) error
	// Raise records payload as the next uncommitted event without applying it.
	Raise(payload any) Event
	Uncommitted() []Event
	// CommitEvents marks the uncommitted events as persisted.
	CommitEvents()

	baseAggregate() *BaseAggregate
}

// BaseAggregate tracks the identity, version and uncommitted events of an
// aggregate. The zero value is a new aggregate without identifier.
type BaseAggregate struct {
	id          Identifier
	persisted   int64 // number of persisted events, Version()+1
	next        int64 // sequence number of the next raised event
	uncommitted []Event
}

func (b *BaseAggregate) AggregateID() Identifier { return b.id }

// SetAggregateID assigns the identifier of a new aggregate.
func (b *BaseAggregate) SetAggregateID(id Identifier) { b.id = id }

func (b *BaseAggregate) Version() Version { return Version(b.persisted - 1) }

func (b *BaseAggregate) Raise(payload any) Event {
	e := NewEvent(b.id, b.next, payload)
	b.next++
	b.uncommitted = append(b.uncommitted, e)
	return e
}

func (b *BaseAggregate) Uncommitted() []Event {
	out := make([]Event, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

func (b *BaseAggregate) CommitEvents() {
	b.persisted = b.next
	b.uncommitted = nil
}

// Checked runs thenFunc if c holds.
func (b *BaseAggregate) Checked(c assert.Cond, thenFunc func() error) error {
	if err := c(); err != nil {
		return err
	}
	return thenFunc()
}

func (b *BaseAggregate) baseAggregate() *BaseAggregate { return b }

// RaiseAndApply records each payload as the next uncommitted event and
// applies it. Payloads implementing Validate() error are validated first.
func RaiseAndApply(a Aggregate, payloads ...any) error {
	if a.AggregateID().IsZero() {
		return fmt.Errorf("%w: aggregate %s has no identifier", ErrIllegalState, a.AggregateType())
	}
	for _, p := range payloads {
		if v, ok := p.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", p, err)
			}
		}
	}
	for _, p := range payloads {
		a.Raise(p)
		if err := a.Apply(p); err != nil {
			return err
		}
	}
	return nil
}

// InitializeState replays a stream into a fresh aggregate. A leading
// snapshot event restores the state it carries, all other events are
// applied in order. The aggregate ends at the version of the last event.
func InitializeState(a Aggregate, stream Stream) error {
	b := a.baseAggregate()
	if b.persisted > 0 || len(b.uncommitted) > 0 {
		return fmt.Errorf("%w: aggregate %s is already initialized", ErrIllegalState, b.id)
	}
	for stream.HasNext() {
		e, err := stream.Next()
		if err != nil {
			return err
		}
		if b.id.IsZero() {
			b.id = e.AggregateID
		}
		if sp, ok := e.Payload.(*SnapshotPayload); ok {
			if err := sp.restore(a); err != nil {
				return err
			}
		} else if err := a.Apply(e.Payload); err != nil {
			return fmt.Errorf("apply %s (seq=%d): %w", EventTypeOf(e.Payload), e.SequenceNumber, err)
		}
		b.persisted = e.SequenceNumber + 1
		b.next = b.persisted
	}
	return nil
}
