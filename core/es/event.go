package es

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/heianxing/axon-demo/internal/codec"
	"github.com/heianxing/axon-demo/internal/reflector"
)

// Event is one entry of an aggregate's log. Events are values: once created
// they are not modified.
type Event struct {
	ID             string
	AggregateID    Identifier
	SequenceNumber int64
	Timestamp      time.Time
	Payload        any
}

// NewEvent creates an event for the given aggregate and sequence number.
func NewEvent(id Identifier, seq int64, payload any) Event {
	return Event{
		ID:             gonanoid.Must(),
		AggregateID:    id,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
	}
}

// IsSnapshot reports whether the event carries aggregate state rather than a change.
func (e Event) IsSnapshot() bool {
	_, ok := e.Payload.(*SnapshotPayload)
	return ok
}

func (e Event) SlogAttr() slog.Attr {
	return slog.Group("event",
		slog.String("id", e.ID),
		slog.String("aggregate_id", e.AggregateID.String()),
		slog.Int64("seq", e.SequenceNumber),
		slog.String("type", EventTypeOf(e.Payload)),
	)
}

// Record is the persisted shape of an event or snapshot.
type Record struct {
	EventID        string    `json:"event_id" bson:"event_id"`
	AggregateType  string    `json:"aggregate_type" bson:"aggregate_type"`
	AggregateID    string    `json:"aggregate_id" bson:"aggregate_id"`
	SequenceNumber int64     `json:"sequence_number" bson:"sequence_number"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	PayloadType    string    `json:"payload_type" bson:"payload_type"`
	Payload        []byte    `json:"payload" bson:"payload"`
}

// Serializer turns payloads into bytes and back.
type Serializer interface {
	Serialize(payload any) (payloadType string, data []byte, err error)
	Deserialize(payloadType string, data []byte) (any, error)
}

// Registrar is the part of a registry aggregates use to announce their events.
type Registrar interface {
	Register(eventType string, ctor func() any)
}

// EventRegistry maps event type names to constructors so persisted payloads
// can be decoded. It is the default [Serializer].
type EventRegistry struct {
	mu    sync.RWMutex
	news  map[string]func() any
	codec codec.Codec
}

func NewRegistry() *EventRegistry {
	r := &EventRegistry{news: map[string]func() any{}, codec: codec.Default}
	RegisterEventFor[SnapshotPayload](r)
	return r
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) IsRegistered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

func (r *EventRegistry) Serialize(payload any) (string, []byte, error) {
	eventType := EventTypeOf(payload)
	if !r.IsRegistered(eventType) {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	data, err := r.codec.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("serialize %s: %w", eventType, err)
	}
	return eventType, data, nil
}

func (r *EventRegistry) Deserialize(eventType string, data []byte) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	ev := ctor()
	if len(data) > 0 {
		if err := r.codec.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("deserialize %s: %w", eventType, err)
		}
	}
	return ev, nil
}

func RegisterEventFor[T any](r Registrar) {
	r.Register(EventTypeOf(new(T)), func() any { return new(T) })
}

// Ctor returns a constructor for an event of type T.
func Ctor[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. Each constructor is called
// once to derive the event type name.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		r.Register(EventTypeOf(ctor()), ctor)
	}
}

// EventTypeOf returns the persisted type name of a payload. Payloads may
// override the reflected name by implementing EventType() string.
func EventTypeOf(payload any) string {
	if t, ok := payload.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(payload).ShortName
}

// ToRecord serializes an event of the given aggregate type.
func ToRecord(s Serializer, aggType string, e Event) (Record, error) {
	payloadType, data, err := s.Serialize(e.Payload)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:        e.ID,
		AggregateType:  aggType,
		AggregateID:    e.AggregateID.String(),
		SequenceNumber: e.SequenceNumber,
		Timestamp:      e.Timestamp,
		PayloadType:    payloadType,
		Payload:        data,
	}, nil
}

// FromRecord is the inverse of [ToRecord].
func FromRecord(s Serializer, r Record) (Event, error) {
	payload, err := s.Deserialize(r.PayloadType, r.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:             r.EventID,
		AggregateID:    Identifier(r.AggregateID),
		SequenceNumber: r.SequenceNumber,
		Timestamp:      r.Timestamp,
		Payload:        payload,
	}, nil
}

var _ Serializer = (*EventRegistry)(nil)
