package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type (
	// EventStore is the append-only event log.
	EventStore interface {
		// AppendEvents drains the stream and persists its events in order.
		AppendEvents(ctx context.Context, aggType string, events Stream) error
		// ReadEvents streams the events of one aggregate, starting at its
		// newest snapshot if there is one.
		ReadEvents(ctx context.Context, aggType string, id Identifier) (Stream, error)
	}

	// SnapshotEventStore is an EventStore that accepts snapshots.
	SnapshotEventStore interface {
		EventStore
		AppendSnapshotEvent(ctx context.Context, aggType string, snapshot Event) error
	}

	// EventStoreManagement replays the complete store, e.g. to rebuild projections.
	EventStoreManagement interface {
		VisitEvents(ctx context.Context, visitor Visitor) error
	}

	Visitor interface {
		VisitEvent(ctx context.Context, e Event) error
	}

	VisitorFunc func(ctx context.Context, e Event) error
)

func (f VisitorFunc) VisitEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// DefaultBatchSize is the page size of reads. It should be at least the
// snapshot interval so that one page usually covers a full load.
const DefaultBatchSize = 100

// Store implements the event log on top of a [Backend].
type Store struct {
	backend     Backend
	serializer  Serializer
	isDuplicate DuplicateKeyClassifier
	batchSize   int
	log         *slog.Logger
	metrics     Metrics
}

func NewStore(backend Backend, opts ...StoreOption) *Store {
	options := newStoreOpts(opts...)
	s := &Store{
		backend:     backend,
		serializer:  options.serializer,
		isDuplicate: options.classifier,
		batchSize:   options.batchSize,
		log:         options.log.With(slog.String("component", "event_store")),
		metrics:     options.metrics,
	}
	if s.isDuplicate == nil {
		s.isDuplicate = backend.IsDuplicateKey
	}
	return s
}

// NewInMemoryStore returns a Store over a fresh [InMemoryBackend].
func NewInMemoryStore(opts ...StoreOption) *Store {
	return NewStore(NewInMemoryBackend(), opts...)
}

func (s *Store) Backend() Backend       { return s.backend }
func (s *Store) Serializer() Serializer { return s.serializer }
func (s *Store) BatchSize() int         { return s.batchSize }

func (s *Store) AppendEvents(ctx context.Context, aggType string, events Stream) error {
	defer s.metrics.StoreAppendDuration(aggType).ObserveDuration()

	var records []Record
	for events.HasNext() {
		e, err := events.Next()
		if err != nil {
			return err
		}
		rec, err := ToRecord(s.serializer, aggType, e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	if err := s.backend.InsertEvents(ctx, records); err != nil {
		if !s.isDuplicate(err) {
			return err
		}
		offending := records[0]
		var re *RecordError
		if errors.As(err, &re) {
			offending = re.Record
		}
		s.metrics.ConcurrencyConflict(aggType)
		s.log.Debug(
			"append conflict",
			slog.Group("agg", slog.String("type", aggType), slog.String("id", offending.AggregateID)),
			slog.Int64("seq", offending.SequenceNumber),
		)
		return NewConcurrencyError(Identifier(offending.AggregateID), offending.SequenceNumber, err)
	}

	s.metrics.EventsAppended(aggType, len(records))
	s.log.Debug(
		"appended",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", records[0].AggregateID)),
		slog.Int64("first_seq", records[0].SequenceNumber),
		slog.Int("count", len(records)),
	)
	return nil
}

func (s *Store) ReadEvents(ctx context.Context, aggType string, id Identifier) (Stream, error) {
	defer s.metrics.StoreReadDuration(aggType).ObserveDuration()

	log := s.log.With(slog.Group("agg", slog.String("type", aggType), id.SlogAttr()))

	var (
		prefix   []Event
		firstSeq int64
	)
	snapshot, err := s.readSnapshot(ctx, aggType, id)
	switch {
	case errors.Is(err, ErrSnapshotCorrupt):
		log.Warn("ignoring unreadable snapshot, replaying from the start", slog.Any("error", err))
	case err != nil:
		return nil, err
	case snapshot != nil:
		prefix = []Event{*snapshot}
		firstSeq = snapshot.SequenceNumber + 1
	}

	page, err := s.readPage(ctx, aggType, id, firstSeq, s.batchSize)
	if err != nil {
		return nil, err
	}
	if len(prefix) == 0 && len(page) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrEventStreamNotFound, aggType, id)
	}

	log.Debug("read", slog.Int64("first_seq", firstSeq), slog.Bool("snapshot", len(prefix) > 0))

	return newBatchingStream(ctx, prefix, page, s.batchSize, func(ctx context.Context, firstSeq int64, limit int) ([]Event, error) {
		return s.readPage(ctx, aggType, id, firstSeq, limit)
	}), nil
}

func (s *Store) readSnapshot(ctx context.Context, aggType string, id Identifier) (*Event, error) {
	rec, ok, err := s.backend.LatestSnapshot(ctx, aggType, id.String())
	if err != nil || !ok {
		return nil, err
	}
	e, err := FromRecord(s.serializer, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	sp, ok := e.Payload.(*SnapshotPayload)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot record holds %s", ErrSnapshotCorrupt, rec.PayloadType)
	}
	if err := sp.Verify(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) readPage(ctx context.Context, aggType string, id Identifier, firstSeq int64, limit int) ([]Event, error) {
	recs, err := s.backend.ReadEvents(ctx, aggType, id.String(), firstSeq, limit)
	if err != nil {
		return nil, err
	}
	return s.decode(recs)
}

func (s *Store) decode(recs []Record) ([]Event, error) {
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		e, err := FromRecord(s.serializer, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) AppendSnapshotEvent(ctx context.Context, aggType string, snapshot Event) error {
	defer s.metrics.SnapshotSaveDuration(aggType).ObserveDuration()

	if !snapshot.IsSnapshot() {
		return fmt.Errorf("%w: %T is not a snapshot payload", ErrIllegalArgument, snapshot.Payload)
	}
	rec, err := ToRecord(s.serializer, aggType, snapshot)
	if err != nil {
		return err
	}
	if err := s.backend.InsertSnapshot(ctx, rec); err != nil {
		return err
	}
	s.log.Debug(
		"snapshot appended",
		slog.Group("agg", slog.String("type", aggType), snapshot.AggregateID.SlogAttr()),
		slog.Int64("seq", snapshot.SequenceNumber),
	)
	return nil
}

// VisitEvents passes every event in the store to the visitor, ascending by
// (timestamp, sequence number). The backend is read page by page.
func (s *Store) VisitEvents(ctx context.Context, visitor Visitor) error {
	return s.backend.ScanEvents(ctx, s.batchSize, func(page []Record) error {
		for _, rec := range page {
			e, err := FromRecord(s.serializer, rec)
			if err != nil {
				return err
			}
			if err := visitor.VisitEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

var (
	_ SnapshotEventStore   = (*Store)(nil)
	_ EventStoreManagement = (*Store)(nil)
)
