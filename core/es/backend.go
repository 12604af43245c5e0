package es

import (
	"context"
	"fmt"
)

// Backend is the storage port behind [Store]. Records of one aggregate are
// unique on (aggregate type, aggregate id, sequence number); a backend must
// enforce this and report violations so that IsDuplicateKey recognizes them.
type Backend interface {
	// InsertEvents persists records in order. Backends with transactions
	// insert all or nothing.
	InsertEvents(ctx context.Context, records []Record) error
	// ReadEvents returns at most limit events of one aggregate with a
	// sequence number >= firstSeq, ascending.
	ReadEvents(ctx context.Context, aggType, aggID string, firstSeq int64, limit int) ([]Record, error)

	// InsertSnapshot stores a snapshot record next to, not in, the event log.
	InsertSnapshot(ctx context.Context, record Record) error
	// LatestSnapshot returns the snapshot with the highest sequence number.
	LatestSnapshot(ctx context.Context, aggType, aggID string) (Record, bool, error)

	// ScanEvents passes every event of every aggregate to fn, ascending by
	// (timestamp, sequence number), in pages of at most batchSize records.
	ScanEvents(ctx context.Context, batchSize int, fn func(page []Record) error) error

	// IsDuplicateKey classifies errors of InsertEvents.
	IsDuplicateKey(err error) bool
}

// DuplicateKeyClassifier reports whether a storage error is a uniqueness
// violation on (aggregate type, aggregate id, sequence number).
type DuplicateKeyClassifier func(err error) bool

// RecordError ties a storage error to the record that caused it.
type RecordError struct {
	Record Record
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s/%s seq=%d: %v", e.Record.AggregateType, e.Record.AggregateID, e.Record.SequenceNumber, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
