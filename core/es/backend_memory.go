package es

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrDuplicateKey is the uniqueness violation reported by [InMemoryBackend].
var ErrDuplicateKey = errors.New("duplicate key")

type streamKey struct{ aggType, aggID string }

// InMemoryBackend keeps records in process memory. It is meant for tests
// and development and enforces the same uniqueness rule as real backends.
type InMemoryBackend struct {
	mu        sync.RWMutex
	streams   map[streamKey][]Record
	snapshots map[streamKey][]Record
	all       []Record
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		streams:   map[streamKey][]Record{},
		snapshots: map[streamKey][]Record{},
	}
}

func bySeq(r Record, seq int64) int { return cmp.Compare(r.SequenceNumber, seq) }

// InsertEvents inserts all records or none.
func (b *InMemoryBackend) InsertEvents(_ context.Context, records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := map[streamKey]map[int64]struct{}{}
	for _, rec := range records {
		k := streamKey{rec.AggregateType, rec.AggregateID}
		if _, dup := slices.BinarySearchFunc(b.streams[k], rec.SequenceNumber, bySeq); dup {
			return &RecordError{Record: rec, Err: ErrDuplicateKey}
		}
		if seen[k] == nil {
			seen[k] = map[int64]struct{}{}
		}
		if _, dup := seen[k][rec.SequenceNumber]; dup {
			return &RecordError{Record: rec, Err: ErrDuplicateKey}
		}
		seen[k][rec.SequenceNumber] = struct{}{}
	}

	for _, rec := range records {
		k := streamKey{rec.AggregateType, rec.AggregateID}
		i, _ := slices.BinarySearchFunc(b.streams[k], rec.SequenceNumber, bySeq)
		b.streams[k] = slices.Insert(b.streams[k], i, rec)
		b.all = append(b.all, rec)
	}
	return nil
}

func (b *InMemoryBackend) ReadEvents(_ context.Context, aggType, aggID string, firstSeq int64, limit int) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stream := b.streams[streamKey{aggType, aggID}]
	i, _ := slices.BinarySearchFunc(stream, firstSeq, bySeq)
	end := min(i+limit, len(stream))
	return slices.Clone(stream[i:end]), nil
}

func (b *InMemoryBackend) InsertSnapshot(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := streamKey{rec.AggregateType, rec.AggregateID}
	i, _ := slices.BinarySearchFunc(b.snapshots[k], rec.SequenceNumber, bySeq)
	b.snapshots[k] = slices.Insert(b.snapshots[k], i, rec)
	return nil
}

func (b *InMemoryBackend) LatestSnapshot(_ context.Context, aggType, aggID string) (Record, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshots := b.snapshots[streamKey{aggType, aggID}]
	if len(snapshots) == 0 {
		return Record{}, false, nil
	}
	return snapshots[len(snapshots)-1], true, nil
}

func (b *InMemoryBackend) ScanEvents(ctx context.Context, batchSize int, fn func([]Record) error) error {
	b.mu.RLock()
	all := slices.Clone(b.all)
	b.mu.RUnlock()

	slices.SortStableFunc(all, func(x, y Record) int {
		if c := x.Timestamp.Compare(y.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(x.SequenceNumber, y.SequenceNumber)
	})

	for start := 0; start < len(all); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(all[start:min(start+batchSize, len(all))]); err != nil {
			return err
		}
	}
	return nil
}

func (b *InMemoryBackend) IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }

var _ Backend = (*InMemoryBackend)(nil)
