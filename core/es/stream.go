package es

import (
	"context"
	"iter"
)

// Stream is a lazy, forward-only sequence of the events of one aggregate in
// ascending sequence number order.
type Stream interface {
	// HasNext reports whether Next will return another event.
	HasNext() bool
	// Next returns the next event. It fails with ErrNoSuchElement when the
	// stream is exhausted and with the storage error when fetching a page fails.
	Next() (Event, error)
	// Peek returns the next event without consuming it.
	Peek() (Event, bool)
}

// SliceStream streams events that are already in memory.
type SliceStream struct {
	events []Event
	pos    int
}

func NewSliceStream(events ...Event) *SliceStream {
	return &SliceStream{events: events}
}

func (s *SliceStream) HasNext() bool { return s.pos < len(s.events) }

func (s *SliceStream) Next() (Event, error) {
	if !s.HasNext() {
		return Event{}, ErrNoSuchElement
	}
	e := s.events[s.pos]
	s.pos++
	return e, nil
}

func (s *SliceStream) Peek() (Event, bool) {
	if !s.HasNext() {
		return Event{}, false
	}
	return s.events[s.pos], true
}

// Collect drains the stream into a slice.
func Collect(s Stream) ([]Event, error) {
	var out []Event
	for s.HasNext() {
		e, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// All adapts a stream to a range-over-func iterator. Iteration stops after
// the first error.
func All(s Stream) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for s.HasNext() {
			e, err := s.Next()
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// pageFetcher loads up to limit events starting at sequence number firstSeq.
type pageFetcher func(ctx context.Context, firstSeq int64, limit int) ([]Event, error)

// batchingStream hands out one page at a time. When the last event of a
// full page is handed out the following page is fetched, so a short page
// ends the stream without an extra round trip.
type batchingStream struct {
	ctx       context.Context
	fetch     pageFetcher
	batchSize int

	page []Event
	pos  int
	full bool
	next *Event
	err  error
}

// newBatchingStream starts with an already fetched page. prefix events (the
// snapshot) do not count towards the page size.
func newBatchingStream(ctx context.Context, prefix, page []Event, batchSize int, fetch pageFetcher) *batchingStream {
	s := &batchingStream{
		ctx:       ctx,
		fetch:     fetch,
		batchSize: batchSize,
		page:      append(prefix, page...),
		full:      len(page) >= batchSize,
	}
	s.advance()
	return s
}

func (s *batchingStream) advance() {
	if s.pos < len(s.page) {
		s.next = &s.page[s.pos]
		s.pos++
		return
	}
	s.next = nil
}

func (s *batchingStream) HasNext() bool { return s.next != nil }

func (s *batchingStream) Peek() (Event, bool) {
	if s.next == nil {
		return Event{}, false
	}
	return *s.next, true
}

func (s *batchingStream) Next() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	if s.next == nil {
		return Event{}, ErrNoSuchElement
	}
	current := *s.next
	if s.pos >= len(s.page) && s.full {
		page, err := s.fetch(s.ctx, current.SequenceNumber+1, s.batchSize)
		if err != nil {
			s.err, s.next = err, nil
			return Event{}, err
		}
		s.page, s.pos, s.full = page, 0, len(page) >= s.batchSize
	}
	s.advance()
	return current, nil
}

var (
	_ Stream = (*SliceStream)(nil)
	_ Stream = (*batchingStream)(nil)
)
