package es

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type tick struct {
	N int `json:"n"`
}

func ticks(id Identifier, first int64, n int) []Event {
	out := make([]Event, 0, n)
	for i := range n {
		out = append(out, NewEvent(id, first+int64(i), &tick{N: i}))
	}
	return out
}

func TestSliceStream(t *testing.T) {
	s := NewSliceStream(ticks("a", 0, 2)...)

	e, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, int64(0), e.SequenceNumber)

	e, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, int64(0), e.SequenceNumber)

	e, err = s.Next()
	require.NoError(t, err)
	require.Equal(t, int64(1), e.SequenceNumber)

	require.False(t, s.HasNext())
	_, ok = s.Peek()
	require.False(t, ok)
	_, err = s.Next()
	require.ErrorIs(t, err, ErrNoSuchElement)
}

func TestBatchingStream(t *testing.T) {
	const batchSize = 3
	log := ticks("a", 0, 7)

	var fetches []int64
	fetch := func(_ context.Context, firstSeq int64, limit int) ([]Event, error) {
		fetches = append(fetches, firstSeq)
		end := min(int(firstSeq)+limit, len(log))
		return log[firstSeq:end], nil
	}

	s := newBatchingStream(t.Context(), nil, log[:batchSize], batchSize, fetch)
	events, err := Collect(s)
	require.NoError(t, err)
	require.Len(t, events, 7)
	for i, e := range events {
		require.Equal(t, int64(i), e.SequenceNumber)
	}
	// pages 3..5 and 6; the short page ends the stream
	require.Equal(t, []int64{3, 6}, fetches)
}

func TestBatchingStream_exactMultiple(t *testing.T) {
	log := ticks("a", 0, 4)
	var fetches []int64
	fetch := func(_ context.Context, firstSeq int64, limit int) ([]Event, error) {
		fetches = append(fetches, firstSeq)
		end := min(int(firstSeq)+limit, len(log))
		if int(firstSeq) >= len(log) {
			return nil, nil
		}
		return log[firstSeq:end], nil
	}

	s := newBatchingStream(t.Context(), nil, log[:2], 2, fetch)
	events, err := Collect(s)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, []int64{2, 4}, fetches)
}

func TestBatchingStream_peekDoesNotFetch(t *testing.T) {
	calls := 0
	fetch := func(context.Context, int64, int) ([]Event, error) {
		calls++
		return nil, nil
	}
	s := newBatchingStream(t.Context(), nil, ticks("a", 0, 2), 2, fetch)
	for range 3 {
		e, ok := s.Peek()
		require.True(t, ok)
		require.Equal(t, int64(0), e.SequenceNumber)
	}
	require.Zero(t, calls)
}

func TestBatchingStream_prefixDoesNotCountTowardsPage(t *testing.T) {
	snapshot := NewEvent("a", 4, &SnapshotPayload{})
	calls := 0
	fetch := func(context.Context, int64, int) ([]Event, error) {
		calls++
		return nil, nil
	}
	s := newBatchingStream(t.Context(), []Event{snapshot}, ticks("a", 5, 1), 2, fetch)
	events, err := Collect(s)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, events[0].IsSnapshot())
	require.Zero(t, calls)
}

func TestBatchingStream_fetchError(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(context.Context, int64, int) ([]Event, error) { return nil, boom }

	s := newBatchingStream(t.Context(), nil, ticks("a", 0, 2), 2, fetch)
	_, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.ErrorIs(t, err, boom)
	require.False(t, s.HasNext())
	_, err = s.Next()
	require.ErrorIs(t, err, boom)
}

func TestAll(t *testing.T) {
	var seqs []int64
	for e, err := range All(NewSliceStream(ticks("a", 0, 3)...)) {
		require.NoError(t, err)
		seqs = append(seqs, e.SequenceNumber)
	}
	require.Equal(t, []int64{0, 1, 2}, seqs)
}
