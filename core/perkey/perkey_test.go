package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_SequentialPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		mu  sync.Mutex
		seq []int
	)
	for i := range 5 {
		require.NoError(t, s.Go("key", func() {
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			seq = append(seq, i)
			mu.Unlock()
		}))
	}
	s.Close()
	require.Equal(t, []int{0, 1, 2, 3, 4}, seq)
}

func TestScheduler_ParallelAcrossKeys(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := range 5 {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(key, func() error {
				cur := running.Add(1)
				for {
					m := maxRunning.Load()
					if cur <= m || maxRunning.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(t, maxRunning.Load(), int32(2))
}

func TestScheduler_ErrorPropagation(t *testing.T) {
	s := New[string]()
	defer s.Close()

	expected := errors.New("task error")
	require.ErrorIs(t, s.Do("key", func() error { return expected }), expected)
}

func TestScheduler_DoContext_Canceled(t *testing.T) {
	s := New[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := s.DoContext(ctx, "key", func() error {
		t.Error("task should not execute")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_DoContext_Timeout(t *testing.T) {
	s := New[string]()
	defer s.Close()

	started := make(chan struct{})
	require.NoError(t, s.Go("key", func() {
		close(started)
		time.Sleep(100 * time.Millisecond)
	}))
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := s.DoContext(ctx, "key", func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_Close(t *testing.T) {
	s := New[string]()

	var executed atomic.Int32
	for range 5 {
		require.NoError(t, s.Go("key", func() {
			time.Sleep(5 * time.Millisecond)
			executed.Add(1)
		}))
	}

	s.Close()
	require.Equal(t, int32(5), executed.Load(), "queued tasks drain before Close returns")

	require.ErrorIs(t, s.Do("key", func() error { return nil }), ErrSchedulerClosed)
	require.ErrorIs(t, s.Go("key", func() {}), ErrSchedulerClosed)
	s.Close()
}

func TestScheduler_Close_ConcurrentSubmit(t *testing.T) {
	s := New[string]()

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do("key", func() error { return nil })
			if err != nil {
				require.ErrorIs(t, err, ErrSchedulerClosed)
			}
		}()
	}
	go func() {
		time.Sleep(time.Millisecond)
		s.Close()
	}()
	wg.Wait()
}

func TestScheduler_QueueLimit(t *testing.T) {
	s := New[string](WithQueueLimit(2))
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Go("key", func() {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, s.Go("key", func() {}))
	require.NoError(t, s.Go("key", func() {}))
	require.ErrorIs(t, s.Go("key", func() {}), ErrQueueFull)
	require.NoError(t, s.Go("other", func() {}), "limit applies per key")

	close(release)
}

func TestScheduler_RetiresIdleWorkers(t *testing.T) {
	s := New[int]()
	defer s.Close()

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(i, func() error {
				total.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(100), total.Load())

	require.Eventually(t, func() bool { return s.Workers() == 0 }, time.Second, 5*time.Millisecond)
}
