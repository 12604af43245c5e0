// Package perkey provides a scheduler that serializes work per key while
// work for different keys runs concurrently.
//
// The snapshotters use it to build at most one snapshot per aggregate at a
// time without blocking the committing unit of work.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSchedulerClosed is returned when work is submitted to a closed scheduler.
	ErrSchedulerClosed = errors.New("scheduler is closed")
	// ErrQueueFull is returned when a key has reached its queue limit.
	ErrQueueFull = errors.New("queue is full")
)

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	queueLimit int
}

// WithQueueLimit bounds the number of tasks waiting per key. Zero or
// negative values keep the queue unbounded.
func WithQueueLimit(limit int) Option {
	return func(c *config) {
		if limit > 0 {
			c.queueLimit = limit
		}
	}
}

// Scheduler runs tasks such that for any given key tasks execute one at a
// time, in submission order. A key has a worker goroutine only while it has
// work queued; idle keys cost nothing.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	running    sync.WaitGroup
	queueLimit int
}

type worker struct {
	queue []*task
}

type task struct {
	fn   func() error
	done chan error // nil for fire-and-forget tasks
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		queueLimit: cfg.queueLimit,
	}
}

// Do runs fn for key and waits for its result.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but stops waiting when ctx is done. A task that was
// queued before ctx was done still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &task{fn: fn, done: make(chan error, 1)}
	if err := s.enqueue(key, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go queues fn for key without waiting for it.
func (s *Scheduler[K]) Go(key K, fn func()) error {
	return s.enqueue(key, &task{fn: func() error { fn(); return nil }})
}

// Workers returns the number of keys that currently have work.
func (s *Scheduler[K]) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting tasks and waits until every queued task ran.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.running.Wait()
}

func (s *Scheduler[K]) enqueue(key K, t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	w, ok := s.workers[key]
	if !ok {
		w = &worker{}
		s.workers[key] = w
		s.running.Add(1)
		go s.run(key, w)
	} else if s.queueLimit > 0 && len(w.queue) >= s.queueLimit {
		return ErrQueueFull
	}
	w.queue = append(w.queue, t)
	return nil
}

// run drains the queue of one key and retires the worker once it is empty.
func (s *Scheduler[K]) run(key K, w *worker) {
	defer s.running.Done()
	for {
		s.mu.Lock()
		if len(w.queue) == 0 {
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		s.mu.Unlock()

		err := t.fn()
		if t.done != nil {
			t.done <- err
		}
	}
}
