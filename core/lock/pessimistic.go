package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/heianxing/axon-demo/core/es"
)

// PessimisticManager hands out exclusive, reentrant locks per identifier.
// ObtainLock blocks until the lock is free or ctx is done; there is no
// timeout of its own. A lock that is never released blocks every later
// loader of that aggregate.
type PessimisticManager struct {
	mu      sync.Mutex
	locks   map[es.Identifier]*heldLock
	log     *slog.Logger
	metrics es.Metrics
}

type heldLock struct {
	owner    any
	holds    int
	released chan struct{}
}

func NewPessimistic(opts ...Option) *PessimisticManager {
	options := newOpts(opts...)
	return &PessimisticManager{
		locks:   map[es.Identifier]*heldLock{},
		log:     options.log.With(slog.String("lock", "pessimistic")),
		metrics: options.metrics,
	}
}

func (m *PessimisticManager) ObtainLock(ctx context.Context, id es.Identifier) error {
	owner, ok := Owner(ctx)
	if !ok {
		return ErrNoOwner
	}
	defer m.metrics.LockWaitDuration(Pessimistic.String()).ObserveDuration()

	for {
		m.mu.Lock()
		l, held := m.locks[id]
		if !held {
			m.locks[id] = &heldLock{owner: owner, holds: 1, released: make(chan struct{})}
			m.mu.Unlock()
			return nil
		}
		if l.owner == owner {
			l.holds++
			m.mu.Unlock()
			return nil
		}
		released := l.released
		m.mu.Unlock()

		m.log.Debug("waiting for lock", id.SlogAttr())
		select {
		case <-released:
		case <-ctx.Done():
			return fmt.Errorf("obtain lock for %s: %w", id, ctx.Err())
		}
	}
}

func (m *PessimisticManager) ReleaseLock(ctx context.Context, id es.Identifier) error {
	owner, ok := Owner(ctx)
	if !ok {
		return ErrNoOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.locks[id]
	if !held || l.owner != owner {
		return fmt.Errorf("release lock for %s: %w", id, ErrNotHeld)
	}
	l.holds--
	if l.holds == 0 {
		delete(m.locks, id)
		close(l.released)
	}
	return nil
}

// ValidateLock reports whether the owner in ctx holds the lock of agg.
func (m *PessimisticManager) ValidateLock(ctx context.Context, agg es.Aggregate) bool {
	owner, ok := Owner(ctx)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, held := m.locks[agg.AggregateID()]
	return held && l.owner == owner
}

// IsLocked reports whether anyone holds the lock for id.
func (m *PessimisticManager) IsLocked(id es.Identifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[id]
	return held
}

var _ Manager = (*PessimisticManager)(nil)
