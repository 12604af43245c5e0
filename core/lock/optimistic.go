package lock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/heianxing/axon-demo/core/es"
)

// OptimisticManager never blocks. The first holder that saves an aggregate
// records the version it produces; a later save validates only if it
// started from exactly that version. An entry lives as long as somebody
// holds it.
type OptimisticManager struct {
	mu    sync.Mutex
	locks map[es.Identifier]*optimisticLock
	log   *slog.Logger
}

type optimisticLock struct {
	version *es.Version
	holders int
}

func NewOptimistic(opts ...Option) *OptimisticManager {
	options := newOpts(opts...)
	return &OptimisticManager{
		locks: map[es.Identifier]*optimisticLock{},
		log:   options.log.With(slog.String("lock", "optimistic")),
	}
}

func (m *OptimisticManager) ObtainLock(_ context.Context, id es.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &optimisticLock{}
		m.locks[id] = l
	}
	l.holders++
	return nil
}

func (m *OptimisticManager) ReleaseLock(_ context.Context, id es.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return ErrNotHeld
	}
	l.holders--
	if l.holders == 0 {
		delete(m.locks, id)
	}
	return nil
}

func (m *OptimisticManager) ValidateLock(_ context.Context, agg es.Aggregate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[agg.AggregateID()]
	if !ok {
		return false
	}
	loaded := agg.Version()
	if l.version != nil && *l.version != loaded {
		m.log.Debug(
			"stale version",
			agg.AggregateID().SlogAttr(),
			loaded.SlogAttrWithKey("loaded"),
			l.version.SlogAttrWithKey("recorded"),
		)
		return false
	}
	next := loaded + es.Version(len(agg.Uncommitted()))
	l.version = &next
	return true
}

var _ Manager = (*OptimisticManager)(nil)
