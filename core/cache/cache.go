package cache

import "time"

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

// WithTTL expires the entry after ttl. Zero means no expiry.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

// RemovalReason tells a Listener why an entry left the cache.
type RemovalReason int

const (
	Evicted RemovalReason = iota
	Expired
	Deleted
)

func (r RemovalReason) String() string {
	switch r {
	case Evicted:
		return "evicted"
	case Expired:
		return "expired"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Listener observes entries leaving a cache. Callbacks run on the goroutine
// that owns the cache and must not call back into it.
type Listener interface {
	OnRemove(key string, reason RemovalReason)
	OnClear()
}

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
	Clear()
	RegisterListener(l Listener)
}

type TypedCache[T any] interface {
	Put(key string, val T, opts ...PutOption)
	Get(key string) (T, bool)
	Delete(key string)
	RegisterListener(l Listener)
}

type typedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{c: c} }

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	var v any
	v, ok = t.c.Get(key)
	if !ok {
		return out, false
	}

	if out, ok = v.(T); !ok {
		return out, false
	}
	return
}

func (t *typedCache[T]) Put(key string, val T, opts ...PutOption) {
	t.c.Put(key, val, opts...)
}

func (t *typedCache[T]) Delete(key string) {
	t.c.Delete(key)
}

func (t *typedCache[T]) RegisterListener(l Listener) {
	t.c.RegisterListener(l)
}

var _ TypedCache[any] = (*typedCache[any])(nil)
