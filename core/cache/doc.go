// Package cache provides the key-value cache the caching repository keeps
// loaded aggregates in.
//
// [LRU] is an in-memory LRU cache that is safe for concurrent use. A single
// goroutine owns its state, so no external locking is needed:
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	defer c.Close()
//
//	c.Put("key", value, cache.WithTTL(5*time.Minute))
//	if val, ok := c.Get("key"); ok {
//	    // use val
//	}
//
// Use [NewTyped] for a type-safe view. Expired entries are removed lazily
// when accessed or when they are the eviction candidate.
//
// A [Listener] learns about every entry that leaves the cache. The
// event-count snapshot trigger uses this to forget the counters of
// aggregates that are no longer cached.
package cache
