package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	// Size is the maximum number of entries, 128 if not set.
	Size int
	// Now overrides the clock used for TTL checks.
	Now func() time.Time
}

type entry struct {
	key     string
	val     any
	expires time.Time
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key  string
	val  any
	opts []PutOption
}

// LRU is a size bounded cache with optional per-entry TTL.
type LRU struct {
	getCh      chan getReq
	putCh      chan putReq
	deleteCh   chan string
	clearCh    chan struct{}
	listenerCh chan Listener
	done       chan struct{}
	closeOnce  sync.Once
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &LRU{
		getCh:      make(chan getReq),
		putCh:      make(chan putReq),
		deleteCh:   make(chan string),
		clearCh:    make(chan struct{}),
		listenerCh: make(chan Listener),
		done:       make(chan struct{}),
	}

	s := &lruState{
		size:  opts.Size,
		now:   opts.Now,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
	go l.run(s)

	return l
}

func (L *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp, 1)
	select {
	case L.getCh <- getReq{key: key, resp: resp}:
	case <-L.done:
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (L *LRU) Put(key string, val any, opts ...PutOption) {
	select {
	case L.putCh <- putReq{key: key, val: val, opts: opts}:
	case <-L.done:
	}
}

func (L *LRU) Delete(key string) {
	select {
	case L.deleteCh <- key:
	case <-L.done:
	}
}

func (L *LRU) Clear() {
	select {
	case L.clearCh <- struct{}{}:
	case <-L.done:
	}
}

func (L *LRU) RegisterListener(listener Listener) {
	select {
	case L.listenerCh <- listener:
	case <-L.done:
	}
}

// Close stops the cache goroutine. Later calls are no-ops and Get misses.
func (L *LRU) Close() {
	L.closeOnce.Do(func() { close(L.done) })
}

func (L *LRU) run(s *lruState) {
	for {
		select {
		case req := <-L.getCh:
			val, ok := s.get(req.key)
			req.resp <- getResp{val: val, ok: ok}
		case req := <-L.putCh:
			s.put(req.key, req.val, req.opts)
		case key := <-L.deleteCh:
			s.remove(key, Deleted)
		case <-L.clearCh:
			s.clear()
		case listener := <-L.listenerCh:
			s.listeners = append(s.listeners, listener)
		case <-L.done:
			return
		}
	}
}

// lruState is owned by the run goroutine.
type lruState struct {
	size      int
	now       func() time.Time
	ll        *list.List
	items     map[string]*list.Element
	listeners []Listener
}

func (s *lruState) get(key string) (any, bool) {
	ele, ok := s.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*entry)
	if s.expired(e) {
		s.removeElement(ele, Expired)
		return nil, false
	}
	s.ll.MoveToFront(ele)
	return e.val, true
}

func (s *lruState) put(key string, val any, opts []PutOption) {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	var expires time.Time
	if po.TTL > 0 {
		expires = s.now().Add(po.TTL)
	}

	if ele, ok := s.items[key]; ok {
		s.ll.MoveToFront(ele)
		e := ele.Value.(*entry)
		e.val = val
		e.expires = expires
		return
	}

	s.items[key] = s.ll.PushFront(&entry{key: key, val: val, expires: expires})
	if s.ll.Len() > s.size {
		last := s.ll.Back()
		reason := Evicted
		if s.expired(last.Value.(*entry)) {
			reason = Expired
		}
		s.removeElement(last, reason)
	}
}

func (s *lruState) remove(key string, reason RemovalReason) {
	if ele, ok := s.items[key]; ok {
		s.removeElement(ele, reason)
	}
}

func (s *lruState) removeElement(ele *list.Element, reason RemovalReason) {
	e := ele.Value.(*entry)
	s.ll.Remove(ele)
	delete(s.items, e.key)
	for _, l := range s.listeners {
		l.OnRemove(e.key, reason)
	}
}

func (s *lruState) clear() {
	s.ll.Init()
	clear(s.items)
	for _, l := range s.listeners {
		l.OnClear()
	}
}

func (s *lruState) expired(e *entry) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}

var _ Cache = (*LRU)(nil)
