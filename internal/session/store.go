// Package session keeps analyses in memory so further classes can be
// explained without re-uploading the image.
package session

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// ErrNotFound is returned for unknown or expired IDs.
var ErrNotFound = errors.New("session not found")

type entry[T any] struct {
	value    T
	accessed time.Time
}

// Store is a TTL-bounded LRU map from analysis ID to value. It is safe for
// concurrent use.
type Store[T any] struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// Option customizes a Store.
type Option func(*options)

type options struct {
	now     func() time.Time
	onEvict func(id string)
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEvictCallback is called with the ID of every removed entry.
func WithEvictCallback(fn func(id string)) Option {
	return func(o *options) { o.onEvict = fn }
}

// NewStore keeps at most maxEntries values for ttl since their last access.
// A non-positive ttl disables expiry.
func NewStore[T any](maxEntries int, ttl time.Duration, opts ...Option) (*Store[T], error) {
	if maxEntries <= 0 {
		return nil, errors.New("session: max entries must be positive")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	var onEvict func(k, v interface{})
	if o.onEvict != nil {
		cb := o.onEvict
		onEvict = func(k, _ interface{}) { cb(k.(string)) }
	}
	c, err := lru.NewWithEvict(maxEntries, onEvict)
	if err != nil {
		return nil, err
	}
	return &Store[T]{cache: c, ttl: ttl, now: o.now}, nil
}

func (s *Store[T]) expired(e *entry[T], now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.accessed) > s.ttl
}

// Put stores v under id, evicting the least recently used entry when full.
func (s *Store[T]) Put(id string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(id, &entry[T]{value: v, accessed: s.now()})
}

// Get returns the value for id and refreshes its access time.
func (s *Store[T]) Get(id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	raw, ok := s.cache.Get(id)
	if !ok {
		return zero, ErrNotFound
	}
	e := raw.(*entry[T])
	now := s.now()
	if s.expired(e, now) {
		s.cache.Remove(id)
		return zero, ErrNotFound
	}
	e.accessed = now
	return e.value, nil
}

// Delete removes id and reports whether it was present.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(id)
}

// Len returns the number of stored entries, expired ones included until swept.
func (s *Store[T]) Len() int {
	return s.cache.Len()
}

// Sweep removes entries idle for longer than the TTL and returns how many
// were removed.
func (s *Store[T]) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl <= 0 {
		return 0
	}
	removed := 0
	for _, k := range s.cache.Keys() {
		raw, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		if s.expired(raw.(*entry[T]), now) {
			s.cache.Remove(k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until stop is closed.
func (s *Store[T]) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}
