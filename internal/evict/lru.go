// Package evict tracks hidden layer trees and picks the least recently
// hidden one once too many are kept.
package evict

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRU is a bounded set of keys ordered by insertion recency. When Add
// pushes the set past its capacity, the oldest key is removed and handed
// to the eviction callback.
//
// A capacity <= 0 disables tracking: Add evicts nothing and stores nothing.
//
// Thread safety: LRU is safe for concurrent use. The eviction callback runs
// on the goroutine that called Add, without internal locks held.
type LRU[K comparable] struct {
	mu      sync.Mutex
	cache   *simplelru.LRU[K, struct{}]
	size    int
	onEvict func(K)
}

// New creates an LRU holding at most size keys.
func New[K comparable](size int, onEvict func(K)) *LRU[K] {
	l := &LRU[K]{size: size, onEvict: onEvict}
	if size > 0 {
		// NewLRU only fails for non-positive sizes.
		l.cache, _ = simplelru.NewLRU[K, struct{}](size, nil)
	}
	return l
}

// Add marks key as most recently hidden, evicting the oldest key if the
// capacity is exceeded. It returns the evicted key, if any.
func (l *LRU[K]) Add(key K) (evicted K, ok bool) {
	if l.cache == nil {
		return evicted, false
	}

	l.mu.Lock()
	if !l.cache.Contains(key) && l.cache.Len() >= l.size {
		evicted, _, ok = l.cache.RemoveOldest()
	}
	// Re-adding moves the key to the front.
	l.cache.Remove(key)
	l.cache.Add(key, struct{}{})
	l.mu.Unlock()

	if ok && l.onEvict != nil {
		l.onEvict(evicted)
	}
	return evicted, ok
}

// Remove drops key. It reports whether key was present.
func (l *LRU[K]) Remove(key K) bool {
	if l.cache == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Remove(key)
}

// RemoveFunc drops every key for which match returns true and returns the
// number removed.
func (l *LRU[K]) RemoveFunc(match func(K) bool) int {
	if l.cache == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.cache.Keys() {
		if match(k) && l.cache.Remove(k) {
			n++
		}
	}
	return n
}

// Contains reports whether key is tracked.
func (l *LRU[K]) Contains(key K) bool {
	if l.cache == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Contains(key)
}

// Keys returns the tracked keys from oldest to newest.
func (l *LRU[K]) Keys() []K {
	if l.cache == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Keys()
}

// Len returns the number of tracked keys.
func (l *LRU[K]) Len() int {
	if l.cache == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

// Capacity returns the configured capacity.
func (l *LRU[K]) Capacity() int {
	return l.size
}

// Purge drops every key without calling the eviction callback.
func (l *LRU[K]) Purge() {
	if l.cache == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Purge()
}
