// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"sync"
	"sync/atomic"
)

// FreeList is a generic thread-safe map of per-key free lists.
// Values are returned with Put and handed out again with Take, most recently
// returned first, so warm objects are reused before cold ones.
//
// A per-key soft limit bounds how many idle values one key may hold; Put
// returns the values that no longer fit so the caller can destroy them.
//
// FreeList must not be copied after creation (has mutex).
type FreeList[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K][]V
	limit   int
	total   int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a free list with the given per-key soft limit.
// A limit of 0 means unlimited.
func New[K comparable, V any](limit int) *FreeList[K, V] {
	return &FreeList[K, V]{
		entries: make(map[K][]V),
		limit:   limit,
	}
}

// Put returns v to the free list of key. Values evicted by the soft limit,
// oldest first, are returned to the caller.
func (c *FreeList[K, V]) Put(key K, v V) []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append(c.entries[key], v)
	c.total++

	var evicted []V
	if c.limit > 0 && len(list) > c.limit {
		n := len(list) - c.limit
		evicted = append(evicted, list[:n]...)
		list = append(list[:0:0], list[n:]...)
		c.total -= n
	}
	c.entries[key] = list
	return evicted
}

// Take removes and returns the most recently returned value of key.
func (c *FreeList[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[key]
	if len(list) == 0 {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	v := list[len(list)-1]
	var zero V
	list[len(list)-1] = zero
	list = list[:len(list)-1]
	if len(list) == 0 {
		delete(c.entries, key)
	} else {
		c.entries[key] = list
	}
	c.total--
	c.hits.Add(1)
	return v, true
}

// Remove drops key and returns its idle values.
func (c *FreeList[K, V]) Remove(key K) []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[key]
	delete(c.entries, key)
	c.total -= len(list)
	return list
}

// RemoveFunc drops every key for which pred returns true and returns their
// idle values. pred is called with the lock held and must not call back into
// the free list.
func (c *FreeList[K, V]) RemoveFunc(pred func(K) bool) []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []V
	for key, list := range c.entries {
		if pred(key) {
			out = append(out, list...)
			c.total -= len(list)
			delete(c.entries, key)
		}
	}
	return out
}

// Clear drops every key and returns all idle values.
func (c *FreeList[K, V]) Clear() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]V, 0, c.total)
	for _, list := range c.entries {
		out = append(out, list...)
	}
	c.entries = make(map[K][]V)
	c.total = 0
	return out
}

// Len returns the number of idle values stored for key.
func (c *FreeList[K, V]) Len(key K) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries[key])
}

// Total returns the number of idle values across all keys.
func (c *FreeList[K, V]) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.total
}

// Stats returns free list statistics.
func (c *FreeList[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Keys:   len(c.entries),
		Values: c.total,
		Limit:  c.limit,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Stats contains free list statistics.
type Stats struct {
	// Keys is the number of keys with at least one idle value.
	Keys int
	// Values is the number of idle values.
	Values int
	// Limit is the per-key soft limit (0 means unlimited).
	Limit int
	// Hits is the number of Take calls that found a value.
	Hits uint64
	// Misses is the number of Take calls that found nothing.
	Misses uint64
}

// HitRate returns the fraction of Take calls that found a value.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
