// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"sync"
	"time"
)

// DependencyEvent is a completion token shared by several graph queues. It
// is signaled once every registered queue has reported, carrying the
// conjunction of their success flags. A signaled event never changes again.
// Queues report through Loop.SignalDependencies, which also wakes waiters.
type DependencyEvent struct {
	id  uint64
	tag string

	mu       sync.Mutex
	queues   map[*Queue]struct{}
	success  bool
	signaled bool
	created  time.Time
	done     time.Time
}

// NewDependencyEvent creates an event waiting for every queue in queues.
// Use Loop.NewDependencyEvent to get a loop-scoped id.
func NewDependencyEvent(id uint64, tag string, queues ...*Queue) *DependencyEvent {
	e := &DependencyEvent{
		id:      id,
		tag:     tag,
		queues:  make(map[*Queue]struct{}, len(queues)),
		success: true,
		created: time.Now(),
	}
	for _, q := range queues {
		e.queues[q] = struct{}{}
	}
	return e
}

// ID returns the event id.
func (e *DependencyEvent) ID() uint64 { return e.id }

// Tag returns the debug tag.
func (e *DependencyEvent) Tag() string { return e.tag }

// AddQueue registers another queue. It has no effect once the event is
// signaled.
func (e *DependencyEvent) AddQueue(q *Queue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		return
	}
	e.queues[q] = struct{}{}
}

// signal reports completion of q. It returns true exactly once: when the
// last registered queue reports. Signals for unknown queues or after the
// event is signaled are ignored.
func (e *DependencyEvent) signal(q *Queue, success bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		return false
	}
	if _, ok := e.queues[q]; !ok {
		return false
	}
	delete(e.queues, q)
	if !success {
		e.success = false
	}
	if len(e.queues) == 0 {
		e.signaled = true
		e.done = time.Now()
		return true
	}
	return false
}

// IsSignaled reports whether every registered queue has reported.
func (e *DependencyEvent) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled || len(e.queues) == 0
}

// IsSuccessful reports whether every queue reported success so far.
func (e *DependencyEvent) IsSuccessful() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.success
}

// Duration returns the time between creation and signaling, or zero while
// the event is pending.
func (e *DependencyEvent) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		return 0
	}
	return e.done.Sub(e.created)
}
