// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "sync"

// Semaphore is a GPU-to-GPU synchronization object with software-side
// bookkeeping of its signal/wait cycle.
//
// A semaphore may be reused only after every signal has been waited on.
type Semaphore struct {
	mu       sync.Mutex
	index    uint64
	object   SemaphoreObject
	signaled bool
	waited   bool
	inUse    bool
	timeline uint64

	// retire runs once the in-flight submission stops referencing the
	// semaphore.
	retire func(*Semaphore)
}

func newSemaphore(index uint64, object SemaphoreObject) *Semaphore {
	return &Semaphore{index: index, object: object}
}

// NewSemaphore wraps a backend semaphore that is not owned by a Loop.
func NewSemaphore(index uint64, object SemaphoreObject) *Semaphore {
	return newSemaphore(index, object)
}

// Index returns the engine-assigned semaphore index.
func (s *Semaphore) Index() uint64 { return s.index }

// Object returns the backend semaphore.
func (s *Semaphore) Object() SemaphoreObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.object
}

// SetSignaled records that a submission will signal the semaphore.
func (s *Semaphore) SetSignaled(v bool) {
	s.mu.Lock()
	s.signaled = v
	s.mu.Unlock()
}

// SetWaited records that a submission waits on the semaphore.
func (s *Semaphore) SetWaited(v bool) {
	s.mu.Lock()
	s.waited = v
	s.mu.Unlock()
}

// SetInUse marks the semaphore as referenced by the submission numbered
// timeline. Clearing it only succeeds for the same timeline value.
func (s *Semaphore) SetInUse(v bool, timeline uint64) {
	s.mu.Lock()
	if !v && s.timeline != timeline {
		s.mu.Unlock()
		return
	}
	s.inUse = v
	s.timeline = timeline
	var retire func(*Semaphore)
	if !v {
		retire, s.retire = s.retire, nil
	}
	s.mu.Unlock()

	if retire != nil {
		retire(s)
	}
}

// retireWhenIdle defers fn until the semaphore is no longer in use. It
// returns false without storing fn if the semaphore is idle already.
func (s *Semaphore) retireWhenIdle(fn func(*Semaphore)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inUse {
		return false
	}
	s.retire = fn
	return true
}

func (s *Semaphore) destroy() {
	s.mu.Lock()
	obj := s.object
	s.object = nil
	s.mu.Unlock()
	if obj != nil {
		obj.Destroy()
	}
}

// IsSignaled reports whether a submission signals the semaphore.
func (s *Semaphore) IsSignaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// IsWaited reports whether a submission waits on the semaphore.
func (s *Semaphore) IsWaited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waited
}

// IsInUse reports whether an in-flight submission references the semaphore.
func (s *Semaphore) IsInUse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Timeline returns the number of the last submission that used the semaphore.
func (s *Semaphore) Timeline() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

// Reset clears the signal/wait cycle. It fails if a signal was not waited on
// or the semaphore is still referenced by an in-flight submission.
func (s *Semaphore) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled != s.waited || s.inUse {
		return false
	}
	s.signaled = false
	s.waited = false
	return true
}
