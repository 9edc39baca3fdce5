// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"sync"
	"time"
)

// FenceState is the software-side state of a Fence.
type FenceState int

const (
	FenceDisabled FenceState = iota
	FenceArmed
	FenceSignaled
)

// String returns the state name.
func (s FenceState) String() string {
	switch s {
	case FenceDisabled:
		return "Disabled"
	case FenceArmed:
		return "Armed"
	case FenceSignaled:
		return "Signaled"
	default:
		return "Unknown"
	}
}

type fenceRelease struct {
	fn      func(ok bool)
	queries func(ok bool, pools []*QueryPool)
	ref     any
	tag     string
}

// Fence tracks completion of one queue submission. Release callbacks run on
// the loop goroutine exactly once per arm/signal cycle, after which the fence
// resets and returns to the loop's fence pool.
type Fence struct {
	loop   *Loop
	object FenceObject

	mu          sync.Mutex
	state       FenceState
	frame       uint64
	tag         string
	queue       *DeviceQueue
	armedTime   time.Time
	release     []fenceRelease
	queries     []*QueryPool
	autorelease []any
	rechecking  bool

	// scheduleFn registers the fence for polling; releaseFn returns it to
	// the pool. Both are cleared once used.
	scheduleFn func() bool
	releaseFn  func()
}

func newFence(loop *Loop, object FenceObject) *Fence {
	return &Fence{loop: loop, object: object}
}

// Object returns the backend fence.
func (f *Fence) Object() FenceObject { return f.object }

// State returns the current fence state.
func (f *Fence) State() FenceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Frame returns the order of the frame the fence was acquired for.
func (f *Fence) Frame() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// SetTag sets the debug tag used in log records.
func (f *Fence) SetTag(tag string) {
	f.mu.Lock()
	f.tag = tag
	f.mu.Unlock()
}

// ArmedTime returns when the fence was last armed.
func (f *Fence) ArmedTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armedTime
}

func (f *Fence) setFrame(frame uint64, schedule func() bool, release func()) {
	f.mu.Lock()
	f.frame = frame
	f.scheduleFn = schedule
	f.releaseFn = release
	f.mu.Unlock()
}

// SetArmed marks the fence as submitted to q. The queue counts the fence as
// live until it is released.
func (f *Fence) SetArmed(q *DeviceQueue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = FenceArmed
	f.queue = q
	if q != nil {
		q.retainFence()
	}
	f.armedTime = time.Now()
}

// AddRelease registers fn to run with the submission outcome. ref is kept
// alive until fn has run.
func (f *Fence) AddRelease(fn func(ok bool), ref any, tag string) {
	f.mu.Lock()
	f.release = append(f.release, fenceRelease{fn: fn, ref: ref, tag: tag})
	f.mu.Unlock()
}

// BindQueries attaches a query pool that is released with the fence.
func (f *Fence) BindQueries(q *QueryPool) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
}

// AddQueryCallback registers fn to receive the bound query pools once the
// submission completes.
func (f *Fence) AddQueryCallback(fn func(ok bool, pools []*QueryPool), ref any, tag string) {
	f.mu.Lock()
	f.release = append(f.release, fenceRelease{queries: fn, ref: ref, tag: tag})
	f.mu.Unlock()
}

// Autorelease keeps ref alive until the fence is released.
func (f *Fence) Autorelease(ref any) {
	f.mu.Lock()
	f.autorelease = append(f.autorelease, ref)
	f.mu.Unlock()
}

// Schedule starts tracking the fence on the loop. A fence that was never
// armed is released immediately with failure. Must be called on the loop
// goroutine.
func (f *Fence) Schedule() bool {
	if f.State() != FenceArmed {
		f.doRelease(false)
		f.recycle()
		return false
	}

	if f.check() {
		return false
	}

	f.mu.Lock()
	schedule := f.scheduleFn
	f.scheduleFn = nil
	f.mu.Unlock()

	if schedule == nil {
		return false
	}
	return schedule()
}

// check polls the backend fence. It returns true once the fence is no
// longer armed. A fence armed for longer than the loop's stall timeout is
// re-checked with a blocking wait on a worker.
func (f *Fence) check() bool {
	f.mu.Lock()
	if f.state != FenceArmed {
		f.mu.Unlock()
		return true
	}
	if f.rechecking {
		f.mu.Unlock()
		return false
	}
	armed := f.armedTime
	f.mu.Unlock()

	ok, err := f.object.Wait(0)
	switch {
	case err != nil:
		slogger().Warn("framegraph: fence check failed", "frame", f.Frame(), "err", err)
		f.setResult(false)
		return true
	case ok:
		f.setResult(true)
		return true
	}

	if f.loop != nil && time.Since(armed) > f.loop.opts.fenceStallTimeout {
		f.recheck()
	}
	return false
}

func (f *Fence) recheck() {
	f.mu.Lock()
	f.rechecking = true
	tag := f.tag
	f.mu.Unlock()

	slogger().Warn("framegraph: fence is possibly stalled", "frame", f.Frame(), "tag", tag)

	var ok bool
	var err error
	timeout := f.loop.opts.fenceStallTimeout
	f.loop.PerformInQueue(func() bool {
		ok, err = f.object.Wait(timeout)
		return true
	}, func(bool) {
		f.mu.Lock()
		f.rechecking = false
		armed := f.state == FenceArmed
		if armed && !ok && err == nil {
			f.armedTime = time.Now()
		}
		f.mu.Unlock()

		if !armed || (!ok && err == nil) {
			return
		}
		// the fence is recycled below and may be scheduled again
		f.loop.unscheduleFence(f)
		if err != nil {
			slogger().Warn("framegraph: fence wait failed", "frame", f.Frame(), "err", err)
		}
		f.setResult(ok && err == nil)
	})
}

// setResult finishes the arm/signal cycle on the loop goroutine.
func (f *Fence) setResult(ok bool) {
	f.mu.Lock()
	if f.state != FenceArmed {
		f.mu.Unlock()
		return
	}
	f.state = FenceSignaled
	f.mu.Unlock()

	f.doRelease(ok)
	f.recycle()
}

func (f *Fence) doRelease(ok bool) {
	f.mu.Lock()
	queue := f.queue
	f.queue = nil
	release := f.release
	f.release = nil
	queries := f.queries
	f.queries = nil
	f.autorelease = nil
	f.tag = ""
	f.mu.Unlock()

	if queue != nil {
		queue.releaseFence()
	}
	for _, it := range release {
		switch {
		case it.queries != nil:
			it.queries(ok, queries)
		case it.fn != nil:
			it.fn(ok)
		}
	}
	if f.loop != nil {
		for _, q := range queries {
			f.loop.ReleaseQueryPool(q)
		}
	}
}

// recycle resets the backend fence and hands the Fence back to its pool.
func (f *Fence) recycle() {
	f.mu.Lock()
	releaseFn := f.releaseFn
	f.releaseFn = nil
	f.scheduleFn = nil
	f.state = FenceDisabled
	f.mu.Unlock()

	if err := f.object.Reset(); err != nil {
		slogger().Warn("framegraph: fence reset failed", "err", err)
		f.object.Destroy()
		return
	}
	if releaseFn != nil {
		releaseFn()
	}
}
