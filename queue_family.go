// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// Owner is the requester a pooled object is acquired for. A waiter whose
// owner is no longer valid is invalidated instead of served.
type Owner interface {
	IsValid() bool
}

// DeviceQueue is a pooled hardware queue handle.
type DeviceQueue struct {
	family *DeviceQueueFamily
	index  uint32
	object QueueObject

	frameIdx uint64
	owner    Owner

	nfences atomic.Int32
}

// Family returns the queue family index.
func (q *DeviceQueue) Family() uint32 { return q.family.info.Index }

// Index returns the queue index within its family.
func (q *DeviceQueue) Index() uint32 { return q.index }

// Flags returns the family capabilities.
func (q *DeviceQueue) Flags() QueueFlags { return q.family.info.Flags }

// FrameIndex returns the order of the frame that holds the queue.
func (q *DeviceQueue) FrameIndex() uint64 { return q.frameIdx }

// Owner returns the current holder of the queue.
func (q *DeviceQueue) Owner() Owner { return q.owner }

// ActiveFences returns the number of armed fences submitted on the queue.
func (q *DeviceQueue) ActiveFences() int { return int(q.nfences.Load()) }

func (q *DeviceQueue) retainFence()  { q.nfences.Add(1) }
func (q *DeviceQueue) releaseFence() { q.nfences.Add(-1) }

func (q *DeviceQueue) setOwner(owner Owner) {
	q.owner = owner
	if f, ok := owner.(*FrameHandle); ok {
		q.frameIdx = f.Order()
	}
}

func (q *DeviceQueue) reset() {
	q.owner = nil
	q.frameIdx = 0
}

// Submit executes buffers on the queue and arms fence. Semaphores in sync are
// marked waited and signaled, and stay in use until the fence is released.
func (q *DeviceQueue) Submit(sync *FrameSync, fence *Fence, buffers []CommandBuffer) error {
	// unique across queues, which share semaphores
	timeline := q.family.alloc.submissions.Add(1)

	var sems []*Semaphore
	if sync != nil {
		for _, it := range sync.WaitAttachments {
			if it.Semaphore != nil {
				sems = append(sems, it.Semaphore)
			}
		}
		for _, it := range sync.SignalAttachments {
			if it.Semaphore != nil {
				sems = append(sems, it.Semaphore)
			}
		}
		for _, s := range sems {
			s.SetInUse(true, timeline)
		}
	}

	if err := q.object.Submit(sync, fence.object, buffers); err != nil {
		for _, s := range sems {
			s.SetInUse(false, timeline)
		}
		return fmt.Errorf("framegraph: submit on queue %d:%d: %w", q.Family(), q.index, err)
	}

	if sync != nil {
		for _, it := range sync.WaitAttachments {
			if it.Semaphore != nil {
				it.Semaphore.SetWaited(true)
			}
		}
		for _, it := range sync.SignalAttachments {
			if it.Semaphore != nil {
				it.Semaphore.SetSignaled(true)
			}
		}
	}

	fence.SetArmed(q)
	if len(sems) > 0 {
		fence.AddRelease(func(bool) {
			for _, s := range sems {
				s.SetInUse(false, timeline)
			}
		}, nil, "DeviceQueue.Submit")
	}
	return nil
}

// CommandPool records command buffers for one queue family. Pools are reset
// when they return to their family.
type CommandPool struct {
	family *DeviceQueueFamily
	index  uint64
	object CommandPoolObject
	count  int
}

// Family returns the queue family index.
func (p *CommandPool) Family() uint32 { return p.family.info.Index }

// Index returns the engine-assigned pool index.
func (p *CommandPool) Index() uint64 { return p.index }

// Record records one command buffer.
func (p *CommandPool) Record(label string, fn func(encoder any) error) (CommandBuffer, error) {
	buf, err := p.object.Record(label, fn)
	if err != nil {
		return nil, fmt.Errorf("framegraph: record %q: %w", label, err)
	}
	p.count++
	return buf, nil
}

// Buffers returns the number of buffers recorded since the last reset.
func (p *CommandPool) Buffers() int { return p.count }

// QueryPool is a pooled backend query pool.
type QueryPool struct {
	family *DeviceQueueFamily
	info   QueryPoolInfo
	object QueryPoolObject
}

// Info returns the pool identity.
func (p *QueryPool) Info() QueryPoolInfo { return p.info }

// Object returns the backend query pool.
func (p *QueryPool) Object() QueryPoolObject { return p.object }

type queueWaiter struct {
	owner      Owner
	acquire    func(*DeviceQueue)
	invalidate func()
	ref        any
}

// FamilyStats counts pooled objects of a DeviceQueueFamily.
type FamilyStats struct {
	QueuesAcquired uint64
	QueuesReleased uint64
	PoolsCreated   uint64
	PoolsAcquired  uint64
	PoolsReleased  uint64
	WaitersServed  uint64
	WaitersDropped uint64
}

// DeviceQueueFamily pools the queues, command pools and query pools of one
// hardware queue family. Queue acquisition is strict FIFO: when no queue is
// free the request waits and is served, in order, by ReleaseQueue.
//
// DeviceQueueFamily is safe for concurrent use. Callbacks run on the
// goroutine that acquires or releases, outside the family lock.
type DeviceQueueFamily struct {
	device Device
	info   QueueFamilyInfo
	alloc  *allocator

	mu      sync.Mutex
	queues  []*DeviceQueue
	pools   []*CommandPool
	queries map[QueryPoolInfo][]*QueryPool
	waiters []queueWaiter
	closed  bool

	queuesAcquired atomic.Uint64
	queuesReleased atomic.Uint64
	poolsCreated   atomic.Uint64
	poolsAcquired  atomic.Uint64
	poolsReleased  atomic.Uint64
	waitersServed  atomic.Uint64
	waitersDropped atomic.Uint64
}

func newDeviceQueueFamily(device Device, info QueueFamilyInfo, alloc *allocator) (*DeviceQueueFamily, error) {
	f := &DeviceQueueFamily{
		device:  device,
		info:    info,
		alloc:   alloc,
		queries: make(map[QueryPoolInfo][]*QueryPool),
	}
	for i := uint32(0); i < info.Count; i++ {
		obj, err := device.MakeQueue(info.Index, i)
		if err != nil {
			return nil, fmt.Errorf("framegraph: make queue %d:%d: %w", info.Index, i, err)
		}
		f.queues = append(f.queues, &DeviceQueue{family: f, index: i, object: obj})
	}
	return f, nil
}

// Info returns the family description.
func (f *DeviceQueueFamily) Info() QueueFamilyInfo { return f.info }

// AcquireQueue hands a free queue to onAcquire immediately, or parks the
// request until ReleaseQueue serves it. It never blocks. The return value
// reports whether the queue was acquired immediately.
//
// Exactly one of onAcquire and onInvalidate is eventually called, once.
func (f *DeviceQueueFamily) AcquireQueue(owner Owner, onAcquire func(*DeviceQueue), onInvalidate func(), ref any) bool {
	f.mu.Lock()
	if n := len(f.queues); n > 0 {
		q := f.queues[n-1]
		f.queues[n-1] = nil
		f.queues = f.queues[:n-1]
		f.mu.Unlock()

		f.queuesAcquired.Add(1)
		q.setOwner(owner)
		onAcquire(q)
		return true
	}
	f.waiters = append(f.waiters, queueWaiter{
		owner:      owner,
		acquire:    onAcquire,
		invalidate: onInvalidate,
		ref:        ref,
	})
	waiting := len(f.waiters)
	f.mu.Unlock()

	slogger().Debug("framegraph: queue request parked", "family", f.info.Index, "waiters", waiting)
	return false
}

// ReleaseQueue resets q and passes it to the first waiter whose owner is
// still valid. Waiters with invalid owners are invalidated on the way. With
// no waiters left the queue returns to the pool.
func (f *DeviceQueueFamily) ReleaseQueue(q *DeviceQueue) {
	q.reset()
	f.queuesReleased.Add(1)

	for {
		f.mu.Lock()
		if len(f.waiters) == 0 {
			f.queues = append(f.queues, q)
			f.mu.Unlock()
			return
		}
		w := f.waiters[0]
		f.waiters[0] = queueWaiter{}
		f.waiters = f.waiters[1:]
		f.mu.Unlock()

		if w.owner != nil && !w.owner.IsValid() {
			f.waitersDropped.Add(1)
			if w.invalidate != nil {
				w.invalidate()
			}
			continue
		}

		f.waitersServed.Add(1)
		f.queuesAcquired.Add(1)
		q.setOwner(w.owner)
		w.acquire(q)
		return
	}
}

// AcquireCommandPool returns a pooled command pool or creates one.
func (f *DeviceQueueFamily) AcquireCommandPool() (*CommandPool, error) {
	f.mu.Lock()
	if n := len(f.pools); n > 0 {
		p := f.pools[n-1]
		f.pools[n-1] = nil
		f.pools = f.pools[:n-1]
		f.mu.Unlock()
		f.poolsAcquired.Add(1)
		return p, nil
	}
	f.mu.Unlock()

	obj, err := f.device.MakeCommandPool(f.info.Index, f.info.Flags)
	if err != nil {
		return nil, fmt.Errorf("framegraph: make command pool for family %d: %w", f.info.Index, err)
	}
	f.poolsCreated.Add(1)
	f.poolsAcquired.Add(1)
	return &CommandPool{family: f, index: f.alloc.pools.Add(1), object: obj}, nil
}

// ReleaseCommandPool resets p and returns it to the pool. A pool that fails
// to reset, or is released after the family closed, is destroyed.
func (f *DeviceQueueFamily) ReleaseCommandPool(p *CommandPool) {
	f.poolsReleased.Add(1)
	if err := p.object.Reset(); err != nil {
		slogger().Warn("framegraph: command pool reset failed", "family", f.info.Index, "err", err)
		p.object.Destroy()
		return
	}
	p.count = 0

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		p.object.Destroy()
		return
	}
	f.pools = append(f.pools, p)
	f.mu.Unlock()
}

// AcquireQueryPool returns a pooled query pool with the given identity or
// creates one.
func (f *DeviceQueueFamily) AcquireQueryPool(info QueryPoolInfo) (*QueryPool, error) {
	f.mu.Lock()
	if list := f.queries[info]; len(list) > 0 {
		p := list[len(list)-1]
		f.queries[info] = list[:len(list)-1]
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	obj, err := f.device.MakeQueryPool(f.info.Index, info)
	if err != nil {
		return nil, fmt.Errorf("framegraph: make query pool for family %d: %w", f.info.Index, err)
	}
	return &QueryPool{family: f, info: info, object: obj}, nil
}

// ReleaseQueryPool returns p to the pool, or destroys it once the family is
// closed.
func (f *DeviceQueueFamily) ReleaseQueryPool(p *QueryPool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		p.object.Destroy()
		return
	}
	f.queries[p.info] = append(f.queries[p.info], p)
	f.mu.Unlock()
}

// FreeQueues returns the number of queues in the pool.
func (f *DeviceQueueFamily) FreeQueues() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues)
}

// FreeCommandPools returns the number of idle command pools.
func (f *DeviceQueueFamily) FreeCommandPools() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

// Waiters returns the number of parked queue requests.
func (f *DeviceQueueFamily) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Stats returns pool counters.
func (f *DeviceQueueFamily) Stats() FamilyStats {
	return FamilyStats{
		QueuesAcquired: f.queuesAcquired.Load(),
		QueuesReleased: f.queuesReleased.Load(),
		PoolsCreated:   f.poolsCreated.Load(),
		PoolsAcquired:  f.poolsAcquired.Load(),
		PoolsReleased:  f.poolsReleased.Load(),
		WaitersServed:  f.waitersServed.Load(),
		WaitersDropped: f.waitersDropped.Load(),
	}
}

// close invalidates every waiter and destroys idle pools.
func (f *DeviceQueueFamily) close() {
	f.mu.Lock()
	f.closed = true
	waiters := f.waiters
	f.waiters = nil
	pools := f.pools
	f.pools = nil
	queries := f.queries
	f.queries = make(map[QueryPoolInfo][]*QueryPool)
	f.mu.Unlock()

	for _, w := range waiters {
		f.waitersDropped.Add(1)
		if w.invalidate != nil {
			w.invalidate()
		}
	}
	for _, p := range pools {
		p.object.Destroy()
	}
	for _, list := range queries {
		for _, q := range list {
			q.object.Destroy()
		}
	}
}

// selectFamily returns the family that supports flags with the fewest extra
// capabilities, so dedicated compute and transfer families are preferred.
func selectFamily(families []*DeviceQueueFamily, flags QueueFlags) *DeviceQueueFamily {
	var best *DeviceQueueFamily
	bestExtra := 33
	for _, f := range families {
		if !f.info.Flags.Has(flags) || f.info.Count == 0 {
			continue
		}
		extra := bits.OnesCount32(uint32(f.info.Flags &^ flags))
		if extra < bestExtra {
			best = f
			bestExtra = extra
		}
	}
	return best
}
