// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/framegraph/internal/parallel"
)

// StateEvent is one pass or attachment state transition. Exactly one of
// Pass and Attachment is set.
type StateEvent struct {
	Frame           uint64
	Queue           string
	Pass            string
	Attachment      string
	PassState       FrameRenderPassState
	AttachmentState FrameAttachmentState
	Time            time.Time
}

// Loop owns a device and drives every frame made on it. All frame state is
// mutated on the loop goroutine: the goroutine calling Run, or the one
// calling Poll. Blocking work runs on a worker pool and reports back with
// Post.
type Loop struct {
	device   Device
	opts     loopOptions
	alloc    allocator
	pool     *parallel.WorkerPool
	cache    *FrameCache
	families []*DeviceQueueFamily

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
	stop  chan struct{}

	closing   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	fenceMu   sync.Mutex
	freeFence []*Fence

	semMu     sync.Mutex
	freeSem   []*Semaphore
	semClosed bool

	// owned by the loop goroutine
	fences       []*Fence
	frames       map[*FrameHandle]struct{}
	dependencies map[*DependencyEvent][]*dependencyRequest

	queuesMu sync.Mutex
	queues   map[*Queue]struct{}

	scheduled    atomic.Int64
	posted       atomic.Uint64
	executed     atomic.Uint64
	duplicates   atomic.Uint64
	activeFrames atomic.Int64
}

// NewLoop creates a loop for device. The device must report at least one
// queue family.
func NewLoop(device Device, opts ...LoopOption) (*Loop, error) {
	o := defaultLoopOptions()
	for _, opt := range opts {
		opt(&o)
	}

	l := &Loop{
		device:       device,
		opts:         o,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		frames:       make(map[*FrameHandle]struct{}),
		dependencies: make(map[*DependencyEvent][]*dependencyRequest),
		queues:       make(map[*Queue]struct{}),
	}

	for _, info := range device.QueueFamilies() {
		f, err := newDeviceQueueFamily(device, info, &l.alloc)
		if err != nil {
			return nil, err
		}
		l.families = append(l.families, f)
	}
	if len(l.families) == 0 {
		return nil, fmt.Errorf("%w: device reports no queue families", ErrNoQueueFamily)
	}

	l.pool = parallel.NewWorkerPool(o.workers, func(r any) {
		slogger().Error("framegraph: worker panic", "recovered", r)
	})
	l.cache = newFrameCache(device, &l.alloc, l.acquireSemaphore, l.releaseSemaphore)

	slogger().Debug("framegraph: loop created", "families", len(l.families), "workers", l.pool.Workers())
	return l, nil
}

// Device returns the loop device.
func (l *Loop) Device() Device { return l.device }

// Cache returns the frame cache.
func (l *Loop) Cache() *FrameCache { return l.cache }

// Families returns the device queue families.
func (l *Loop) Families() []*DeviceQueueFamily { return l.families }

// IsValid reports whether the loop accepts work.
func (l *Loop) IsValid() bool { return !l.closing.Load() }

// Post queues fn for the loop goroutine. It may be called from any
// goroutine and reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if l.closed.Load() {
		return false
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.posted.Add(1)

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PerformInQueue runs work on a worker and then complete(ok) on the loop
// goroutine. A panic in work reports false.
func (l *Loop) PerformInQueue(work func() bool, complete func(ok bool)) {
	run := func() {
		ok := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					slogger().Error("framegraph: task panic", "recovered", r)
					ok = false
				}
			}()
			ok = work()
		}()
		if complete != nil {
			l.Post(func() { complete(ok) })
		}
	}
	if !l.pool.Submit(run) {
		if complete != nil {
			l.Post(func() { complete(false) })
		}
	}
}

// Schedule runs fn on the loop goroutine after d. The returned function
// cancels the call if it did not run yet.
func (l *Loop) Schedule(d time.Duration, fn func()) (cancel func() bool) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

// completion wraps fn into a callback that may be called from any goroutine
// and runs fn on the loop goroutine. Only the first call takes effect.
func (l *Loop) completion(tag string, fn func(ok bool)) func(ok bool) {
	var once atomic.Bool
	return func(ok bool) {
		if !once.CompareAndSwap(false, true) {
			l.duplicates.Add(1)
			slogger().Warn("framegraph: duplicate completion", "tag", tag, "ok", ok)
			return
		}
		l.Post(func() { fn(ok) })
	}
}

func (l *Loop) observe(ev StateEvent) {
	if l.opts.observer != nil {
		l.opts.observer(ev)
	}
}

// Run drives the loop until ctx is canceled or Close is called. The
// goroutine calling Run becomes the loop goroutine.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.fencePollInterval)
	defer ticker.Stop()

	for {
		l.Poll()
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.stop:
			l.shutdown()
			return nil
		case <-l.wake:
		case <-ticker.C:
		}
	}
}

// Poll runs the posted tasks, checks scheduled fences and drains the cache
// autorelease list once. It returns the number of tasks run.
func (l *Loop) Poll() int {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
	l.executed.Add(uint64(len(tasks)))

	l.pollFences()
	l.cache.Clear()
	return len(tasks)
}

func (l *Loop) pollFences() {
	if len(l.fences) == 0 {
		return
	}
	fences := l.fences
	l.fences = nil
	var pending []*Fence
	for _, f := range fences {
		if !f.check() {
			pending = append(pending, f)
		}
	}
	l.fences = append(pending, l.fences...)
	l.scheduled.Store(int64(len(l.fences)))
}

// unscheduleFence stops polling f. Must be called on the loop goroutine.
func (l *Loop) unscheduleFence(f *Fence) {
	if i := slices.Index(l.fences, f); i >= 0 {
		l.fences = slices.Delete(l.fences, i, i+1)
		l.scheduled.Store(int64(len(l.fences)))
	}
}

// Close stops Run. Frames in flight are invalidated. A loop driven with
// Poll is closed with Shutdown.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
}

// Shutdown closes a Poll-driven loop on the calling goroutine.
func (l *Loop) Shutdown() {
	l.Close()
	l.shutdown()
}

func (l *Loop) shutdown() {
	if !l.closing.CompareAndSwap(false, true) {
		return
	}
	slogger().Debug("framegraph: loop shutdown", "frames", len(l.frames), "fences", len(l.fences))

	for f := range l.frames {
		f.invalidate()
	}
	l.dropDependencies()

	l.pool.Close()
	for l.Poll() > 0 {
	}

	// the device is going away, fences still armed will never be checked;
	// failing one may release work that schedules another
	for len(l.fences) > 0 {
		fences := l.fences
		l.fences = nil
		for _, f := range fences {
			f.setResult(false)
		}
		for l.Poll() > 0 {
		}
	}
	l.scheduled.Store(0)

	// pools returned by the fence releases above are destroyed here
	for _, f := range l.families {
		f.close()
	}
	for l.Poll() > 0 {
	}

	l.closed.Store(true)

	l.queuesMu.Lock()
	queues := make([]*Queue, 0, len(l.queues))
	for q := range l.queues {
		queues = append(queues, q)
	}
	l.queuesMu.Unlock()
	for _, q := range queues {
		l.RemoveQueue(q)
	}

	l.fenceMu.Lock()
	free := l.freeFence
	l.freeFence = nil
	l.fenceMu.Unlock()
	for _, f := range free {
		f.object.Destroy()
	}

	l.cache.purge()

	l.semMu.Lock()
	sems := l.freeSem
	l.freeSem = nil
	l.semClosed = true
	l.semMu.Unlock()
	for _, sem := range sems {
		sem.destroy()
	}
}

// CompileQueue prepares q for frames on this loop: it assigns pass and
// attachment ids, compiles pass programs and registers cacheable
// attachments.
func (l *Loop) CompileQueue(q *Queue) error {
	if l.closing.Load() {
		return ErrLoopClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.compiled {
		if q.loop == l {
			return nil
		}
		return fmt.Errorf("framegraph: queue %q is compiled for another loop", q.name)
	}

	var made []ProgramObject
	for _, p := range q.passes {
		programs := make([]ProgramObject, 0, len(p.programInfos))
		for _, info := range p.programInfos {
			obj, err := l.device.MakeProgram(info)
			if err != nil {
				for _, m := range made {
					m.Destroy()
				}
				for _, m := range programs {
					m.Destroy()
				}
				return fmt.Errorf("framegraph: compile program %q of pass %q: %w", info.Name, p.name, err)
			}
			programs = append(programs, obj)
		}
		made = append(made, programs...)
		p.programs = programs
	}

	for _, p := range q.passes {
		p.index = l.alloc.passes.Add(1)
		l.cache.AddRenderPass(p.index)
	}
	for _, a := range q.attachments {
		a.id = l.alloc.attachments.Add(1)
		if a.typ == AttachmentTypeImage && a.static == nil && a.image.Hints&HintDoNotCache == 0 {
			l.cache.AddAttachment(a.id)
		}
	}
	q.loop = l
	q.compiled = true

	l.queuesMu.Lock()
	l.queues[q] = struct{}{}
	l.queuesMu.Unlock()

	slogger().Debug("framegraph: queue compiled", "queue", q.name, "passes", len(q.passes), "attachments", len(q.attachments))
	return nil
}

// RemoveQueue releases everything CompileQueue registered for q. Cached
// images and framebuffers that become unreachable are destroyed.
func (l *Loop) RemoveQueue(q *Queue) {
	q.mu.Lock()
	if !q.compiled || q.loop != l {
		q.mu.Unlock()
		return
	}
	for _, p := range q.passes {
		l.cache.RemoveRenderPass(p.index)
		for _, prog := range p.programs {
			prog.Destroy()
		}
		p.programs = nil
		p.index = 0
	}
	for _, a := range q.attachments {
		l.cache.RemoveAttachment(a.id)
		a.id = 0
	}
	q.loop = nil
	q.compiled = false
	q.mu.Unlock()

	l.queuesMu.Lock()
	delete(l.queues, q)
	l.queuesMu.Unlock()
}

// RunFrame creates a frame for req on the loop goroutine and starts it.
// onFrame, if not nil, receives the frame once it is created; the frame's
// Done channel reports completion. It may be called from any goroutine.
func (l *Loop) RunFrame(req *FrameRequest, onFrame func(*FrameHandle)) error {
	for _, q := range req.queues {
		if !q.compiledFor(l) {
			return fmt.Errorf("%w: %q", ErrQueueNotCompiled, q.name)
		}
	}
	if !l.Post(func() {
		f, err := l.makeFrame(req, 0)
		if err != nil {
			slogger().Warn("framegraph: make frame", "err", err)
			return
		}
		if onFrame != nil {
			onFrame(f)
		}
		f.update()
	}) {
		return ErrLoopClosed
	}
	return nil
}

// makeFrame creates a frame for req. Must be called on the loop goroutine.
func (l *Loop) makeFrame(req *FrameRequest, gen uint64) (*FrameHandle, error) {
	if l.closing.Load() {
		return nil, ErrLoopClosed
	}
	if req.Frame() != nil {
		return nil, errors.New("framegraph: request already has a frame")
	}
	f := newFrameHandle(l, req, gen)
	l.frames[f] = struct{}{}
	l.activeFrames.Add(1)
	return f, nil
}

func (l *Loop) releaseFrame(f *FrameHandle) {
	if _, ok := l.frames[f]; !ok {
		return
	}
	delete(l.frames, f)
	l.activeFrames.Add(-1)
}

// ActiveFrames returns the number of frames not yet released.
func (l *Loop) ActiveFrames() int64 { return l.activeFrames.Load() }

// acquireFence returns a pooled fence tagged with the frame order. The fence
// polls on this loop once scheduled.
func (l *Loop) acquireFence(frame uint64) (*Fence, error) {
	l.fenceMu.Lock()
	var f *Fence
	if n := len(l.freeFence); n > 0 {
		f = l.freeFence[n-1]
		l.freeFence[n-1] = nil
		l.freeFence = l.freeFence[:n-1]
	}
	l.fenceMu.Unlock()

	if f == nil {
		obj, err := l.device.MakeFence()
		if err != nil {
			return nil, fmt.Errorf("framegraph: make fence: %w", err)
		}
		f = newFence(l, obj)
	}

	f.setFrame(frame, func() bool {
		l.fences = append(l.fences, f)
		l.scheduled.Add(1)
		return true
	}, func() {
		l.fenceMu.Lock()
		l.freeFence = append(l.freeFence, f)
		l.fenceMu.Unlock()
	})
	return f, nil
}

// acquireSemaphore returns a pooled semaphore, or nil if the device failed
// to create one.
func (l *Loop) acquireSemaphore() *Semaphore {
	l.semMu.Lock()
	if n := len(l.freeSem); n > 0 {
		s := l.freeSem[n-1]
		l.freeSem[n-1] = nil
		l.freeSem = l.freeSem[:n-1]
		l.semMu.Unlock()
		return s
	}
	l.semMu.Unlock()

	obj, err := l.device.MakeSemaphore()
	if err != nil {
		slogger().Warn("framegraph: make semaphore", "err", err)
		return nil
	}
	return newSemaphore(l.alloc.semaphores.Add(1), obj)
}

// releaseSemaphore returns s to the pool once no submission references it.
// A semaphore whose signal was never waited on cannot be reused and is
// destroyed. It may be called from any goroutine.
func (l *Loop) releaseSemaphore(s *Semaphore) {
	if s == nil || s.retireWhenIdle(l.releaseSemaphore) {
		return
	}
	if !s.Reset() {
		s.destroy()
		return
	}
	l.semMu.Lock()
	if l.semClosed {
		l.semMu.Unlock()
		s.destroy()
		return
	}
	l.freeSem = append(l.freeSem, s)
	l.semMu.Unlock()
}

func (l *Loop) familyFor(flags QueueFlags) *DeviceQueueFamily {
	return selectFamily(l.families, flags)
}

// AcquireQueue acquires a device queue supporting flags for owner. See
// DeviceQueueFamily.AcquireQueue.
func (l *Loop) AcquireQueue(flags QueueFlags, owner Owner, onAcquire func(*DeviceQueue), onInvalidate func(), ref any) bool {
	f := l.familyFor(flags)
	if f == nil {
		slogger().Warn("framegraph: no queue family", "flags", flags)
		if onInvalidate != nil {
			onInvalidate()
		}
		return false
	}
	return f.AcquireQueue(owner, onAcquire, onInvalidate, ref)
}

// ReleaseQueue returns q to its family.
func (l *Loop) ReleaseQueue(q *DeviceQueue) { q.family.ReleaseQueue(q) }

// AcquireCommandPool returns a command pool of a family supporting flags.
func (l *Loop) AcquireCommandPool(flags QueueFlags) (*CommandPool, error) {
	f := l.familyFor(flags)
	if f == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoQueueFamily, flags)
	}
	return f.AcquireCommandPool()
}

// ReleaseCommandPool returns p to its family.
func (l *Loop) ReleaseCommandPool(p *CommandPool) { p.family.ReleaseCommandPool(p) }

// AcquireQueryPool returns a query pool of a family supporting flags.
func (l *Loop) AcquireQueryPool(flags QueueFlags, info QueryPoolInfo) (*QueryPool, error) {
	f := l.familyFor(flags)
	if f == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoQueueFamily, flags)
	}
	return f.AcquireQueryPool(info)
}

// ReleaseQueryPool returns p to its family.
func (l *Loop) ReleaseQueryPool(p *QueryPool) { p.family.ReleaseQueryPool(p) }

func (l *Loop) acquireImage(a *Attachment, info ImageInfo) (*ImageStorage, error) {
	return l.cache.AcquireImage(a.id, info, []ImageViewInfo{a.viewInfo(info.normalized())})
}

// ReleaseImage returns an image acquired from the frame cache.
func (l *Loop) ReleaseImage(img *ImageStorage) { l.cache.ReleaseImage(img) }

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() LoopStats {
	l.fenceMu.Lock()
	free := len(l.freeFence)
	l.fenceMu.Unlock()
	l.semMu.Lock()
	freeSem := len(l.freeSem)
	l.semMu.Unlock()

	s := LoopStats{
		Posted:               l.posted.Load(),
		Executed:             l.executed.Load(),
		DuplicateCompletions: l.duplicates.Load(),
		ActiveFrames:         l.activeFrames.Load(),
		ScheduledFences:      int(l.scheduled.Load()),
		FreeFences:           free,
		FreeSemaphores:       freeSem,
		Workers:              l.pool.Workers(),
		WorkerPanics:         l.pool.Panics(),
		Cache:                l.cache.Stats(),
	}
	for _, f := range l.families {
		s.Families = append(s.Families, f.Stats())
	}
	return s
}
