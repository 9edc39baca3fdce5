// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"sync"
	"time"
)

// PassHooks customize a pass. Every hook is optional. Hooks run on the loop
// goroutine except Record, which runs on a worker.
type PassHooks struct {
	// IsAvailable skips the pass for a frame when it returns false: the
	// pass moves straight to PassComplete without recording or submission.
	IsAvailable func(q *FrameQueue) bool
	// Prepare replaces command recording. It returns true when preparation
	// finished synchronously; otherwise it calls done exactly once later.
	// A pass prepared this way has nothing to submit.
	Prepare func(h *QueuePassHandle, done func(ok bool)) bool
	// Record fills the pass command buffer. encoder is the backend encoder.
	Record func(h *QueuePassHandle, encoder any) error
	// Submitted runs once the pass is submitted to a device queue.
	Submitted func(h *QueuePassHandle, ok bool)
	// Complete runs once the device finished the pass.
	Complete func(h *QueuePassHandle, ok bool)
	// Finalize runs once when the handle reaches PassFinalized.
	Finalize func(h *QueuePassHandle, ok bool)
}

// QueuePass is a compiled pass of a Queue.
type QueuePass struct {
	index        uint64
	name         string
	typ          PassType
	ordering     uint32
	programInfos []ProgramInfo
	programs     []ProgramObject
	queries      []QueryPoolInfo
	hooks        PassHooks
	queue        *Queue

	attachments []*AttachmentPassData
	required    []PassRequirement
	sourceDeps  []*PassDependency
	targetDeps  []*PassDependency
}

// Index returns the loop-assigned pass index, or zero before compilation.
func (p *QueuePass) Index() uint64 { return p.index }

// Name returns the pass name.
func (p *QueuePass) Name() string { return p.name }

// Type returns the pass type.
func (p *QueuePass) Type() PassType { return p.typ }

// Flags returns the queue capabilities the pass needs.
func (p *QueuePass) Flags() QueueFlags { return p.typ.Flags() }

// Ordering returns the declared execution order key.
func (p *QueuePass) Ordering() uint32 { return p.ordering }

// Queue returns the owning queue.
func (p *QueuePass) Queue() *Queue { return p.queue }

// Attachments returns the attachment bindings of the pass.
func (p *QueuePass) Attachments() []*AttachmentPassData { return p.attachments }

// Required returns the passes this pass waits for.
func (p *QueuePass) Required() []PassRequirement { return p.required }

// SourceDependencies returns the direct dependencies signaled by this pass.
func (p *QueuePass) SourceDependencies() []*PassDependency { return p.sourceDeps }

// TargetDependencies returns the direct dependencies this pass waits on.
func (p *QueuePass) TargetDependencies() []*PassDependency { return p.targetDeps }

// Programs returns the compiled programs, in declaration order.
func (p *QueuePass) Programs() []ProgramObject { return p.programs }

// QueuePassHandle is the per-frame instance of a QueuePass. It prepares the
// pass command buffer on a worker and submits it to a pooled device queue.
type QueuePassHandle struct {
	pass  *QueuePass
	queue *FrameQueue
	data  *framePassData

	family  *DeviceQueueFamily
	pool    *CommandPool
	buffers []CommandBuffer
	sync    *FrameSync
	queries []*QueryPool

	mu          sync.Mutex
	autorelease []any
}

// Name returns the pass name.
func (h *QueuePassHandle) Name() string { return h.pass.name }

// Pass returns the pass definition.
func (h *QueuePassHandle) Pass() *QueuePass { return h.pass }

// Queue returns the frame queue that owns the handle.
func (h *QueuePassHandle) Queue() *FrameQueue { return h.queue }

// Frame returns the frame that owns the handle.
func (h *QueuePassHandle) Frame() *FrameHandle { return h.queue.frame }

// State returns the current pass state. Must be called on the loop
// goroutine.
func (h *QueuePassHandle) State() FrameRenderPassState { return h.data.state }

// Framebuffer returns the framebuffer acquired for the pass, if any.
func (h *QueuePassHandle) Framebuffer() *Framebuffer { return h.data.framebuffer }

// Sync returns the synchronization data of the current submission.
func (h *QueuePassHandle) Sync() *FrameSync { return h.sync }

// SubmitTime returns when the pass was submitted.
func (h *QueuePassHandle) SubmitTime() time.Time { return h.data.submitTime }

// QueryPools returns the query pools bound to the current submission.
func (h *QueuePassHandle) QueryPools() []*QueryPool { return h.queries }

// IsSubmitted reports whether the pass reached PassSubmitted.
func (h *QueuePassHandle) IsSubmitted() bool { return h.data.state >= PassSubmitted }

// IsCompleted reports whether the pass reached PassComplete.
func (h *QueuePassHandle) IsCompleted() bool { return h.data.state >= PassComplete }

// IsFramebufferRequired reports whether the pass renders into a
// framebuffer.
func (h *QueuePassHandle) IsFramebufferRequired() bool { return h.pass.typ == PassTypeGraphics }

// Attachment returns the frame handle of an attachment used by the pass.
func (h *QueuePassHandle) Attachment(name string) (*AttachmentHandle, bool) {
	for _, it := range h.data.attachments {
		if it.use.Attachment.name == name {
			return it.data.handle, true
		}
	}
	return nil, false
}

// Autorelease keeps ref alive until the handle is finalized.
func (h *QueuePassHandle) Autorelease(ref any) {
	if ref == nil {
		return
	}
	h.mu.Lock()
	h.autorelease = append(h.autorelease, ref)
	h.mu.Unlock()
}

func (h *QueuePassHandle) isAvailable(q *FrameQueue) bool {
	if h.pass.hooks.IsAvailable != nil {
		return h.pass.hooks.IsAvailable(q)
	}
	return true
}

// prepare records the pass command buffer on a worker. It reports whether
// preparation finished synchronously.
func (h *QueuePassHandle) prepare(done func(bool)) bool {
	if h.pass.hooks.Prepare != nil {
		return h.pass.hooks.Prepare(h, done)
	}

	loop := h.queue.loop
	h.family = loop.familyFor(h.pass.Flags())
	if h.family == nil {
		slogger().Warn("framegraph: no queue family for pass", "pass", h.pass.name, "flags", h.pass.Flags())
		done(false)
		return false
	}

	pool, err := h.family.AcquireCommandPool()
	if err != nil {
		slogger().Warn("framegraph: acquire command pool", "pass", h.pass.name, "err", err)
		done(false)
		return false
	}
	h.pool = pool

	loop.PerformInQueue(func() bool {
		buf, err := pool.Record(h.pass.name, func(encoder any) error {
			if h.pass.hooks.Record != nil {
				return h.pass.hooks.Record(h, encoder)
			}
			return nil
		})
		if err != nil {
			slogger().Warn("framegraph: record pass", "pass", h.pass.name, "err", err)
			return false
		}
		h.buffers = []CommandBuffer{buf}
		return true
	}, done)
	return false
}

// submit acquires a fence and a device queue, submits the recorded buffers
// on a worker and reports through onSubmitted and onComplete. Both are
// called exactly once.
func (h *QueuePassHandle) submit(sync *FrameSync, onSubmitted, onComplete func(bool)) {
	loop := h.queue.loop
	frame := h.queue.frame

	if h.pool == nil {
		// nothing recorded, nothing to submit
		onSubmitted(true)
		loop.PerformInQueue(func() bool { return true }, onComplete)
		return
	}

	fence, err := loop.acquireFence(frame.Order())
	if err != nil {
		slogger().Warn("framegraph: acquire fence", "pass", h.pass.name, "err", err)
		h.releasePool()
		onSubmitted(false)
		loop.PerformInQueue(func() bool { return false }, onComplete)
		return
	}
	fence.SetTag(h.pass.name)

	pool, family := h.pool, h.family
	h.pool = nil
	fence.AddRelease(func(bool) {
		family.ReleaseCommandPool(pool)
	}, nil, "QueuePassHandle.submit release command pool")
	fence.AddRelease(func(ok bool) {
		if h.pass.hooks.Complete != nil {
			h.pass.hooks.Complete(h, ok)
		}
		onComplete(ok)
	}, h, "QueuePassHandle.submit complete")

	for _, info := range h.pass.queries {
		qp, err := family.AcquireQueryPool(info)
		if err != nil {
			slogger().Warn("framegraph: acquire query pool", "pass", h.pass.name, "err", err)
			continue
		}
		h.queries = append(h.queries, qp)
		fence.BindQueries(qp)
	}

	h.sync = sync
	buffers := h.buffers
	h.buffers = nil

	family.AcquireQueue(frame, func(dq *DeviceQueue) {
		var submitErr error
		loop.PerformInQueue(func() bool {
			submitErr = dq.Submit(sync, fence, buffers)
			return submitErr == nil
		}, func(ok bool) {
			h.data.submitTime = fence.ArmedTime()
			family.ReleaseQueue(dq)
			if !ok {
				slogger().Warn("framegraph: submit pass", "pass", h.pass.name, "err", submitErr)
			}
			h.submitted(ok, onSubmitted)
			fence.Schedule()
		})
	}, func() {
		h.submitted(false, onSubmitted)
		fence.Schedule()
	}, h)
}

func (h *QueuePassHandle) submitted(ok bool, onSubmitted func(bool)) {
	h.sync = nil
	if h.pass.hooks.Submitted != nil {
		h.pass.hooks.Submitted(h, ok)
	}
	onSubmitted(ok)
}

func (h *QueuePassHandle) releasePool() {
	if h.pool != nil {
		h.family.ReleaseCommandPool(h.pool)
		h.pool = nil
	}
	h.buffers = nil
}

func (h *QueuePassHandle) finalize(ok bool) {
	// a pass invalidated between prepare and submit still holds its pool
	h.releasePool()
	if h.pass.hooks.Finalize != nil {
		h.pass.hooks.Finalize(h, ok)
	}
	h.mu.Lock()
	h.autorelease = nil
	h.mu.Unlock()
}
