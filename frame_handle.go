// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
)

// FrameHandle is one frame in flight. It owns a FrameQueue per graph queue
// of its request and completes once every queue completed and every
// required task finished. A failure anywhere invalidates the whole frame.
//
// Unless noted otherwise, methods must be called on the loop goroutine.
type FrameHandle struct {
	loop    *Loop
	request *FrameRequest
	emitter *FrameEmitter
	order   uint64
	gen     uint64

	queues      []*FrameQueue
	setupFailed bool

	tasksRequired   atomic.Int64
	tasksCompleted  int64
	queuesSubmitted int
	queuesCompleted int
	queuesReleased  int

	valid          bool
	completed      bool
	submitted      bool
	finished       bool
	released       bool
	readyForSubmit bool

	timeStart      time.Time
	timeEnd        time.Time
	submissionTime time.Duration

	complete func(*FrameHandle)
	done     chan struct{}
}

func newFrameHandle(loop *Loop, req *FrameRequest, gen uint64) *FrameHandle {
	f := &FrameHandle{
		loop:           loop,
		request:        req,
		emitter:        req.emitter,
		order:          loop.alloc.frames.Add(1),
		gen:            gen,
		valid:          true,
		readyForSubmit: req.IsReadyForSubmit(),
		timeStart:      time.Now(),
		done:           make(chan struct{}),
	}
	for _, q := range req.queues {
		fq := newFrameQueue(q, f, q.incrementOrder())
		if !fq.setup() {
			f.setupFailed = true
		}
		f.queues = append(f.queues, fq)
	}
	req.attach(f)
	slogger().Debug("framegraph: frame created", "frame", f.order, "request", req.id, "queues", len(f.queues))
	return f
}

// Order returns the loop-wide frame number.
func (f *FrameHandle) Order() uint64 { return f.order }

// Gen returns the emitter generation the frame belongs to.
func (f *FrameHandle) Gen() uint64 { return f.gen }

// Loop returns the loop driving the frame.
func (f *FrameHandle) Loop() *Loop { return f.loop }

// Request returns the request the frame was created for.
func (f *FrameHandle) Request() *FrameRequest { return f.request }

// Emitter returns the emitter that issued the frame, if any.
func (f *FrameHandle) Emitter() *FrameEmitter { return f.emitter }

// Extent returns the frame extent.
func (f *FrameHandle) Extent() gputypes.Extent3D { return f.request.extent }

// Queues returns the per-queue state of the frame.
func (f *FrameHandle) Queues() []*FrameQueue { return f.queues }

// FrameQueue returns the frame state of q.
func (f *FrameHandle) FrameQueue(q *Queue) (*FrameQueue, bool) {
	for _, fq := range f.queues {
		if fq.queue == q {
			return fq, true
		}
	}
	return nil, false
}

// IsValid reports whether the frame still runs. A frame of an emitter is
// also invalid once the emitter dropped it.
func (f *FrameHandle) IsValid() bool {
	if !f.valid {
		return false
	}
	if f.emitter != nil {
		return f.emitter.isFrameValid(f)
	}
	return true
}

// IsSubmitted reports whether every queue submitted all of its passes.
func (f *FrameHandle) IsSubmitted() bool { return f.submitted }

// IsCompleted reports whether the frame finished, successfully or not.
func (f *FrameHandle) IsCompleted() bool { return f.completed }

// IsSuccessful reports whether the frame finished without failure.
func (f *FrameHandle) IsSuccessful() bool { return f.completed && f.valid }

// Err returns ErrFrameInvalid once the frame was invalidated, nil otherwise.
func (f *FrameHandle) Err() error {
	if !f.valid {
		return ErrFrameInvalid
	}
	return nil
}

// Done returns a channel closed once the frame finished. It may be used
// from any goroutine.
func (f *FrameHandle) Done() <-chan struct{} { return f.done }

// TimeStart returns when the frame was created.
func (f *FrameHandle) TimeStart() time.Time { return f.timeStart }

// TimeEnd returns when the frame finished.
func (f *FrameHandle) TimeEnd() time.Time { return f.timeEnd }

// SubmissionTime returns the summed submit-to-complete time of every pass.
func (f *FrameHandle) SubmissionTime() time.Duration { return f.submissionTime }

// SetCompleteCallback sets the function called once when the frame
// finishes.
func (f *FrameHandle) SetCompleteCallback(fn func(*FrameHandle)) { f.complete = fn }

// IsReadyForSubmit reports whether prepared passes may be submitted.
func (f *FrameHandle) IsReadyForSubmit() bool { return f.readyForSubmit }

// SetReadyForSubmit opens or closes the submission gate. Opening it resumes
// passes held at PassPrepared.
func (f *FrameHandle) SetReadyForSubmit(v bool) {
	if !f.valid {
		return
	}
	f.readyForSubmit = v
	if v {
		f.loop.Post(f.update)
	}
}

// Update advances every queue of the frame. It may be called from any
// goroutine.
func (f *FrameHandle) Update() { f.loop.Post(f.update) }

// Invalidate fails the frame. It may be called from any goroutine.
func (f *FrameHandle) Invalidate() { f.loop.Post(f.invalidate) }

func (f *FrameHandle) update() {
	if !f.valid {
		return
	}
	if f.setupFailed {
		slogger().Warn("framegraph: frame graph is incomplete", "frame", f.order)
		f.invalidate()
		return
	}
	for _, q := range f.queues {
		q.update()
		if !f.valid {
			return
		}
	}
}

func (f *FrameHandle) invalidate() {
	if !f.valid || f.finished {
		return
	}
	slogger().Debug("framegraph: frame invalidated", "frame", f.order)
	f.timeEnd = time.Now()
	f.valid = false
	f.completed = true

	for _, q := range f.queues {
		q.invalidate()
	}

	if !f.submitted {
		f.submitted = true
		if f.emitter != nil {
			f.emitter.setFrameSubmitted(f)
		}
	}

	f.finish(false)
}

func (f *FrameHandle) finish(ok bool) {
	if f.complete != nil {
		f.complete(f)
		f.complete = nil
	}
	f.request.finalize(ok)
	for _, q := range f.queues {
		f.loop.signalDependencies(f.request.SignalDependencies(), q.queue, ok)
	}
	f.finished = true
	close(f.done)
	f.tryRelease()
}

func (f *FrameHandle) onQueueSubmitted(q *FrameQueue) {
	f.queuesSubmitted++
	if f.queuesSubmitted == len(f.queues) && !f.submitted {
		f.submitted = true
		if f.emitter != nil {
			f.emitter.setFrameSubmitted(f)
		}
	}
}

func (f *FrameHandle) onQueueComplete(q *FrameQueue) {
	f.submissionTime += q.submissionTime
	f.queuesCompleted++
	f.tryComplete()
}

func (f *FrameHandle) onQueueInvalidated(q *FrameQueue) {
	f.queuesCompleted++
	f.invalidate()
}

func (f *FrameHandle) onQueueReleased(q *FrameQueue) {
	f.queuesReleased++
	f.tryRelease()
}

// tryRelease ends the request once the frame finished and every queue let
// go of its resources.
func (f *FrameHandle) tryRelease() {
	if !f.finished || f.released || f.queuesReleased != len(f.queues) {
		return
	}
	f.released = true
	f.request.end()
	f.loop.releaseFrame(f)
}

func (f *FrameHandle) tryComplete() {
	if f.tasksCompleted == f.tasksRequired.Load() && f.queuesCompleted == len(f.queues) {
		f.onComplete()
	}
}

func (f *FrameHandle) onComplete() {
	if f.completed || !f.valid {
		return
	}
	f.timeEnd = time.Now()
	f.completed = true
	slogger().Debug("framegraph: frame complete", "frame", f.order, "duration", f.timeEnd.Sub(f.timeStart))
	f.finish(true)
}

func (f *FrameHandle) onOutputAttachment(a *frameAttachmentData) bool {
	return f.request.onOutputReady(f.loop, a)
}

func (f *FrameHandle) onOutputAttachmentInvalidated(a *frameAttachmentData) {
	f.request.onOutputInvalidated(a)
}

func (f *FrameHandle) waitForInput(h *AttachmentHandle, done func(bool)) {
	f.request.waitForInput(h, done)
}

func (f *FrameHandle) onRequiredTaskCompleted() {
	f.tasksCompleted++
	f.tryComplete()
}

// FrameExternalTask is work outside the graph that the frame waits for.
// Exactly one of Done and Fail takes effect.
type FrameExternalTask struct {
	frame *FrameHandle
	once  atomic.Bool
}

// Done reports success. It may be called from any goroutine.
func (t *FrameExternalTask) Done() {
	if t.once.CompareAndSwap(false, true) {
		t.frame.loop.Post(t.frame.onRequiredTaskCompleted)
	}
}

// Fail invalidates the frame. It may be called from any goroutine.
func (t *FrameExternalTask) Fail() {
	if t.once.CompareAndSwap(false, true) {
		t.frame.loop.Post(t.frame.invalidate)
	}
}

// AcquireTask registers external work the frame must wait for. It may be
// called from any goroutine before the frame completes.
func (f *FrameHandle) AcquireTask() *FrameExternalTask {
	f.tasksRequired.Add(1)
	return &FrameExternalTask{frame: f}
}

// PerformInQueue runs work on a worker and complete on the loop goroutine.
func (f *FrameHandle) PerformInQueue(work func(*FrameHandle) bool, complete func(*FrameHandle, bool)) {
	f.loop.PerformInQueue(func() bool {
		return work(f)
	}, func(ok bool) {
		if complete != nil {
			complete(f, ok)
		}
	})
}

// PerformOnLoop runs fn on the loop goroutine. It may be called from any
// goroutine.
func (f *FrameHandle) PerformOnLoop(fn func(*FrameHandle)) {
	f.loop.Post(func() { fn(f) })
}

// PerformRequiredTask runs work on a worker and holds frame completion until
// it finished. A failed task invalidates the frame.
func (f *FrameHandle) PerformRequiredTask(work func(*FrameHandle) bool, complete func(*FrameHandle, bool)) {
	f.tasksRequired.Add(1)
	f.loop.PerformInQueue(func() bool {
		return work(f)
	}, func(ok bool) {
		if complete != nil {
			complete(f, ok)
		}
		if ok {
			f.onRequiredTaskCompleted()
		} else {
			slogger().Error("framegraph: required task failed", "frame", f.order)
			f.invalidate()
		}
	})
}
