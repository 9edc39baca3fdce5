// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"slices"
	"sync/atomic"
	"time"
)

const frameTimeWindow = 20

// FrameEmitter paces frames of one queue. It starts a frame when the
// previous one has been submitted and the frame interval has passed, keeps
// at most two frames in flight and, with the barrier enabled, lets a frame
// submit only once no other frame is in flight.
//
// Exported methods may be called from any goroutine; they post to the loop.
type FrameEmitter struct {
	loop  *Loop
	queue *Queue
	opts  emitterOptions

	// owned by the loop goroutine
	valid             bool
	gen               uint64
	frames            []*FrameHandle
	framesPending     []*FrameHandle
	nextFrameRequest  *FrameRequest
	nextFrameAcquired bool
	frameTimeout      bool
	order             uint64
	lastSubmit        time.Time
	frameTimes        *movingAverage
	fenceIntervals    *movingAverage

	submitted        atomic.Uint64
	completed        atomic.Uint64
	failed           atomic.Uint64
	inFlight         atomic.Int64
	lastFrameTime    atomic.Int64
	avgFrameTime     atomic.Int64
	avgFenceInterval atomic.Int64
}

// NewFrameEmitter creates an emitter for queue. Call Start to begin
// emission.
func NewFrameEmitter(loop *Loop, queue *Queue, opts ...EmitterOption) *FrameEmitter {
	o := defaultEmitterOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &FrameEmitter{
		loop:           loop,
		queue:          queue,
		opts:           o,
		valid:          true,
		gen:            1,
		frameTimeout:   true,
		frameTimes:     newMovingAverage(frameTimeWindow),
		fenceIntervals: newMovingAverage(frameTimeWindow),
	}
}

// Loop returns the loop the emitter runs on.
func (e *FrameEmitter) Loop() *Loop { return e.loop }

// Queue returns the emitted queue.
func (e *FrameEmitter) Queue() *Queue { return e.queue }

// Start requests the first frame.
func (e *FrameEmitter) Start() { e.loop.Post(func() { e.onFrameRequest(false) }) }

// RequestFrame asks for a frame; it is started as soon as pacing allows.
func (e *FrameEmitter) RequestFrame() { e.loop.Post(func() { e.onFrameRequest(false) }) }

// ScheduleNextFrame makes req the request of the next frame.
func (e *FrameEmitter) ScheduleNextFrame(req *FrameRequest) {
	e.loop.Post(func() {
		e.nextFrameRequest = req
		e.onFrameRequest(false)
	})
}

// SetFrameInterval changes the target frame interval.
func (e *FrameEmitter) SetFrameInterval(d time.Duration) {
	e.loop.Post(func() { e.opts.frameInterval = d })
}

// SetEnableBarrier toggles the submission barrier.
func (e *FrameEmitter) SetEnableBarrier(v bool) {
	e.loop.Post(func() { e.opts.barrier = v })
}

// DropFrameTimeout fires the pending frame timeout now.
func (e *FrameEmitter) DropFrameTimeout() {
	e.loop.Post(func() {
		if !e.frameTimeout {
			e.order++
			e.onFrameTimeout(e.order)
		}
	})
}

// DropFrames invalidates every frame in flight.
func (e *FrameEmitter) DropFrames() { e.loop.Post(e.dropFrames) }

// Invalidate stops emission and invalidates every frame in flight.
func (e *FrameEmitter) Invalidate() { e.loop.Post(e.invalidate) }

// Stats returns a snapshot of the emitter counters.
func (e *FrameEmitter) Stats() EmitterStats {
	return EmitterStats{
		Submitted:        e.submitted.Load(),
		Completed:        e.completed.Load(),
		Failed:           e.failed.Load(),
		FramesInFlight:   int(e.inFlight.Load()),
		LastFrameTime:    time.Duration(e.lastFrameTime.Load()),
		AvgFrameTime:     time.Duration(e.avgFrameTime.Load()),
		AvgFenceInterval: time.Duration(e.avgFenceInterval.Load()),
	}
}

// IsReadyForSubmit reports whether no frame is in flight. Must be called on
// the loop goroutine.
func (e *FrameEmitter) IsReadyForSubmit() bool {
	return len(e.frames) == 0 && len(e.framesPending) == 0
}

func (e *FrameEmitter) updateInFlight() {
	e.inFlight.Store(int64(len(e.frames) + len(e.framesPending)))
}

// isFrameValid reports whether f belongs to the current generation and is
// still tracked by the emitter.
func (e *FrameEmitter) isFrameValid(f *FrameHandle) bool {
	if !e.valid || f.gen != e.gen {
		return false
	}
	return slices.Contains(e.frames, f) || slices.Contains(e.framesPending, f)
}

func (e *FrameEmitter) canStartFrame() bool {
	if !e.valid || !e.frameTimeout {
		return false
	}
	for _, f := range e.frames {
		if !f.IsSubmitted() {
			return false
		}
	}
	return len(e.framesPending) <= 1
}

func (e *FrameEmitter) onFrameRequest(timeout bool) {
	if !e.canStartFrame() {
		return
	}
	if e.nextFrameRequest != nil {
		e.scheduleFrameTimeout()
		e.submitNextFrame(e.nextFrameRequest)
		return
	}
	if !e.nextFrameAcquired {
		e.nextFrameAcquired = true
		e.scheduleFrameTimeout()
		e.acquireNextFrame()
	}
}

func (e *FrameEmitter) scheduleFrameTimeout() {
	if !e.valid || e.opts.frameInterval <= 0 || !e.frameTimeout || e.opts.onDemand {
		return
	}
	e.frameTimeout = false
	e.order++
	idx := e.order
	d := e.opts.frameInterval - e.opts.safetyOffset
	if d < 0 {
		d = 0
	}
	e.loop.Schedule(d, func() { e.onFrameTimeout(idx) })
}

func (e *FrameEmitter) onFrameTimeout(order uint64) {
	if order != e.order {
		return
	}
	e.frameTimeout = true
	e.onFrameRequest(true)
}

func (e *FrameEmitter) acquireNextFrame() {
	var req *FrameRequest
	var err error
	if e.opts.factory != nil {
		req, err = e.opts.factory(e)
	} else {
		req, err = NewFrameRequest(e.opts.extent, e.queue)
	}
	if err != nil || req == nil {
		slogger().Warn("framegraph: emitter failed to acquire frame request", "queue", e.queue.name, "err", err)
		e.nextFrameAcquired = false
		return
	}
	e.submitNextFrame(req)
}

func (e *FrameEmitter) submitNextFrame(req *FrameRequest) {
	e.nextFrameRequest = nil
	e.nextFrameAcquired = false
	if !e.valid {
		return
	}

	req.emitter = e
	req.SetReadyForSubmit(!e.opts.barrier || e.IsReadyForSubmit())

	frame, err := e.loop.makeFrame(req, e.gen)
	if err != nil {
		slogger().Warn("framegraph: emitter failed to make frame", "queue", e.queue.name, "err", err)
		return
	}
	e.lastSubmit = time.Now()
	frame.SetCompleteCallback(e.onFrameComplete)

	// tracked before the first update so that waiters see a valid frame
	e.frames = append(e.frames, frame)
	e.updateInFlight()
	slogger().Debug("framegraph: frame emitted", "queue", e.queue.name, "frame", frame.order)

	frame.update()

	if frame.valid && len(e.frames) == 1 && len(e.framesPending) == 0 && !frame.IsReadyForSubmit() {
		frame.SetReadyForSubmit(true)
	}
}

// setFrameSubmitted moves f from the running to the pending list.
func (e *FrameEmitter) setFrameSubmitted(f *FrameHandle) {
	valid := e.isFrameValid(f)
	if i := slices.Index(e.frames, f); i >= 0 {
		e.frames = slices.Delete(e.frames, i, i+1)
	}
	if valid && f.valid {
		e.framesPending = append(e.framesPending, f)
	}
	e.updateInFlight()
	e.submitted.Add(1)

	if !e.opts.onDemand {
		e.loop.Post(func() { e.onFrameRequest(false) })
	}
}

func (e *FrameEmitter) onFrameComplete(f *FrameHandle) {
	if f.IsSuccessful() {
		e.completed.Add(1)
	} else {
		e.failed.Add(1)
	}

	if !f.timeEnd.IsZero() {
		d := f.timeEnd.Sub(f.timeStart)
		e.lastFrameTime.Store(int64(d))
		e.frameTimes.add(d)
		e.avgFrameTime.Store(int64(e.frameTimes.average()))
	}
	if f.submissionTime > 0 {
		e.fenceIntervals.add(f.submissionTime)
		e.avgFenceInterval.Store(int64(e.fenceIntervals.average()))
	}

	if i := slices.Index(e.framesPending, f); i >= 0 {
		e.framesPending = slices.Delete(e.framesPending, i, i+1)
	}
	if i := slices.Index(e.frames, f); i >= 0 {
		e.frames = slices.Delete(e.frames, i, i+1)
	}
	e.updateInFlight()

	if e.opts.onFrame != nil {
		e.opts.onFrame(f)
	}

	if len(e.framesPending) <= 1 && len(e.frames) == 0 && !e.opts.onDemand {
		e.onFrameRequest(false)
	}

	if len(e.framesPending) == 0 {
		for _, fr := range e.frames {
			if !fr.IsReadyForSubmit() {
				fr.SetReadyForSubmit(true)
				break
			}
		}
	}
}

func (e *FrameEmitter) dropFrames() {
	frames := append(slices.Clone(e.frames), e.framesPending...)
	e.gen++
	e.frames = nil
	e.framesPending = nil
	for _, f := range frames {
		f.invalidate()
	}
	e.updateInFlight()
}

func (e *FrameEmitter) invalidate() {
	if !e.valid {
		return
	}
	e.valid = false
	e.dropFrames()
	e.frameTimes.reset()
	e.fenceIntervals.reset()
	slogger().Debug("framegraph: emitter invalidated", "queue", e.queue.name)
}
