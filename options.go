// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"time"

	"github.com/gogpu/gputypes"
)

// LoopOption configures a Loop during creation.
//
// Example:
//
//	loop, err := framegraph.NewLoop(device,
//	    framegraph.WithWorkers(4),
//	    framegraph.WithFencePollInterval(500*time.Microsecond),
//	)
type LoopOption func(*loopOptions)

type loopOptions struct {
	workers           int
	fencePollInterval time.Duration
	fenceStallTimeout time.Duration
	observer          func(StateEvent)
}

func defaultLoopOptions() loopOptions {
	return loopOptions{
		workers:           0, // GOMAXPROCS
		fencePollInterval: time.Millisecond,
		fenceStallTimeout: time.Second,
	}
}

// WithWorkers sets the number of worker goroutines used for command
// recording, submission and blocking fence checks.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) LoopOption {
	return func(o *loopOptions) {
		o.workers = n
	}
}

// WithFencePollInterval sets how often Run checks scheduled fences.
func WithFencePollInterval(d time.Duration) LoopOption {
	return func(o *loopOptions) {
		if d > 0 {
			o.fencePollInterval = d
		}
	}
}

// WithFenceStallTimeout sets how long a fence may stay armed before it is
// re-checked with a blocking wait on a worker.
func WithFenceStallTimeout(d time.Duration) LoopOption {
	return func(o *loopOptions) {
		if d > 0 {
			o.fenceStallTimeout = d
		}
	}
}

// WithStateObserver registers fn to receive every pass and attachment state
// transition. fn runs on the loop goroutine and must not block.
func WithStateObserver(fn func(StateEvent)) LoopOption {
	return func(o *loopOptions) {
		o.observer = fn
	}
}

// EmitterOption configures a FrameEmitter during creation.
type EmitterOption func(*emitterOptions)

type emitterOptions struct {
	frameInterval time.Duration
	safetyOffset  time.Duration
	onDemand      bool
	barrier       bool
	extent        gputypes.Extent3D
	factory       func(*FrameEmitter) (*FrameRequest, error)
	onFrame       func(*FrameHandle)
}

func defaultEmitterOptions() emitterOptions {
	return emitterOptions{
		frameInterval: time.Second / 60,
		safetyOffset:  500 * time.Microsecond,
		barrier:       true,
	}
}

// WithFrameInterval sets the target interval between frames.
// Zero disables timeout-driven pacing.
func WithFrameInterval(d time.Duration) EmitterOption {
	return func(o *emitterOptions) {
		if d >= 0 {
			o.frameInterval = d
		}
	}
}

// WithSafetyOffset sets how much earlier than the frame interval the frame
// timeout fires.
func WithSafetyOffset(d time.Duration) EmitterOption {
	return func(o *emitterOptions) {
		if d >= 0 {
			o.safetyOffset = d
		}
	}
}

// WithOnDemand makes the emitter start frames only when asked via
// ScheduleNextFrame or RequestFrame.
func WithOnDemand(v bool) EmitterOption {
	return func(o *emitterOptions) {
		o.onDemand = v
	}
}

// WithBarrier controls whether a new frame may submit while earlier frames
// are still in flight. The barrier is enabled by default.
func WithBarrier(v bool) EmitterOption {
	return func(o *emitterOptions) {
		o.barrier = v
	}
}

// WithExtent sets the frame extent applied to attachments without
// HintFixedSize.
func WithExtent(width, height uint32) EmitterOption {
	return func(o *emitterOptions) {
		o.extent = gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1}
	}
}

// WithRequestFactory overrides how the emitter builds the request for the
// next frame. The default builds an empty request for the emitter's queue.
func WithRequestFactory(fn func(*FrameEmitter) (*FrameRequest, error)) EmitterOption {
	return func(o *emitterOptions) {
		o.factory = fn
	}
}

// WithFrameCallback registers fn to run on the loop goroutine when a frame
// emitted by this emitter completes or is invalidated.
func WithFrameCallback(fn func(*FrameHandle)) EmitterOption {
	return func(o *emitterOptions) {
		o.onFrame = fn
	}
}
