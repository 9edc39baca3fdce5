// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Device is the backend factory the engine drives. The engine decides when
// objects are created, reused and destroyed; the backend only creates them.
//
// Implementations must be safe for concurrent use: the engine calls Make*
// from the loop goroutine and from workers.
type Device interface {
	// QueueFamilies describes the hardware queue families, in preference
	// order for pass flags.
	QueueFamilies() []QueueFamilyInfo

	MakeQueue(family, index uint32) (QueueObject, error)
	MakeImage(info ImageInfo) (ImageObject, error)
	MakeImageView(image ImageObject, info ImageViewInfo) (ImageViewObject, error)
	MakeFramebuffer(info FramebufferInfo) (FramebufferObject, error)
	MakeCommandPool(family uint32, flags QueueFlags) (CommandPoolObject, error)
	MakeQueryPool(family uint32, info QueryPoolInfo) (QueryPoolObject, error)
	MakeFence() (FenceObject, error)
	MakeSemaphore() (SemaphoreObject, error)

	// MakeProgram compiles a pass program. Called once per program when a
	// queue is compiled.
	MakeProgram(info ProgramInfo) (ProgramObject, error)
}

// Object is a backend-owned GPU object.
type Object interface {
	Destroy()
}

type (
	ImageObject       interface{ Object }
	ImageViewObject   interface{ Object }
	FramebufferObject interface{ Object }
	SemaphoreObject   interface{ Object }
	QueryPoolObject   interface{ Object }
	ProgramObject     interface{ Object }
)

// FenceObject is a backend completion marker for one submission.
type FenceObject interface {
	Object

	// Wait reports whether the work last submitted with this fence has
	// finished within timeout. A zero timeout polls.
	Wait(timeout time.Duration) (bool, error)

	// Reset prepares the fence for another submission.
	Reset() error
}

// CommandBuffer is a recorded backend command buffer.
type CommandBuffer any

// CommandPoolObject records command buffers for one queue family.
type CommandPoolObject interface {
	Object

	// Record opens a backend encoder, passes it to fn and returns the
	// finished buffer. The buffer stays valid until Reset.
	Record(label string, fn func(encoder any) error) (CommandBuffer, error)

	// Reset frees every buffer recorded since the previous Reset.
	Reset() error
}

// QueueObject is a backend hardware queue.
type QueueObject interface {
	// Submit executes buffers after the semaphores in sync are signaled and
	// signals fence on completion.
	Submit(sync *FrameSync, fence FenceObject, buffers []CommandBuffer) error
}

// QueueFamilyInfo describes one hardware queue family.
type QueueFamilyInfo struct {
	Index uint32
	Count uint32
	Flags QueueFlags
}

// QueryType selects what a query pool measures.
type QueryType int

const (
	QueryTimestamp QueryType = iota
	QueryOcclusion
	QueryPipelineStatistics
)

// QueryPoolInfo is the identity of a query pool.
type QueryPoolInfo struct {
	Type  QueryType
	Count uint32
}

// ProgramInfo describes a pass program in WGSL.
type ProgramInfo struct {
	Name   string
	Source string
}

// FramebufferInfo is passed to Device.MakeFramebuffer.
type FramebufferInfo struct {
	Pass      string
	PassIndex uint64
	Views     []ImageViewObject
	Extent    gputypes.Extent3D
}
