// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "github.com/gogpu/gputypes"

// InputData is frame input for an attachment.
type InputData struct {
	// Data is the application payload.
	Data any
	// WaitDependencies must be signaled before the input is consumed.
	WaitDependencies []*DependencyEvent
}

// AttachmentHooks customize an attachment. Every hook is optional. Hooks run
// on the loop goroutine; done may be called from any goroutine.
type AttachmentHooks struct {
	// IsAvailable excludes the attachment from a frame when it returns
	// false. A frame whose passes use an unavailable attachment fails.
	IsAvailable func(q *FrameQueue) bool
	// Setup prepares the per-frame handle. It returns true when setup
	// finished synchronously; otherwise it calls done exactly once later.
	Setup func(h *AttachmentHandle, done func(ok bool)) bool
	// ValidateInput rejects malformed frame input.
	ValidateInput func(data *InputData) bool
	// AcquireInput supplies input when the frame request carries none.
	// Without it the frame waits for FrameRequest.AddInput.
	AcquireInput func(h *AttachmentHandle, done func(ok bool))
	// SubmitInput consumes frame input. The default waits for the input's
	// dependency events.
	SubmitInput func(h *AttachmentHandle, data *InputData, done func(ok bool))
	// Finalize runs once when the handle reaches AttachmentFinalized.
	Finalize func(h *AttachmentHandle, ok bool)
}

// Attachment is a resource slot shared by the passes of a Queue.
type Attachment struct {
	id          uint64
	name        string
	typ         AttachmentType
	usage       AttachmentUsage
	image       ImageInfo
	static      *ImageStorage
	outputState FrameRenderPassState
	transient   bool
	hooks       AttachmentHooks
	queue       *Queue

	// passes in execution order
	passes []*AttachmentPassData
}

// ID returns the loop-assigned attachment id, or zero before compilation.
func (a *Attachment) ID() uint64 { return a.id }

// Name returns the attachment name.
func (a *Attachment) Name() string { return a.name }

// Type returns the attachment type.
func (a *Attachment) Type() AttachmentType { return a.typ }

// Usage returns the frame-level usage of the attachment.
func (a *Attachment) Usage() AttachmentUsage { return a.usage }

// ImageInfo returns the declared image configuration.
func (a *Attachment) ImageInfo() ImageInfo { return a.image }

// IsStatic reports whether the attachment uses one image for every frame.
func (a *Attachment) IsStatic() bool { return a.static != nil }

// StaticImage returns the static image, if any.
func (a *Attachment) StaticImage() *ImageStorage { return a.static }

// OutputState returns the pass state at which output is delivered.
func (a *Attachment) OutputState() FrameRenderPassState { return a.outputState }

// IsTransient reports whether the attachment content is not needed after
// the frame.
func (a *Attachment) IsTransient() bool { return a.transient }

// Queue returns the owning queue.
func (a *Attachment) Queue() *Queue { return a.queue }

// Passes returns the bindings of the attachment in pass execution order.
func (a *Attachment) Passes() []*AttachmentPassData { return a.passes }

// FirstPass returns the first pass using the attachment.
func (a *Attachment) FirstPass() *QueuePass {
	if len(a.passes) == 0 {
		return nil
	}
	return a.passes[0].Pass
}

// LastPass returns the last pass using the attachment.
func (a *Attachment) LastPass() *QueuePass {
	if len(a.passes) == 0 {
		return nil
	}
	return a.passes[len(a.passes)-1].Pass
}

// NextPass returns the pass using the attachment after p.
func (a *Attachment) NextPass(p *QueuePass) *QueuePass {
	for i, it := range a.passes {
		if it.Pass == p {
			if i+1 < len(a.passes) {
				return a.passes[i+1].Pass
			}
			return nil
		}
	}
	return nil
}

// PrevPass returns the pass using the attachment before p.
func (a *Attachment) PrevPass(p *QueuePass) *QueuePass {
	for i, it := range a.passes {
		if it.Pass == p {
			if i > 0 {
				return a.passes[i-1].Pass
			}
			return nil
		}
	}
	return nil
}

// ValidateInput reports whether data is acceptable frame input.
func (a *Attachment) ValidateInput(data *InputData) bool {
	if data == nil {
		return false
	}
	if a.hooks.ValidateInput != nil {
		return a.hooks.ValidateInput(data)
	}
	return true
}

// updateLayouts fills undeclared layouts along the pass chain and adds the
// image usage every final layout needs.
func (a *Attachment) updateLayouts() {
	prev := LayoutUndefined
	for i, it := range a.passes {
		if it.FinalLayout == LayoutUndefined {
			it.FinalLayout = defaultFinalLayout(it.Usage)
		}
		if it.InitialLayout == LayoutUndefined && i > 0 {
			it.InitialLayout = prev
		}
		prev = it.FinalLayout
		if a.typ == AttachmentTypeImage {
			a.image.Usage |= layoutUsage(it.FinalLayout)
		}
	}
}

// viewInfo returns the view a pass uses for an image of info.
func (a *Attachment) viewInfo(info ImageInfo) ImageViewInfo {
	return ImageViewInfo{
		Format:     info.Format,
		LayerCount: info.Extent.DepthOrArrayLayers,
		MipCount:   info.MipLevels,
	}
}

// frameInfo returns the image configuration for a frame of extent.
func (a *Attachment) frameInfo(extent gputypes.Extent3D) ImageInfo {
	if a.typ == AttachmentTypeImage && a.image.Hints&HintFixedSize != 0 {
		return a.image
	}
	return a.image.withExtent(extent)
}

// AttachmentHandle is the per-frame instance of an Attachment. It lives
// until the owning FrameQueue is released.
type AttachmentHandle struct {
	attachment *Attachment
	queue      *FrameQueue
	data       *frameAttachmentData
}

// Name returns the attachment name.
func (h *AttachmentHandle) Name() string { return h.attachment.name }

// Attachment returns the attachment definition.
func (h *AttachmentHandle) Attachment() *Attachment { return h.attachment }

// Queue returns the frame queue that owns the handle.
func (h *AttachmentHandle) Queue() *FrameQueue { return h.queue }

// Frame returns the frame that owns the handle.
func (h *AttachmentHandle) Frame() *FrameHandle { return h.queue.frame }

// State returns the current attachment state. Must be called on the loop
// goroutine.
func (h *AttachmentHandle) State() FrameAttachmentState { return h.data.state }

// Image returns the image bound for this frame, if any.
func (h *AttachmentHandle) Image() *ImageStorage { return h.data.image }

// ImageInfo returns the image configuration for this frame.
func (h *AttachmentHandle) ImageInfo() ImageInfo { return h.data.info }

// IsInput reports whether the attachment takes frame input.
func (h *AttachmentHandle) IsInput() bool { return h.attachment.usage&UsageInput != 0 }

// IsOutput reports whether the attachment produces frame output.
func (h *AttachmentHandle) IsOutput() bool { return h.attachment.usage&UsageOutput != 0 }

func (h *AttachmentHandle) isAvailable(q *FrameQueue) bool {
	if h.attachment.hooks.IsAvailable != nil {
		return h.attachment.hooks.IsAvailable(q)
	}
	return true
}

func (h *AttachmentHandle) setup(done func(bool)) bool {
	if h.attachment.hooks.Setup != nil {
		return h.attachment.hooks.Setup(h, done)
	}
	return true
}

func (h *AttachmentHandle) submitInput(data *InputData, done func(bool)) {
	if h.attachment.hooks.SubmitInput != nil {
		h.attachment.hooks.SubmitInput(h, data, done)
		return
	}
	if len(data.WaitDependencies) == 0 {
		done(true)
		return
	}
	h.queue.loop.WaitForDependencies(data.WaitDependencies, done)
}

func (h *AttachmentHandle) acquireInput(done func(bool)) {
	if h.attachment.hooks.AcquireInput != nil {
		h.attachment.hooks.AcquireInput(h, done)
		return
	}
	h.queue.frame.waitForInput(h, done)
}

func (h *AttachmentHandle) finalize(ok bool) {
	if h.attachment.hooks.Finalize != nil {
		h.attachment.hooks.Finalize(h, ok)
	}
}
