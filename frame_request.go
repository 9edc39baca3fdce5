// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

// FrameOutput is an output attachment delivered to its consumer.
type FrameOutput struct {
	Attachment *Attachment
	Frame      *FrameHandle
	// Image is nil for non-image attachments and for outputs delivered
	// after their image was released.
	Image *ImageStorage
	Info  ImageInfo

	loop  *Loop
	owned bool
}

// Release returns a detached cache image to the frame cache. It is a no-op
// for static images and render targets.
func (o *FrameOutput) Release() {
	if o.Image != nil && o.owned && o.loop != nil {
		o.loop.ReleaseImage(o.Image)
	}
	o.Image = nil
	o.owned = false
}

// OutputCallback receives an output attachment. ok is false when the frame
// failed; out is then nil. Returning true on success detaches the image:
// the consumer must call FrameOutput.Release when done with it.
//
// The callback runs on the loop goroutine exactly once per binding.
type OutputCallback func(out *FrameOutput, ok bool) bool

type inputWaiter struct {
	handle *AttachmentHandle
	done   func(bool)
}

// FrameRequest describes one frame: the graph queues to run, their inputs,
// output bindings and image overrides. A request is consumed by exactly one
// frame.
type FrameRequest struct {
	id      uuid.UUID
	queues  []*Queue
	extent  gputypes.Extent3D
	emitter *FrameEmitter

	mu              sync.Mutex
	readyForSubmit  bool
	input           map[*Attachment]*InputData
	outputs         map[*Attachment]OutputCallback
	renderTargets   map[*Attachment]*ImageStorage
	specializations map[*Attachment]ImageInfo
	signals         []*DependencyEvent
	waitForInputs   map[*Attachment]inputWaiter
	frame           *FrameHandle
	ended           bool
}

// NewFrameRequest creates a request for queues sized to extent. Each queue's
// BeginFrame hook runs before NewFrameRequest returns.
func NewFrameRequest(extent gputypes.Extent3D, queues ...*Queue) (*FrameRequest, error) {
	if len(queues) == 0 {
		return nil, ErrEmptyQueue
	}
	if extent.DepthOrArrayLayers == 0 {
		extent.DepthOrArrayLayers = 1
	}
	r := &FrameRequest{
		id:              uuid.New(),
		queues:          queues,
		extent:          extent,
		readyForSubmit:  true,
		input:           make(map[*Attachment]*InputData),
		outputs:         make(map[*Attachment]OutputCallback),
		renderTargets:   make(map[*Attachment]*ImageStorage),
		specializations: make(map[*Attachment]ImageInfo),
		waitForInputs:   make(map[*Attachment]inputWaiter),
	}
	for _, q := range queues {
		q.beginFrame(r)
	}
	return r, nil
}

// ID returns the request id.
func (r *FrameRequest) ID() uuid.UUID { return r.id }

// Queues returns the queues of the request.
func (r *FrameRequest) Queues() []*Queue { return r.queues }

// Extent returns the frame extent.
func (r *FrameRequest) Extent() gputypes.Extent3D { return r.extent }

// Emitter returns the emitter that issued the request, if any.
func (r *FrameRequest) Emitter() *FrameEmitter { return r.emitter }

// Frame returns the frame created for the request, or nil before submission.
func (r *FrameRequest) Frame() *FrameHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// SetReadyForSubmit sets the initial submission gate of the frame. An
// emitter overrides it according to its barrier setting.
func (r *FrameRequest) SetReadyForSubmit(v bool) {
	r.mu.Lock()
	r.readyForSubmit = v
	r.mu.Unlock()
}

// IsReadyForSubmit reports the initial submission gate.
func (r *FrameRequest) IsReadyForSubmit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readyForSubmit
}

func (r *FrameRequest) owns(a *Attachment) bool {
	for _, q := range r.queues {
		if a.queue == q {
			return true
		}
	}
	return false
}

// AddInput supplies frame input for a. If the frame already waits for the
// input, it is submitted right away on the loop goroutine.
func (r *FrameRequest) AddInput(a *Attachment, data *InputData) error {
	if !r.owns(a) {
		return fmt.Errorf("%w: %q", ErrUnknownAttachment, a.name)
	}
	if !a.ValidateInput(data) {
		return fmt.Errorf("%w: %q", ErrInvalidInput, a.name)
	}

	r.mu.Lock()
	frame := r.frame
	if frame == nil {
		r.input[a] = data
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	frame.loop.Post(func() {
		r.mu.Lock()
		w, waiting := r.waitForInputs[a]
		if waiting {
			delete(r.waitForInputs, a)
		} else {
			r.input[a] = data
		}
		r.mu.Unlock()
		if waiting {
			w.handle.submitInput(data, w.done)
		}
	})
	return nil
}

// takeInput pops the stored input of a.
func (r *FrameRequest) takeInput(a *Attachment) *InputData {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.input[a]
	if !ok {
		return nil
	}
	delete(r.input, a)
	return data
}

// waitForInput parks h until AddInput supplies data. A previous waiter for
// the same attachment is failed.
func (r *FrameRequest) waitForInput(h *AttachmentHandle, done func(bool)) {
	r.mu.Lock()
	prev, ok := r.waitForInputs[h.attachment]
	r.waitForInputs[h.attachment] = inputWaiter{handle: h, done: done}
	r.mu.Unlock()
	if ok {
		prev.done(false)
	}
}

// SetOutput binds cb to the output attachment a.
func (r *FrameRequest) SetOutput(a *Attachment, cb OutputCallback) error {
	if !r.owns(a) || a.usage&UsageOutput == 0 {
		return fmt.Errorf("%w: %q is not an output", ErrUnknownAttachment, a.name)
	}
	r.mu.Lock()
	r.outputs[a] = cb
	r.mu.Unlock()
	return nil
}

// SetRenderTarget makes the frame render a into img instead of a cache
// image.
func (r *FrameRequest) SetRenderTarget(a *Attachment, img *ImageStorage) error {
	if !r.owns(a) || a.typ != AttachmentTypeImage {
		return fmt.Errorf("%w: %q is not an image", ErrUnknownAttachment, a.name)
	}
	r.mu.Lock()
	r.renderTargets[a] = img
	r.mu.Unlock()
	return nil
}

func (r *FrameRequest) renderTarget(a *Attachment) *ImageStorage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderTargets[a]
}

// AddImageSpecialization overrides the image configuration of a for this
// frame.
func (r *FrameRequest) AddImageSpecialization(a *Attachment, info ImageInfo) error {
	if !r.owns(a) || a.typ != AttachmentTypeImage {
		return fmt.Errorf("%w: %q is not an image", ErrUnknownAttachment, a.name)
	}
	r.mu.Lock()
	r.specializations[a] = info.normalized()
	r.mu.Unlock()
	return nil
}

func (r *FrameRequest) imageSpecialization(a *Attachment) (ImageInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.specializations[a]
	return info, ok
}

// AddSignalDependency registers events the frame signals for each of its
// queues when it completes or fails.
func (r *FrameRequest) AddSignalDependency(events ...*DependencyEvent) {
	r.mu.Lock()
	r.signals = append(r.signals, events...)
	r.mu.Unlock()
}

// SignalDependencies returns the registered signal events.
func (r *FrameRequest) SignalDependencies() []*DependencyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*DependencyEvent(nil), r.signals...)
}

func (r *FrameRequest) attach(f *FrameHandle) {
	r.mu.Lock()
	r.frame = f
	r.mu.Unlock()
}

func (r *FrameRequest) takeOutput(a *Attachment) (OutputCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.outputs[a]
	if ok {
		delete(r.outputs, a)
	}
	return cb, ok
}

// onOutputReady delivers the output of a. It reports whether the consumer
// took the image.
func (r *FrameRequest) onOutputReady(loop *Loop, a *frameAttachmentData) bool {
	cb, ok := r.takeOutput(a.handle.attachment)
	if !ok {
		return false
	}
	out := &FrameOutput{
		Attachment: a.handle.attachment,
		Frame:      a.handle.queue.frame,
		Image:      a.image,
		Info:       a.info,
		loop:       loop,
		owned:      a.owned,
	}
	return cb(out, true) && out.Image != nil
}

func (r *FrameRequest) onOutputInvalidated(a *frameAttachmentData) {
	if cb, ok := r.takeOutput(a.handle.attachment); ok {
		cb(nil, false)
	}
}

// finalize fails pending input waits and, when the frame failed, every
// output that was not delivered.
func (r *FrameRequest) finalize(ok bool) {
	r.mu.Lock()
	waiters := r.waitForInputs
	r.waitForInputs = make(map[*Attachment]inputWaiter)
	var outputs []OutputCallback
	if !ok {
		for _, cb := range r.outputs {
			outputs = append(outputs, cb)
		}
		clear(r.outputs)
	}
	r.mu.Unlock()

	for _, w := range waiters {
		w.done(false)
	}
	for _, cb := range outputs {
		cb(nil, false)
	}
}

// end runs the EndFrame hook of every queue once.
func (r *FrameRequest) end() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	r.mu.Unlock()

	for _, q := range r.queues {
		q.endFrame(r)
	}
}
