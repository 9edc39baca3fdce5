// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"slices"
	"time"

	"github.com/gogpu/gputypes"
)

type frameAttachmentData struct {
	state         FrameAttachmentState
	handle        *AttachmentHandle
	image         *ImageStorage
	owned         bool
	info          ImageInfo
	passes        []*framePassData
	waitForResult bool
	// final is the state of the last pass at which the attachment is
	// released. PassInitial releases it on PassSubmitted.
	final FrameRenderPassState
}

type passAttachment struct {
	use  *AttachmentPassData
	data *frameAttachmentData
}

type framePassData struct {
	state         FrameRenderPassState
	handle        *QueuePassHandle
	framebuffer   *Framebuffer
	attachments   []passAttachment
	waiters       map[FrameRenderPassState][]*framePassData
	waitSync      []FrameSyncAttachment
	waitForResult bool
	submitTime    time.Time
}

type awaitPass struct {
	data  *framePassData
	state FrameRenderPassState
}

// FrameQueue drives the passes and attachments of one graph Queue for one
// frame, from setup to finalization.
//
// All methods run on the loop goroutine. Asynchronous steps (attachment
// setup, input, pass preparation and submission) report back through
// completions that the loop serializes, so the state of a FrameQueue is
// never mutated concurrently.
type FrameQueue struct {
	queue  *Queue
	frame  *FrameHandle
	loop   *Loop
	order  uint64
	extent gputypes.Extent3D

	passes         map[*QueuePass]*framePassData
	passList       []*framePassData
	attachments    map[*Attachment]*frameAttachmentData
	attachmentList []*frameAttachmentData

	attachmentsInitial []*frameAttachmentData
	passesInitial      []*framePassData
	passesPrepared     []*framePassData
	awaitPasses        []awaitPass

	// semaphores between passes of this frame
	semaphores []*Semaphore

	passesSubmitted  int
	passesCompleted  int
	finalizedObjects int
	submissionTime   time.Duration

	valid       bool
	finalized   bool
	invalidated bool
	success     bool
	released    bool
}

func newFrameQueue(q *Queue, f *FrameHandle, order uint64) *FrameQueue {
	return &FrameQueue{
		queue:       q,
		frame:       f,
		loop:        f.loop,
		order:       order,
		extent:      f.request.extent,
		passes:      make(map[*QueuePass]*framePassData, len(q.passes)),
		attachments: make(map[*Attachment]*frameAttachmentData, len(q.attachments)),
		valid:       true,
	}
}

// Queue returns the graph queue.
func (q *FrameQueue) Queue() *Queue { return q.queue }

// Frame returns the owning frame.
func (q *FrameQueue) Frame() *FrameHandle { return q.frame }

// Loop returns the loop driving the frame.
func (q *FrameQueue) Loop() *Loop { return q.loop }

// Order returns the per-queue frame order.
func (q *FrameQueue) Order() uint64 { return q.order }

// Extent returns the frame extent.
func (q *FrameQueue) Extent() gputypes.Extent3D { return q.extent }

// Valid reports whether every pass and attachment was available at setup.
func (q *FrameQueue) Valid() bool { return q.valid }

// IsFinalized reports whether the queue finished or was invalidated.
func (q *FrameQueue) IsFinalized() bool { return q.finalized }

// IsSuccessful reports whether every pass completed.
func (q *FrameQueue) IsSuccessful() bool { return q.success }

// SubmissionTime returns the summed submit-to-complete time of all passes.
func (q *FrameQueue) SubmissionTime() time.Duration { return q.submissionTime }

// PassState returns the state of the named pass.
func (q *FrameQueue) PassState(name string) (FrameRenderPassState, bool) {
	p, ok := q.queue.passByName[name]
	if !ok {
		return PassInitial, false
	}
	d, ok := q.passes[p]
	if !ok {
		return PassInitial, false
	}
	return d.state, true
}

// AttachmentState returns the state of the named attachment.
func (q *FrameQueue) AttachmentState(name string) (FrameAttachmentState, bool) {
	a, ok := q.queue.attByName[name]
	if !ok {
		return AttachmentInitial, false
	}
	d, ok := q.attachments[a]
	if !ok {
		return AttachmentInitial, false
	}
	return d.state, true
}

// Attachment returns the frame handle of the named attachment.
func (q *FrameQueue) Attachment(name string) (*AttachmentHandle, bool) {
	a, ok := q.queue.attByName[name]
	if !ok {
		return nil, false
	}
	d, ok := q.attachments[a]
	if !ok {
		return nil, false
	}
	return d.handle, true
}

// Pass returns the frame handle of the named pass.
func (q *FrameQueue) Pass(name string) (*QueuePassHandle, bool) {
	p, ok := q.queue.passByName[name]
	if !ok {
		return nil, false
	}
	d, ok := q.passes[p]
	if !ok {
		return nil, false
	}
	return d.handle, true
}

// setup instantiates per-frame handles and cross references. It returns
// false if a pass references an attachment that is not available for this
// frame, or the other way around.
func (q *FrameQueue) setup() bool {
	valid := true

	for _, pass := range q.queue.passes {
		data := &framePassData{
			state:   PassInitial,
			waiters: make(map[FrameRenderPassState][]*framePassData),
		}
		data.handle = &QueuePassHandle{pass: pass, queue: q, data: data}
		q.passes[pass] = data
		q.passList = append(q.passList, data)
		q.passesInitial = append(q.passesInitial, data)
	}

	for _, att := range q.queue.attachments {
		h := &AttachmentHandle{attachment: att, queue: q}
		if !h.isAvailable(q) {
			continue
		}
		data := &frameAttachmentData{
			state:  AttachmentInitial,
			handle: h,
			info:   att.frameInfo(q.extent),
		}
		h.data = data
		q.attachments[att] = data
		q.attachmentList = append(q.attachmentList, data)
		q.attachmentsInitial = append(q.attachmentsInitial, data)
	}

	for _, data := range q.attachmentList {
		att := data.handle.attachment
		for _, use := range att.passes {
			if p, ok := q.passes[use.Pass]; ok {
				data.passes = append(data.passes, p)
			} else {
				slogger().Debug("framegraph: pass is not available on frame", "pass", use.Pass.name)
				valid = false
			}
		}

		if len(att.passes) == 0 {
			slogger().Warn("framegraph: attachment not attached to any pass", "attachment", att.name)
			continue
		}
		data.final = att.passes[len(att.passes)-1].Dependency.RequiredRenderPassState
		release := data.final
		if release == PassInitial {
			release = PassSubmitted
		}
		if data.handle.IsOutput() && att.outputState > release {
			// output images stay bound until they are delivered
			data.final = att.outputState
		}
	}

	for _, data := range q.passList {
		for _, use := range data.handle.pass.attachments {
			if a, ok := q.attachments[use.Attachment]; ok {
				data.attachments = append(data.attachments, passAttachment{use: use, data: a})
			} else {
				slogger().Debug("framegraph: attachment is not available on frame", "attachment", use.Attachment.name)
				valid = false
			}
		}
	}

	for _, data := range q.passList {
		for _, req := range data.handle.pass.required {
			if target, ok := q.passes[req.Pass]; ok {
				target.waiters[req.RequiredState] = append(target.waiters[req.RequiredState], data)
			}
		}
	}

	q.valid = valid
	slogger().Debug("framegraph: frame queue setup", "queue", q.queue.name, "frame", q.frame.order, "valid", valid)
	return valid
}

// update advances the graph as far as it can go without waiting. It is
// re-entrant and is called whenever asynchronous work completes.
func (q *FrameQueue) update() {
	if len(q.attachmentsInitial) > 0 {
		initial := q.attachmentsInitial
		q.attachmentsInitial = nil
		for _, a := range initial {
			if a.state != AttachmentInitial {
				continue
			}
			done := q.loop.completion("attachment setup "+a.handle.Name(), func(ok bool) {
				a.waitForResult = false
				if ok && !q.finalized {
					q.onAttachmentSetupComplete(a)
					q.frame.update()
				} else {
					q.invalidateAttachment(a)
				}
			})
			if a.handle.setup(done) {
				q.onAttachmentSetupComplete(a)
			} else {
				a.waitForResult = true
				q.setAttachmentState(a, AttachmentSetup)
			}
		}
	}

	if len(q.passesInitial) > 0 {
		initial := q.passesInitial
		q.passesInitial = nil
		for _, p := range initial {
			if p.state != PassInitial {
				continue
			}
			if q.isPassReady(p) {
				q.updatePassState(p, PassReady)
			} else {
				q.passesInitial = append(q.passesInitial, p)
			}
		}
	}

	q.retryAwaitPasses()

	if len(q.passesPrepared) > 0 {
		prepared := q.passesPrepared
		q.passesPrepared = nil
		for _, p := range prepared {
			if p.state == PassPrepared {
				q.onPassPrepared(p)
			}
		}
	}
}

func (q *FrameQueue) retryAwaitPasses() {
	if len(q.awaitPasses) == 0 {
		return
	}
	await := q.awaitPasses
	q.awaitPasses = nil
	for _, it := range await {
		if q.isPassReadyForState(it.data, it.state+1) {
			q.updatePassState(it.data, it.state)
		} else {
			q.awaitPasses = append(q.awaitPasses, it)
		}
	}
}

func (q *FrameQueue) setPassState(data *framePassData, state FrameRenderPassState) {
	data.state = state
	slogger().Debug("framegraph: pass state",
		"frame", q.frame.order, "queue", q.queue.name, "pass", data.handle.Name(), "state", state)
	q.loop.observe(StateEvent{
		Frame:     q.frame.order,
		Queue:     q.queue.name,
		Pass:      data.handle.Name(),
		PassState: state,
		Time:      time.Now(),
	})
}

func (q *FrameQueue) setAttachmentState(data *frameAttachmentData, state FrameAttachmentState) {
	data.state = state
	slogger().Debug("framegraph: attachment state",
		"frame", q.frame.order, "queue", q.queue.name, "attachment", data.handle.Name(), "state", state)
	q.loop.observe(StateEvent{
		Frame:           q.frame.order,
		Queue:           q.queue.name,
		Attachment:      data.handle.Name(),
		AttachmentState: state,
		Time:            time.Now(),
	})
}

func (q *FrameQueue) onAttachmentSetupComplete(a *frameAttachmentData) {
	if !a.handle.IsInput() {
		q.setAttachmentState(a, AttachmentReady)
		return
	}

	q.setAttachmentState(a, AttachmentInputRequired)
	a.waitForResult = true
	done := q.loop.completion("attachment input "+a.handle.Name(), func(ok bool) {
		a.waitForResult = false
		if ok && !q.finalized {
			q.setAttachmentState(a, AttachmentReady)
			q.frame.update()
		} else {
			if !ok {
				slogger().Warn("framegraph: failed to acquire input", "attachment", a.handle.Name())
			}
			q.invalidateAttachment(a)
		}
	})
	if data := q.frame.request.takeInput(a.handle.attachment); data != nil {
		a.handle.submitInput(data, done)
	} else {
		a.handle.acquireInput(done)
	}
}

func (q *FrameQueue) onAttachmentAcquire(a *frameAttachmentData) {
	if q.finalized {
		if a.state != AttachmentFinalized {
			q.finalizeAttachment(a)
		}
		return
	}

	q.setAttachmentState(a, AttachmentResourcesPending)
	att := a.handle.attachment
	if att.typ != AttachmentTypeImage {
		q.setAttachmentState(a, AttachmentResourcesAcquired)
		return
	}

	if att.static != nil {
		a.image = att.static
	} else {
		a.image = q.frame.request.renderTarget(att)
	}

	if a.image == nil && a.handle.isAvailable(q) {
		if spec, ok := q.frame.request.imageSpecialization(att); ok {
			a.info = spec
		}
		img, err := q.loop.acquireImage(att, a.info)
		if err != nil {
			slogger().Warn("framegraph: failed to acquire image", "attachment", att.name, "err", err)
			q.invalidateAttachment(a)
			return
		}
		img.frameIndex = q.frame.order
		a.image = img
		a.owned = true
	}

	if a.image != nil {
		a.info = a.image.info
	}

	if a.image != nil && !a.image.IsReady() {
		q.waitForResource(a, func(ok bool) {
			if !ok {
				slogger().Warn("framegraph: waiting on attachment failed", "attachment", att.name)
				q.invalidate()
				return
			}
			if a.state == AttachmentResourcesPending {
				q.setAttachmentState(a, AttachmentResourcesAcquired)
			}
		})
		return
	}
	q.setAttachmentState(a, AttachmentResourcesAcquired)
}

// waitForResource calls cb on the loop goroutine once the attachment image
// is ready or has failed.
func (q *FrameQueue) waitForResource(a *frameAttachmentData, cb func(ok bool)) {
	if a.image == nil {
		cb(false)
		return
	}
	if !a.image.WaitReady(q.loop.completion("image ready "+a.handle.Name(), cb)) {
		cb(true)
	}
}

func (q *FrameQueue) onAttachmentRelease(a *frameAttachmentData, state FrameAttachmentState) {
	q.releaseImage(a)

	if q.finalized {
		if a.state != AttachmentFinalized {
			q.finalizeAttachment(a)
		}
		return
	}
	q.setAttachmentState(a, state)
}

func (q *FrameQueue) releaseImage(a *frameAttachmentData) {
	if a.image != nil && a.owned {
		q.loop.ReleaseImage(a.image)
	}
	a.image = nil
	a.owned = false
}

func (q *FrameQueue) isPassReady(data *framePassData) bool {
	return q.isPassReadyForState(data, PassInitial)
}

// isPassReadyForState reports whether data may move into state. A
// requirement blocks states at or above its locked state until the
// required pass reaches the required state.
func (q *FrameQueue) isPassReadyForState(data *framePassData, state FrameRenderPassState) bool {
	for _, req := range data.handle.pass.required {
		if d, ok := q.passes[req.Pass]; ok {
			if d.state < req.RequiredState && state >= req.LockedState {
				return false
			}
		}
	}
	for _, it := range data.attachments {
		if it.data.state < AttachmentReady {
			return false
		}
	}
	return true
}

func (q *FrameQueue) updatePassState(data *framePassData, state FrameRenderPassState) {
	if q.finalized && state != PassFinalized {
		return
	}
	if data.state >= state {
		return
	}
	if state != PassFinalized && !q.invalidated && !q.isPassReadyForState(data, state+1) {
		q.awaitPasses = append(q.awaitPasses, awaitPass{data: data, state: state})
		return
	}

	prev := data.state
	q.setPassState(data, state)

	switch state {
	case PassReady:
		q.onPassReady(data)
	case PassResourcesAcquired:
		q.onPassResourcesAcquired(data)
	case PassPrepared:
		q.onPassPrepared(data)
	case PassSubmission:
		q.onPassSubmission(data)
	case PassSubmitted:
		q.onPassSubmitted(data)
	case PassComplete:
		q.onPassComplete(data)
	case PassFinalized:
		data.handle.finalize(q.success)
	}

	// a pass may skip states, so wake the waiters of every state passed
	for s := prev + 1; s <= state; s++ {
		for _, w := range data.waiters[s] {
			if w.state == PassInitial && q.isPassReady(w) {
				q.updatePassState(w, PassReady)
			}
		}
	}

	for _, it := range data.attachments {
		a := it.data
		if len(a.passes) == 0 || a.passes[len(a.passes)-1] != data || a.state >= AttachmentDetached {
			continue
		}
		if a.final == PassInitial {
			if state >= PassSubmitted {
				q.onAttachmentRelease(a, AttachmentResourcesReleased)
			}
		} else if state >= a.final {
			q.onAttachmentRelease(a, AttachmentResourcesReleased)
		}
	}

	if state == PassFinalized {
		q.finalizedObjects++
		q.tryReleaseFrame()
		return
	}

	q.retryAwaitPasses()
}

func (q *FrameQueue) onPassReady(data *framePassData) {
	if q.finalized {
		q.invalidatePass(data)
		return
	}
	if data.state != PassReady || data.framebuffer != nil {
		return
	}

	var views []*ImageView
	acquired := true
	failed := false

	acquireView := func(use *AttachmentPassData, img *ImageStorage) {
		v, err := q.loop.cache.View(img, use.Attachment.viewInfo(img.info))
		if err != nil {
			slogger().Warn("framegraph: failed to acquire image view", "attachment", use.Attachment.name, "err", err)
			failed = true
			return
		}
		views = append(views, v)
	}

	for _, it := range data.attachments {
		a := it.data
		switch a.state {
		case AttachmentReady:
			q.onAttachmentAcquire(a)
			if q.finalized {
				return
			}
			if a.state != AttachmentResourcesAcquired {
				acquired = false
				q.waitForResource(a, func(ok bool) {
					if !ok {
						q.invalidate()
						return
					}
					q.onPassReady(data)
				})
			} else if a.image != nil && it.use.inFramebuffer() {
				acquireView(it.use, a.image)
			}
		case AttachmentResourcesPending:
			acquired = false
			q.waitForResource(a, func(ok bool) {
				if !ok {
					q.invalidate()
					return
				}
				q.onPassReady(data)
			})
		case AttachmentResourcesAcquired:
			if a.image != nil && it.use.inFramebuffer() {
				acquireView(it.use, a.image)
			}
		}
	}

	if failed {
		q.invalidate()
		return
	}
	if !acquired {
		return
	}

	if len(views) > 0 && data.handle.IsFramebufferRequired() {
		extent := views[0].image.info.Extent
		views = slices.DeleteFunc(views, func(v *ImageView) bool {
			if v.image.info.Extent != extent {
				slogger().Warn("framegraph: invalid extent for framebuffer image",
					"pass", data.handle.Name(), "width", v.image.info.Extent.Width, "height", v.image.info.Extent.Height)
				return true
			}
			return false
		})
		fb, err := q.loop.cache.AcquireFramebuffer(data.handle.pass, views, extent)
		if err != nil {
			slogger().Warn("framegraph: failed to acquire framebuffer", "pass", data.handle.Name(), "err", err)
			q.invalidate()
			return
		}
		data.framebuffer = fb
	}

	q.updatePassState(data, PassResourcesAcquired)
}

func (q *FrameQueue) onPassResourcesAcquired(data *framePassData) {
	if q.finalized {
		q.invalidatePass(data)
		return
	}

	if !data.handle.isAvailable(q) {
		// skipped passes count as submitted and complete
		q.updatePassState(data, PassSubmitted)
		q.updatePassState(data, PassComplete)
		return
	}

	for _, it := range data.attachments {
		if it.data.image != nil {
			data.handle.Autorelease(it.data.image)
		}
	}
	if data.framebuffer != nil {
		data.handle.Autorelease(data.framebuffer)
	}

	data.waitForResult = true
	done := q.loop.completion("prepare "+data.handle.Name(), func(ok bool) {
		data.waitForResult = false
		if ok && !q.finalized {
			q.updatePassState(data, PassPrepared)
		} else {
			if !ok {
				slogger().Warn("framegraph: failed to prepare pass", "pass", data.handle.Name())
			}
			q.invalidatePass(data)
		}
	})
	if data.handle.prepare(done) {
		data.waitForResult = false
		q.updatePassState(data, PassPrepared)
	}
}

func (q *FrameQueue) onPassPrepared(data *framePassData) {
	if q.finalized {
		q.invalidatePass(data)
		return
	}
	if !q.frame.IsReadyForSubmit() {
		if !slices.Contains(q.passesPrepared, data) {
			q.passesPrepared = append(q.passesPrepared, data)
		}
		return
	}
	q.updatePassState(data, PassSubmission)
}

func (q *FrameQueue) onPassSubmission(data *framePassData) {
	if q.finalized {
		q.invalidatePass(data)
		return
	}

	sync := q.makePassSync(data)
	name := data.handle.Name()

	data.waitForResult = true
	onSubmitted := q.loop.completion("submitted "+name, func(ok bool) {
		if ok && !q.finalized {
			q.updatePassState(data, PassSubmitted)
			return
		}
		data.waitForResult = false
		if !ok {
			slogger().Warn("framegraph: failed to submit pass", "pass", name)
		}
		q.invalidatePass(data)
	})
	onComplete := q.loop.completion("complete "+name, func(ok bool) {
		data.waitForResult = false
		if ok && !q.finalized {
			q.updatePassState(data, PassComplete)
			return
		}
		if !ok {
			slogger().Warn("framegraph: pass completed unsuccessfully", "pass", name)
		}
		q.invalidatePass(data)
	})
	data.handle.submit(sync, onSubmitted, onComplete)
}

func (q *FrameQueue) onPassSubmitted(data *framePassData) {
	q.passesSubmitted++
	if data.framebuffer != nil {
		q.loop.cache.ReleaseFramebuffer(data.framebuffer)
		data.framebuffer = nil
	}

	if q.passesSubmitted == len(q.passList) {
		q.frame.onQueueSubmitted(q)
	}

	q.deliverOutputs(data, PassSubmitted)

	if data.submitTime.IsZero() {
		data.submitTime = time.Now()
	}
}

func (q *FrameQueue) onPassComplete(data *framePassData) {
	if !data.submitTime.IsZero() {
		q.submissionTime += time.Since(data.submitTime)
	}
	if q.finalized {
		q.invalidatePass(data)
		return
	}

	q.deliverOutputs(data, PassComplete)

	q.passesCompleted++
	if q.passesCompleted == len(q.passList) {
		q.onComplete()
	}
}

// deliverOutputs hands output attachments whose last pass is data to the
// frame's output bindings.
func (q *FrameQueue) deliverOutputs(data *framePassData, state FrameRenderPassState) {
	for _, it := range data.attachments {
		a := it.data
		att := a.handle.attachment
		if !a.handle.IsOutput() || att.outputState != state || att.LastPass() != data.handle.pass {
			continue
		}
		if q.frame.onOutputAttachment(a) {
			// the consumer owns the image now
			a.image = nil
			a.owned = false
			q.onAttachmentRelease(a, AttachmentDetached)
		}
	}
}

func (q *FrameQueue) onComplete() {
	if q.finalized {
		return
	}
	q.success = true
	q.frame.onQueueComplete(q)
	q.onFinalized()
}

func (q *FrameQueue) onFinalized() {
	if q.finalized {
		return
	}
	q.finalized = true
	for _, p := range q.passList {
		q.invalidatePass(p)
	}
	for _, a := range q.attachmentList {
		q.invalidateAttachment(a)
	}
}

// invalidate fails the queue. Every live pass and attachment is finalized,
// except those waiting for an asynchronous result: they finalize when the
// result arrives.
func (q *FrameQueue) invalidate() {
	if q.finalized {
		return
	}
	slogger().Debug("framegraph: frame queue invalidated", "queue", q.queue.name, "frame", q.frame.order)
	q.success = false
	q.invalidated = true
	q.onFinalized()
	q.frame.onQueueInvalidated(q)
	q.tryReleaseFrame()
}

func (q *FrameQueue) invalidateAttachment(a *frameAttachmentData) {
	if !q.finalized {
		q.invalidate()
		return
	}
	if a.state == AttachmentFinalized {
		return
	}
	if !a.waitForResult {
		q.finalizeAttachment(a)
	}
}

func (q *FrameQueue) invalidatePass(p *framePassData) {
	if !q.finalized {
		q.invalidate()
		return
	}
	if p.state == PassFinalized {
		return
	}
	if p.state == PassReady {
		// waiting for images is cancellable
		p.waitForResult = false
	}
	if !p.waitForResult && p.framebuffer != nil {
		q.loop.cache.ReleaseFramebuffer(p.framebuffer)
		p.framebuffer = nil
	}
	if !p.waitForResult {
		q.updatePassState(p, PassFinalized)
	}
}

func (q *FrameQueue) finalizeAttachment(a *frameAttachmentData) {
	a.handle.finalize(q.success)
	q.releaseImage(a)
	q.setAttachmentState(a, AttachmentFinalized)
	if !q.success && a.handle.IsOutput() {
		q.frame.onOutputAttachmentInvalidated(a)
	}
	q.finalizedObjects++
	q.tryReleaseFrame()
}

func (q *FrameQueue) tryReleaseFrame() {
	if q.released || q.finalizedObjects != len(q.passList)+len(q.attachmentList) {
		return
	}
	q.released = true
	for _, s := range q.semaphores {
		q.loop.releaseSemaphore(s)
	}
	q.semaphores = nil
	q.frame.onQueueReleased(q)
}
