// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

// FrameSyncAttachment is a semaphore a submission waits on or signals.
type FrameSyncAttachment struct {
	// Attachment is nil for semaphores between two passes.
	Attachment *AttachmentHandle
	Semaphore  *Semaphore
	Image      *ImageStorage
	// Stages is the wait stage mask. Unused for signal semaphores.
	Stages PipelineStage
}

// FrameSyncImage is a layout transition requested by a submission.
type FrameSyncImage struct {
	Attachment *AttachmentHandle
	Image      *ImageStorage
	NewLayout  AttachmentLayout
}

// FrameSync is the synchronization data of one pass submission.
type FrameSync struct {
	WaitAttachments   []FrameSyncAttachment
	SignalAttachments []FrameSyncAttachment
	Images            []FrameSyncImage
}

// makePassSync builds the sync data of a pass: semaphores to the passes that
// directly depend on it, semaphores queued by the passes it depends on, and
// image semaphores on the first and last use of every image.
func (q *FrameQueue) makePassSync(data *framePassData) *FrameSync {
	sync := &FrameSync{}

	for _, dep := range data.handle.pass.sourceDeps {
		target, ok := q.passes[dep.Target]
		if !ok {
			continue
		}
		sem := q.loop.acquireSemaphore()
		if sem == nil {
			continue
		}
		q.semaphores = append(q.semaphores, sem)
		sync.SignalAttachments = append(sync.SignalAttachments, FrameSyncAttachment{Semaphore: sem})
		target.waitSync = append(target.waitSync, FrameSyncAttachment{Semaphore: sem, Stages: dep.StageFlags})
	}

	sync.WaitAttachments = append(sync.WaitAttachments, data.waitSync...)
	data.waitSync = nil

	pass := data.handle.pass
	for _, it := range data.attachments {
		att := it.use.Attachment
		img := it.data.image

		if att.FirstPass() == pass && img != nil && img.WaitSemaphore() != nil {
			sync.WaitAttachments = append(sync.WaitAttachments, FrameSyncAttachment{
				Attachment: it.data.handle,
				Semaphore:  img.WaitSemaphore(),
				Image:      img,
				Stages:     waitStage(it.use),
			})
		}

		if att.LastPass() == pass && img != nil && img.SignalSemaphore() != nil {
			sync.SignalAttachments = append(sync.SignalAttachments, FrameSyncAttachment{
				Attachment: it.data.handle,
				Semaphore:  img.SignalSemaphore(),
				Image:      img,
			})
		}

		if img != nil {
			layout := it.use.FinalLayout
			if layout == LayoutPresentSrc && !img.IsSwapchainImage() {
				layout = LayoutTransferSrcOptimal
			}
			sync.Images = append(sync.Images, FrameSyncImage{
				Attachment: it.data.handle,
				Image:      img,
				NewLayout:  layout,
			})
		}
	}
	return sync
}

func waitStage(use *AttachmentPassData) PipelineStage {
	if use.Dependency.InitialUsageStage == StageNone {
		return StageBottomOfPipe
	}
	return use.Dependency.InitialUsageStage
}
