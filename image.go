// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"sync"

	"github.com/gogpu/gputypes"
)

// ImageInfo is the full configuration of an image. It is comparable and
// serves as the FrameCache identity for transient images.
type ImageInfo struct {
	Extent    gputypes.Extent3D
	Format    gputypes.TextureFormat
	Usage     gputypes.TextureUsage
	MipLevels uint32
	Samples   uint32
	Hints     ImageHints
}

// withExtent returns a copy of info sized to extent.
func (info ImageInfo) withExtent(extent gputypes.Extent3D) ImageInfo {
	info.Extent = extent
	if info.Extent.DepthOrArrayLayers == 0 {
		info.Extent.DepthOrArrayLayers = 1
	}
	return info
}

func (info ImageInfo) normalized() ImageInfo {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	if info.Extent.DepthOrArrayLayers == 0 {
		info.Extent.DepthOrArrayLayers = 1
	}
	return info
}

// ImageViewInfo selects a subresource range of an image.
type ImageViewInfo struct {
	Format     gputypes.TextureFormat
	BaseLayer  uint32
	LayerCount uint32
	BaseMip    uint32
	MipCount   uint32
}

// ImageStorage is a backend image together with its views, semaphores and
// readiness. Images are either owned by the FrameCache or supplied by the
// application as static images and render targets.
type ImageStorage struct {
	object ImageObject
	info   ImageInfo

	views map[ImageViewInfo]*ImageView

	waitSem    *Semaphore
	signalSem  *Semaphore
	releaseSem func(*Semaphore)

	mu           sync.Mutex
	ready        bool
	readyWaiters []func(bool)

	swapchain  bool
	cacheable  bool
	frameIndex uint64
	layout     AttachmentLayout
}

// NewImageStorage wraps a backend image created by the application.
func NewImageStorage(object ImageObject, info ImageInfo) *ImageStorage {
	return &ImageStorage{
		object: object,
		info:   info.normalized(),
		views:  make(map[ImageViewInfo]*ImageView),
		ready:  true,
	}
}

// Info returns the image configuration.
func (s *ImageStorage) Info() ImageInfo { return s.info }

// Object returns the backend image.
func (s *ImageStorage) Object() ImageObject { return s.object }

// FrameIndex returns the order of the last frame that acquired the image.
func (s *ImageStorage) FrameIndex() uint64 { return s.frameIndex }

// Layout returns the layout the image was left in by its last pass.
func (s *ImageStorage) Layout() AttachmentLayout { return s.layout }

// IsSwapchainImage reports whether the image is presented to a surface.
func (s *ImageStorage) IsSwapchainImage() bool { return s.swapchain }

// SetSwapchainImage marks the image as a presentable surface image.
func (s *ImageStorage) SetSwapchainImage(v bool) { s.swapchain = v }

// WaitSemaphore is waited on before the image's first use in a frame.
func (s *ImageStorage) WaitSemaphore() *Semaphore { return s.waitSem }

// SignalSemaphore is signaled after the image's last use in a frame.
func (s *ImageStorage) SignalSemaphore() *Semaphore { return s.signalSem }

// SetSemaphores replaces the image's wait and signal semaphores.
func (s *ImageStorage) SetSemaphores(wait, signal *Semaphore) {
	s.waitSem = wait
	s.signalSem = signal
}

// View returns the cached view for info, if one exists.
func (s *ImageStorage) View(info ImageViewInfo) (*ImageView, bool) {
	v, ok := s.views[info]
	return v, ok
}

// Views returns the number of live views.
func (s *ImageStorage) Views() int { return len(s.views) }

// IsReady reports whether the image content may be used.
func (s *ImageStorage) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetReady updates readiness. Becoming ready, or failing, runs every callback
// registered with WaitReady exactly once.
func (s *ImageStorage) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	waiters := s.readyWaiters
	s.readyWaiters = nil
	s.mu.Unlock()

	if len(waiters) == 0 {
		return
	}
	for _, fn := range waiters {
		fn(ready)
	}
}

// Invalidate fails every pending WaitReady callback without changing
// readiness.
func (s *ImageStorage) Invalidate() {
	s.mu.Lock()
	waiters := s.readyWaiters
	s.readyWaiters = nil
	s.mu.Unlock()

	for _, fn := range waiters {
		fn(false)
	}
}

// WaitReady registers fn to run when the image becomes ready. It returns
// false and does not register fn if the image is already ready.
func (s *ImageStorage) WaitReady(fn func(ok bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return false
	}
	s.readyWaiters = append(s.readyWaiters, fn)
	return true
}

// rearmSemaphores prepares the image for another frame: the semaphore
// signaled by the previous frame becomes the one the next frame waits on,
// and the one it waited on goes back through release.
func (s *ImageStorage) rearmSemaphores(acquire func() *Semaphore, release func(*Semaphore)) {
	s.releaseSem = release
	prevWait := s.waitSem
	s.waitSem = s.signalSem
	s.signalSem = nil

	s.dropSemaphore(prevWait)
	if s.waitSem != nil && !s.waitSem.IsSignaled() {
		// nothing was signaled, so there is nothing to wait for
		s.dropSemaphore(s.waitSem)
		s.waitSem = nil
	}
	if acquire != nil {
		s.signalSem = acquire()
	}
}

func (s *ImageStorage) dropSemaphore(sem *Semaphore) {
	if sem != nil && s.releaseSem != nil {
		s.releaseSem(sem)
	}
}

func (s *ImageStorage) destroy() {
	for _, v := range s.views {
		v.destroy()
	}
	s.views = make(map[ImageViewInfo]*ImageView)
	if s.object != nil {
		s.object.Destroy()
		s.object = nil
	}
	s.dropSemaphore(s.waitSem)
	s.dropSemaphore(s.signalSem)
	s.waitSem, s.signalSem = nil, nil
	s.Invalidate()
}

// ImageView is a backend view with an engine-assigned index. View indices
// identify framebuffers in the FrameCache.
type ImageView struct {
	index  uint64
	info   ImageViewInfo
	image  *ImageStorage
	object ImageViewObject

	onDestroy func(*ImageView)
}

// Index returns the engine-assigned view index.
func (v *ImageView) Index() uint64 { return v.index }

// Info returns the view configuration.
func (v *ImageView) Info() ImageViewInfo { return v.info }

// Image returns the viewed image.
func (v *ImageView) Image() *ImageStorage { return v.image }

// Object returns the backend view.
func (v *ImageView) Object() ImageViewObject { return v.object }

func (v *ImageView) destroy() {
	if v.object == nil {
		return
	}
	v.object.Destroy()
	v.object = nil
	if v.onDestroy != nil {
		v.onDestroy(v)
	}
}

// Framebuffer is a backend framebuffer with its FrameCache identity.
type Framebuffer struct {
	key    framebufferKey
	object FramebufferObject
	extent gputypes.Extent3D
	views  []*ImageView
}

// Object returns the backend framebuffer.
func (f *Framebuffer) Object() FramebufferObject { return f.object }

// Extent returns the framebuffer extent.
func (f *Framebuffer) Extent() gputypes.Extent3D { return f.extent }

// Views returns the attached views in pass order.
func (f *Framebuffer) Views() []*ImageView { return f.views }

func (f *Framebuffer) destroy() {
	if f.object != nil {
		f.object.Destroy()
		f.object = nil
	}
}
