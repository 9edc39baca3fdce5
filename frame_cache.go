// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/internal/cache"
)

// framebufferKey is the structural identity of a framebuffer: the render
// pass index, the packed extent and the sorted view indices.
type framebufferKey struct {
	pass   uint64
	extent uint64
	views  string
}

func packExtent(e gputypes.Extent3D) uint64 {
	return uint64(e.DepthOrArrayLayers)<<48 | uint64(e.Height)<<24 | uint64(e.Width)
}

func makeFramebufferKey(pass uint64, extent gputypes.Extent3D, views []*ImageView) framebufferKey {
	ids := make([]uint64, len(views))
	for i, v := range views {
		ids[i] = v.index
	}
	slices.Sort(ids)
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], id)
	}
	return framebufferKey{pass: pass, extent: packExtent(extent), views: string(buf)}
}

func (k framebufferKey) viewIDs() []uint64 {
	ids := make([]uint64, len(k.views)/8)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint64([]byte(k.views[i*8 : i*8+8]))
	}
	return ids
}

func (k framebufferKey) width() uint32  { return uint32(k.extent & 0xFFFFFF) }
func (k framebufferKey) height() uint32 { return uint32(k.extent >> 24 & 0xFFFFFF) }

// destroyer is anything the cache can drop in Clear.
type destroyer interface {
	destroy()
}

// CacheStats counts FrameCache traffic.
type CacheStats struct {
	FramebuffersCreated uint64
	FramebuffersReused  uint64
	ImagesCreated       uint64
	ImagesReused        uint64
	ImageMisses         uint64
}

// FrameCache reuses framebuffers and transient images across frames.
//
// Framebuffers are keyed by render pass, extent and view indices; a
// framebuffer stays reusable while its render pass and all its views are
// registered. Images are keyed by ImageInfo and refcounted by the
// attachments currently bound to that configuration. Objects that become
// unreachable move to an autorelease list that Clear destroys, unless the
// cache is frozen.
//
// FrameCache is safe for concurrent use.
type FrameCache struct {
	device        Device
	alloc         *allocator
	newSemaphore  func() *Semaphore
	dropSemaphore func(*Semaphore)

	mu           sync.Mutex
	framebuffers *cache.FreeList[framebufferKey, *Framebuffer]
	images       *cache.FreeList[ImageInfo, *ImageStorage]
	imageRefs    map[ImageInfo]int
	attachments  map[uint64]*ImageInfo
	imageViews   map[uint64]struct{}
	renderPasses map[uint64]struct{}
	autorelease  []destroyer
	frozen       bool

	framebuffersCreated atomic.Uint64
	framebuffersReused  atomic.Uint64
	imagesCreated       atomic.Uint64
	imagesReused        atomic.Uint64
	imageMisses         atomic.Uint64
}

func newFrameCache(device Device, alloc *allocator, newSemaphore func() *Semaphore, dropSemaphore func(*Semaphore)) *FrameCache {
	return &FrameCache{
		device:        device,
		alloc:         alloc,
		newSemaphore:  newSemaphore,
		dropSemaphore: dropSemaphore,
		framebuffers:  cache.New[framebufferKey, *Framebuffer](0),
		images:        cache.New[ImageInfo, *ImageStorage](0),
		imageRefs:     make(map[ImageInfo]int),
		attachments:   make(map[uint64]*ImageInfo),
		imageViews:    make(map[uint64]struct{}),
		renderPasses:  make(map[uint64]struct{}),
	}
}

// AcquireFramebuffer returns a cached framebuffer for pass and views, or
// creates one.
func (c *FrameCache) AcquireFramebuffer(pass *QueuePass, views []*ImageView, extent gputypes.Extent3D) (*Framebuffer, error) {
	key := makeFramebufferKey(pass.index, extent, views)
	if fb, ok := c.framebuffers.Take(key); ok {
		c.framebuffersReused.Add(1)
		return fb, nil
	}

	objects := make([]ImageViewObject, len(views))
	for i, v := range views {
		objects[i] = v.object
	}
	obj, err := c.device.MakeFramebuffer(FramebufferInfo{
		Pass:      pass.name,
		PassIndex: pass.index,
		Views:     objects,
		Extent:    extent,
	})
	if err != nil {
		return nil, fmt.Errorf("framegraph: make framebuffer for %q: %w", pass.name, err)
	}
	c.framebuffersCreated.Add(1)
	return &Framebuffer{
		key:    key,
		object: obj,
		extent: extent,
		views:  slices.Clone(views),
	}, nil
}

// ReleaseFramebuffer returns fb to the cache if it is still reachable.
func (c *FrameCache) ReleaseFramebuffer(fb *Framebuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isReachableLocked(fb.key) {
		c.autorelease = append(c.autorelease, fb)
		return
	}
	for _, ev := range c.framebuffers.Put(fb.key, fb) {
		c.autorelease = append(c.autorelease, ev)
	}
}

// AcquireImage returns an image for attachment with the given configuration
// and views. Images of attachments registered with AddAttachment come from
// the cache; other images, and images hinted HintDoNotCache, are created
// fresh and destroyed on release.
func (c *FrameCache) AcquireImage(attachment uint64, info ImageInfo, views []ImageViewInfo) (*ImageStorage, error) {
	info = info.normalized()

	c.mu.Lock()
	bound, registered := c.attachments[attachment]
	cacheable := registered && info.Hints&HintDoNotCache == 0
	var img *ImageStorage
	if cacheable {
		switch {
		case bound == nil:
			c.addImageLocked(info)
			c.attachments[attachment] = &info
		case *bound != info:
			c.removeImageLocked(*bound)
			c.addImageLocked(info)
			c.attachments[attachment] = &info
		}
		img, _ = c.images.Take(info)
	}
	c.mu.Unlock()

	if img != nil {
		c.imagesReused.Add(1)
	} else {
		obj, err := c.device.MakeImage(info)
		if err != nil {
			return nil, fmt.Errorf("framegraph: make image: %w", err)
		}
		c.imagesCreated.Add(1)
		img = NewImageStorage(obj, info)
		img.cacheable = cacheable
	}

	img.rearmSemaphores(c.newSemaphore, c.dropSemaphore)
	if err := c.makeViews(img, views); err != nil {
		c.ReleaseImage(img)
		return nil, err
	}
	return img, nil
}

// ReleaseImage returns img to the cache, or destroys it if it is not
// cacheable.
func (c *FrameCache) ReleaseImage(img *ImageStorage) {
	if !img.cacheable {
		img.destroy()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imageRefs[img.info] == 0 {
		c.imageMisses.Add(1)
		slogger().Warn("framegraph: release image: cache miss",
			"width", img.info.Extent.Width, "height", img.info.Extent.Height, "format", img.info.Format)
		c.autorelease = append(c.autorelease, img)
		return
	}
	for _, ev := range c.images.Put(img.info, img) {
		c.autorelease = append(c.autorelease, ev)
	}
}

// View returns the view of img for info, creating it on first use.
func (c *FrameCache) View(img *ImageStorage, info ImageViewInfo) (*ImageView, error) {
	if v, ok := img.View(info); ok {
		return v, nil
	}
	if err := c.makeViews(img, []ImageViewInfo{info}); err != nil {
		return nil, err
	}
	v, _ := img.View(info)
	return v, nil
}

func (c *FrameCache) makeViews(img *ImageStorage, views []ImageViewInfo) error {
	for _, info := range views {
		if _, ok := img.views[info]; ok {
			continue
		}
		obj, err := c.device.MakeImageView(img.object, info)
		if err != nil {
			return fmt.Errorf("framegraph: make image view: %w", err)
		}
		v := &ImageView{
			index:     c.alloc.views.Add(1),
			info:      info,
			image:     img,
			object:    obj,
			onDestroy: func(v *ImageView) { c.RemoveImageView(v.index) },
		}
		c.AddImageView(v.index)
		img.views[info] = v
	}
	return nil
}

// AddImageView registers a live view index.
func (c *FrameCache) AddImageView(id uint64) {
	c.mu.Lock()
	c.imageViews[id] = struct{}{}
	c.mu.Unlock()
}

// RemoveImageView unregisters a view and sweeps framebuffers that used it.
func (c *FrameCache) RemoveImageView(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.imageViews[id]; !ok {
		return
	}
	delete(c.imageViews, id)
	c.sweepLocked()
}

// AddRenderPass registers a render pass index.
func (c *FrameCache) AddRenderPass(id uint64) {
	c.mu.Lock()
	c.renderPasses[id] = struct{}{}
	c.mu.Unlock()
}

// RemoveRenderPass unregisters a render pass and sweeps its framebuffers.
func (c *FrameCache) RemoveRenderPass(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.renderPasses[id]; !ok {
		return
	}
	delete(c.renderPasses, id)
	c.sweepLocked()
}

// AddAttachment makes images of the attachment cacheable. The image
// configuration is bound on first acquisition.
func (c *FrameCache) AddAttachment(id uint64) {
	c.mu.Lock()
	if _, ok := c.attachments[id]; !ok {
		c.attachments[id] = nil
	}
	c.mu.Unlock()
}

// RemoveAttachment drops the attachment's reference on its image
// configuration.
func (c *FrameCache) RemoveAttachment(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bound, ok := c.attachments[id]
	if !ok {
		return
	}
	if bound != nil {
		c.removeImageLocked(*bound)
	}
	delete(c.attachments, id)
}

func (c *FrameCache) addImageLocked(info ImageInfo) {
	c.imageRefs[info]++
}

func (c *FrameCache) removeImageLocked(info ImageInfo) {
	n, ok := c.imageRefs[info]
	if !ok {
		return
	}
	if n > 1 {
		c.imageRefs[info] = n - 1
		return
	}
	delete(c.imageRefs, info)
	for _, img := range c.images.Remove(info) {
		c.autorelease = append(c.autorelease, img)
	}
}

// IsReachable reports whether the framebuffer identified by pass, extent and
// views could still be reused.
func (c *FrameCache) IsReachable(pass uint64, extent gputypes.Extent3D, views []*ImageView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isReachableLocked(makeFramebufferKey(pass, extent, views))
}

// IsImageReachable reports whether some attachment still references info.
func (c *FrameCache) IsImageReachable(info ImageInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageRefs[info.normalized()] > 0
}

func (c *FrameCache) isReachableLocked(key framebufferKey) bool {
	if _, ok := c.renderPasses[key.pass]; !ok {
		return false
	}
	for _, id := range key.viewIDs() {
		if _, ok := c.imageViews[id]; !ok {
			return false
		}
	}
	return true
}

func (c *FrameCache) sweepLocked() {
	for _, fb := range c.framebuffers.RemoveFunc(func(k framebufferKey) bool {
		return !c.isReachableLocked(k)
	}) {
		c.autorelease = append(c.autorelease, fb)
	}
}

// RemoveUnreachableFramebuffers drops idle framebuffers that are unreachable
// or whose extent no longer matches any cached image configuration.
func (c *FrameCache) RemoveUnreachableFramebuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, fb := range c.framebuffers.RemoveFunc(func(k framebufferKey) bool {
		if !c.isReachableLocked(k) {
			return true
		}
		for info := range c.imageRefs {
			if info.Extent.Width == k.width() && info.Extent.Height == k.height() {
				return false
			}
		}
		return true
	}) {
		c.autorelease = append(c.autorelease, fb)
	}
}

// Clear destroys every autoreleased object unless the cache is frozen.
func (c *FrameCache) Clear() {
	for {
		c.mu.Lock()
		if c.frozen || len(c.autorelease) == 0 {
			c.mu.Unlock()
			return
		}
		list := c.autorelease
		c.autorelease = nil
		c.mu.Unlock()

		// destroying images removes their views, which may sweep more
		// framebuffers into the autorelease list
		for _, it := range list {
			it.destroy()
		}
	}
}

// Freeze defers Clear until Unfreeze.
func (c *FrameCache) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Unfreeze re-enables Clear and drains the autorelease list.
func (c *FrameCache) Unfreeze() {
	c.mu.Lock()
	c.frozen = false
	c.mu.Unlock()
	c.Clear()
}

// purge destroys every idle object regardless of reachability.
func (c *FrameCache) purge() {
	c.mu.Lock()
	for _, fb := range c.framebuffers.Clear() {
		c.autorelease = append(c.autorelease, fb)
	}
	for _, img := range c.images.Clear() {
		c.autorelease = append(c.autorelease, img)
	}
	c.frozen = false
	c.mu.Unlock()
	c.Clear()
}

// FramebuffersCount returns the number of idle framebuffers.
func (c *FrameCache) FramebuffersCount() int { return c.framebuffers.Total() }

// ImagesCount returns the number of idle images.
func (c *FrameCache) ImagesCount() int { return c.images.Total() }

// ImageViewsCount returns the number of registered views.
func (c *FrameCache) ImageViewsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.imageViews)
}

// AutoreleaseCount returns the number of objects waiting for Clear.
func (c *FrameCache) AutoreleaseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.autorelease)
}

// Stats returns cache counters.
func (c *FrameCache) Stats() CacheStats {
	return CacheStats{
		FramebuffersCreated: c.framebuffersCreated.Load(),
		FramebuffersReused:  c.framebuffersReused.Load(),
		ImagesCreated:       c.imagesCreated.Load(),
		ImagesReused:        c.imagesReused.Load(),
		ImageMisses:         c.imageMisses.Load(),
	}
}
