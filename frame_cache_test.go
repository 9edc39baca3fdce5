// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func newTestCache(t *testing.T) (*FrameCache, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	var alloc allocator
	return newFrameCache(dev, &alloc, nil, nil), dev
}

func sizedImage(w, h uint32) ImageInfo {
	return colorImage().withExtent(gputypes.Extent3D{Width: w, Height: h})
}

func TestFrameCache_ImageReuse(t *testing.T) {
	c, dev := newTestCache(t)
	c.AddAttachment(1)
	info := sizedImage(64, 32)

	img, err := c.AcquireImage(1, info, nil)
	if err != nil {
		t.Fatalf("AcquireImage() error = %v", err)
	}
	c.ReleaseImage(img)
	if c.ImagesCount() != 1 {
		t.Fatalf("ImagesCount() = %d, want 1", c.ImagesCount())
	}

	again, err := c.AcquireImage(1, info, nil)
	if err != nil {
		t.Fatal(err)
	}
	if again != img {
		t.Error("cached image not reused")
	}
	if got := dev.Created("image"); got != 1 {
		t.Errorf("images created = %d, want 1", got)
	}
	s := c.Stats()
	if s.ImagesCreated != 1 || s.ImagesReused != 1 {
		t.Errorf("Stats() created = %d, reused = %d, want 1 and 1", s.ImagesCreated, s.ImagesReused)
	}
}

func TestFrameCache_UnregisteredImageDestroyed(t *testing.T) {
	c, dev := newTestCache(t)

	img, err := c.AcquireImage(5, sizedImage(16, 16), nil)
	if err != nil {
		t.Fatal(err)
	}
	c.ReleaseImage(img)
	if c.ImagesCount() != 0 {
		t.Errorf("ImagesCount() = %d, want 0", c.ImagesCount())
	}
	if got := dev.Destroyed("image"); got != 1 {
		t.Errorf("images destroyed = %d, want 1", got)
	}
}

func TestFrameCache_DoNotCacheHint(t *testing.T) {
	c, dev := newTestCache(t)
	c.AddAttachment(1)
	info := sizedImage(16, 16)
	info.Hints |= HintDoNotCache

	img, err := c.AcquireImage(1, info, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.ReleaseImage(img)
	if got := dev.Destroyed("image"); got != 1 {
		t.Errorf("images destroyed = %d, want 1", got)
	}
}

func TestFrameCache_ResizeDropsOldImages(t *testing.T) {
	c, dev := newTestCache(t)
	c.AddAttachment(1)
	small, large := sizedImage(16, 16), sizedImage(32, 32)

	img, _ := c.AcquireImage(1, small, nil)
	c.ReleaseImage(img)
	if !c.IsImageReachable(small) {
		t.Fatal("bound configuration not reachable")
	}

	img, _ = c.AcquireImage(1, large, nil)
	if c.IsImageReachable(small) {
		t.Error("old configuration still reachable after rebinding")
	}
	if c.AutoreleaseCount() != 1 {
		t.Errorf("AutoreleaseCount() = %d, want 1", c.AutoreleaseCount())
	}
	c.Clear()
	if got := dev.Destroyed("image"); got != 1 {
		t.Errorf("images destroyed = %d, want 1", got)
	}
	c.ReleaseImage(img)

	c.RemoveAttachment(1)
	c.Clear()
	if got := dev.Destroyed("image"); got != 2 {
		t.Errorf("images destroyed after RemoveAttachment = %d, want 2", got)
	}
}

func TestFrameCache_ReleaseMiss(t *testing.T) {
	c, _ := newTestCache(t)
	c.AddAttachment(1)
	img, _ := c.AcquireImage(1, sizedImage(8, 8), nil)

	c.RemoveAttachment(1)
	c.ReleaseImage(img)
	if got := c.Stats().ImageMisses; got != 1 {
		t.Errorf("ImageMisses = %d, want 1", got)
	}
	if c.ImagesCount() != 0 {
		t.Errorf("ImagesCount() = %d, want 0", c.ImagesCount())
	}
}

func TestFrameCache_Views(t *testing.T) {
	c, dev := newTestCache(t)
	info := sizedImage(8, 8)
	vi := ImageViewInfo{Format: info.Format, LayerCount: 1, MipCount: 1}

	img, err := c.AcquireImage(0, info, []ImageViewInfo{vi})
	if err != nil {
		t.Fatal(err)
	}
	v1, err := c.View(img, vi)
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := c.View(img, vi)
	if v1 != v2 {
		t.Error("View() created a second view for the same info")
	}
	if c.ImageViewsCount() != 1 || dev.Created("view") != 1 {
		t.Errorf("views = %d, created = %d, want 1 and 1", c.ImageViewsCount(), dev.Created("view"))
	}

	c.ReleaseImage(img)
	if c.ImageViewsCount() != 0 {
		t.Errorf("ImageViewsCount() after destroy = %d, want 0", c.ImageViewsCount())
	}
}

func TestFrameCache_Framebuffers(t *testing.T) {
	c, dev := newTestCache(t)
	pass := &QueuePass{name: "main", index: 3}
	c.AddRenderPass(pass.index)

	info := sizedImage(64, 32)
	vi := ImageViewInfo{Format: info.Format, LayerCount: 1, MipCount: 1}
	img, _ := c.AcquireImage(0, info, []ImageViewInfo{vi})
	view, _ := img.View(vi)

	fb, err := c.AcquireFramebuffer(pass, []*ImageView{view}, info.Extent)
	if err != nil {
		t.Fatalf("AcquireFramebuffer() error = %v", err)
	}
	if !c.IsReachable(pass.index, info.Extent, []*ImageView{view}) {
		t.Fatal("IsReachable() = false with pass and view registered")
	}
	c.ReleaseFramebuffer(fb)

	again, _ := c.AcquireFramebuffer(pass, []*ImageView{view}, info.Extent)
	if again != fb {
		t.Error("framebuffer not reused")
	}
	if got := dev.Created("framebuffer"); got != 1 {
		t.Errorf("framebuffers created = %d, want 1", got)
	}
	c.ReleaseFramebuffer(again)

	// destroying the view makes the framebuffer unreachable
	c.ReleaseImage(img)
	if c.FramebuffersCount() != 0 {
		t.Errorf("FramebuffersCount() = %d, want 0", c.FramebuffersCount())
	}
	c.Clear()
	if got := dev.Destroyed("framebuffer"); got != 1 {
		t.Errorf("framebuffers destroyed = %d, want 1", got)
	}
}

func TestFrameCache_RemoveRenderPass(t *testing.T) {
	c, dev := newTestCache(t)
	pass := &QueuePass{name: "main", index: 1}
	c.AddRenderPass(pass.index)

	fb, err := c.AcquireFramebuffer(pass, nil, testExtent)
	if err != nil {
		t.Fatal(err)
	}
	c.ReleaseFramebuffer(fb)
	c.RemoveRenderPass(pass.index)
	c.Clear()
	if c.FramebuffersCount() != 0 || dev.Destroyed("framebuffer") != 1 {
		t.Errorf("FramebuffersCount() = %d, destroyed = %d, want 0 and 1",
			c.FramebuffersCount(), dev.Destroyed("framebuffer"))
	}

	// releasing into a removed pass destroys at once
	fb, _ = c.AcquireFramebuffer(pass, nil, testExtent)
	c.ReleaseFramebuffer(fb)
	c.Clear()
	if got := dev.Destroyed("framebuffer"); got != 2 {
		t.Errorf("framebuffers destroyed = %d, want 2", got)
	}
}

func TestFrameCache_RemoveUnreachableFramebuffers(t *testing.T) {
	c, dev := newTestCache(t)
	c.AddAttachment(1)
	pass := &QueuePass{name: "main", index: 1}
	c.AddRenderPass(pass.index)

	img, _ := c.AcquireImage(1, sizedImage(64, 32), nil)
	c.ReleaseImage(img)

	keep, _ := c.AcquireFramebuffer(pass, nil, gputypes.Extent3D{Width: 64, Height: 32, DepthOrArrayLayers: 1})
	stale, _ := c.AcquireFramebuffer(pass, nil, gputypes.Extent3D{Width: 128, Height: 128, DepthOrArrayLayers: 1})
	c.ReleaseFramebuffer(keep)
	c.ReleaseFramebuffer(stale)

	c.RemoveUnreachableFramebuffers()
	c.Clear()
	if c.FramebuffersCount() != 1 {
		t.Errorf("FramebuffersCount() = %d, want 1", c.FramebuffersCount())
	}
	if got := dev.Destroyed("framebuffer"); got != 1 {
		t.Errorf("framebuffers destroyed = %d, want 1", got)
	}
}

func TestFrameCache_Freeze(t *testing.T) {
	c, dev := newTestCache(t)
	img, _ := c.AcquireImage(0, sizedImage(4, 4), nil)
	c.Freeze()

	// a miss goes to the autorelease list
	img.cacheable = true
	c.ReleaseImage(img)
	c.Clear()
	if dev.Destroyed("image") != 0 {
		t.Fatal("Clear destroyed objects while frozen")
	}
	c.Unfreeze()
	if got := dev.Destroyed("image"); got != 1 {
		t.Errorf("images destroyed after Unfreeze = %d, want 1", got)
	}
}

func TestMakeFramebufferKey(t *testing.T) {
	a := &ImageView{index: 4}
	b := &ImageView{index: 2}
	k1 := makeFramebufferKey(1, testExtent, []*ImageView{a, b})
	k2 := makeFramebufferKey(1, testExtent, []*ImageView{b, a})
	if k1 != k2 {
		t.Error("key depends on view order")
	}
	if ids := k1.viewIDs(); len(ids) != 2 || ids[0] != 2 || ids[1] != 4 {
		t.Errorf("viewIDs() = %v, want [2 4]", ids)
	}
	if k1.width() != testExtent.Width || k1.height() != testExtent.Height {
		t.Errorf("extent = %dx%d, want %dx%d", k1.width(), k1.height(), testExtent.Width, testExtent.Height)
	}
}
