// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// image is a HAL texture made for a framegraph image.
//
// usage is the texture usage the last submission left it in. It is only
// touched under the queue lock.
type image struct {
	dev  *Device
	hal  hal.Texture
	info framegraph.ImageInfo

	usage gputypes.TextureUsage

	mu        sync.Mutex
	destroyed bool
}

// Texture returns the HAL texture of a framegraph image made by a native
// Device.
func Texture(obj framegraph.ImageObject) (hal.Texture, bool) {
	img, ok := obj.(*image)
	if !ok {
		return nil, false
	}
	return img.hal, true
}

// TextureView returns the HAL view of a framegraph image view made by a
// native Device.
func TextureView(obj framegraph.ImageViewObject) (hal.TextureView, bool) {
	v, ok := obj.(*imageView)
	if !ok {
		return nil, false
	}
	return v.hal, true
}

func (i *image) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.destroyed {
		return
	}
	i.destroyed = true
	i.dev.hal.DestroyTexture(i.hal)
	i.dev.live.textures.Add(-1)
}

func (i *image) isDestroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.destroyed
}

// MakeImage implements framegraph.Device.
func (d *Device) MakeImage(info framegraph.ImageInfo) (framegraph.ImageObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidExtent, info.Extent.Width, info.Extent.Height)
	}
	desc := textureDescriptor(info)
	tex, err := d.hal.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("native: create texture %dx%d %s: %w",
			desc.Size.Width, desc.Size.Height, desc.Format, err)
	}
	d.live.textures.Add(1)
	return &image{dev: d, hal: tex, info: info}, nil
}

func textureDescriptor(info framegraph.ImageInfo) *hal.TextureDescriptor {
	depth := info.Extent.DepthOrArrayLayers
	if depth == 0 {
		depth = 1
	}
	mips := info.MipLevels
	if mips == 0 {
		mips = 1
	}
	samples := info.Samples
	if samples == 0 {
		samples = 1
	}
	usage := info.Usage
	if usage == gputypes.TextureUsageNone {
		usage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	}
	return &hal.TextureDescriptor{
		Label: "framegraph image",
		Size: hal.Extent3D{
			Width:              info.Extent.Width,
			Height:             info.Extent.Height,
			DepthOrArrayLayers: depth,
		},
		MipLevelCount: mips,
		SampleCount:   samples,
		Dimension:     gputypes.TextureDimension2D,
		Format:        info.Format,
		Usage:         usage,
	}
}

type imageView struct {
	dev   *Device
	hal   hal.TextureView
	image *image
	once  sync.Once
}

func (v *imageView) Destroy() {
	v.once.Do(func() {
		v.dev.hal.DestroyTextureView(v.hal)
		v.dev.live.views.Add(-1)
	})
}

// MakeImageView implements framegraph.Device.
func (d *Device) MakeImageView(obj framegraph.ImageObject, info framegraph.ImageViewInfo) (framegraph.ImageViewObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	img, ok := obj.(*image)
	if !ok || img.dev != d {
		return nil, fmt.Errorf("%w: image %T", ErrForeignObject, obj)
	}
	if img.isDestroyed() {
		return nil, fmt.Errorf("native: view of a destroyed image")
	}

	dim := gputypes.TextureViewDimension2D
	if info.LayerCount > 1 {
		dim = gputypes.TextureViewDimension2DArray
	}
	view, err := d.hal.CreateTextureView(img.hal, &hal.TextureViewDescriptor{
		Label:           "framegraph view",
		Format:          info.Format,
		Dimension:       dim,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    info.BaseMip,
		MipLevelCount:   info.MipCount,
		BaseArrayLayer:  info.BaseLayer,
		ArrayLayerCount: info.LayerCount,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture view: %w", err)
	}
	d.live.views.Add(1)
	return &imageView{dev: d, hal: view, image: img}, nil
}

// framebuffer is the set of views a pass renders to. The HAL binds views
// per render pass, so it owns no HAL object.
type framebuffer struct {
	dev    *Device
	pass   string
	views  []*imageView
	extent gputypes.Extent3D
	once   sync.Once
}

// Views returns the HAL views of a framebuffer made by a native Device, in
// attachment order.
func Views(obj framegraph.FramebufferObject) ([]hal.TextureView, bool) {
	fb, ok := obj.(*framebuffer)
	if !ok {
		return nil, false
	}
	views := make([]hal.TextureView, len(fb.views))
	for i, v := range fb.views {
		views[i] = v.hal
	}
	return views, true
}

func (f *framebuffer) Destroy() {
	f.once.Do(func() {
		f.dev.live.framebuffers.Add(-1)
	})
}

// MakeFramebuffer implements framegraph.Device.
func (d *Device) MakeFramebuffer(info framegraph.FramebufferInfo) (framegraph.FramebufferObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	views := make([]*imageView, 0, len(info.Views))
	for _, obj := range info.Views {
		v, ok := obj.(*imageView)
		if !ok || v.dev != d {
			return nil, fmt.Errorf("%w: view %T in framebuffer of %q", ErrForeignObject, obj, info.Pass)
		}
		views = append(views, v)
	}
	d.live.framebuffers.Add(1)
	return &framebuffer{dev: d, pass: info.Pass, views: views, extent: info.Extent}, nil
}

// layoutUsage maps an attachment layout onto the texture usage the HAL
// tracks. Layouts without a usage report false.
func layoutUsage(l framegraph.AttachmentLayout) (gputypes.TextureUsage, bool) {
	switch l {
	case framegraph.LayoutColorAttachmentOptimal,
		framegraph.LayoutDepthStencilAttachmentOptimal,
		framegraph.LayoutDepthStencilReadOnlyOptimal,
		framegraph.LayoutPresentSrc:
		return gputypes.TextureUsageRenderAttachment, true
	case framegraph.LayoutShaderReadOnlyOptimal:
		return gputypes.TextureUsageTextureBinding, true
	case framegraph.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding, true
	case framegraph.LayoutTransferSrcOptimal:
		return gputypes.TextureUsageCopySrc, true
	case framegraph.LayoutTransferDstOptimal:
		return gputypes.TextureUsageCopyDst, true
	default:
		return gputypes.TextureUsageNone, false
	}
}
