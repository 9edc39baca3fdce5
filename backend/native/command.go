// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/wgpu/hal"
)

type recording struct {
	encoder hal.CommandEncoder
	buffer  hal.CommandBuffer
}

// commandPool records framegraph command buffers with pooled HAL encoders.
// An encoder is closed after EndEncoding and only reused after Reset, once
// the engine knows its buffers finished executing.
type commandPool struct {
	dev    *Device
	family uint32
	flags  framegraph.QueueFlags

	mu        sync.Mutex
	free      []hal.CommandEncoder
	recorded  []recording
	destroyed bool
}

// MakeCommandPool implements framegraph.Device.
func (d *Device) MakeCommandPool(family uint32, flags framegraph.QueueFlags) (framegraph.CommandPoolObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if family != defaultFamily.Index {
		return nil, fmt.Errorf("%w: %d", ErrNoQueueFamily, family)
	}
	return &commandPool{dev: d, family: family, flags: flags}, nil
}

func (p *commandPool) acquire() (hal.CommandEncoder, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		enc := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return enc, nil
	}
	p.mu.Unlock()

	enc, err := p.dev.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "framegraph pool"})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	p.dev.live.encoders.Add(1)
	return enc, nil
}

func (p *commandPool) release(enc hal.CommandEncoder) {
	p.mu.Lock()
	p.free = append(p.free, enc)
	p.mu.Unlock()
}

// Record implements framegraph.CommandPoolObject. fn receives the
// hal.CommandEncoder in recording state.
func (p *commandPool) Record(label string, fn func(encoder any) error) (framegraph.CommandBuffer, error) {
	if err := p.dev.checkOpen(); err != nil {
		return nil, err
	}
	enc, err := p.acquire()
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding(label); err != nil {
		p.release(enc)
		return nil, fmt.Errorf("native: begin %q: %w", label, err)
	}
	if fn != nil {
		if err := fn(enc); err != nil {
			enc.DiscardEncoding()
			p.release(enc)
			return nil, err
		}
	}
	buf, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		p.release(enc)
		return nil, fmt.Errorf("native: end %q: %w", label, err)
	}

	p.mu.Lock()
	p.recorded = append(p.recorded, recording{encoder: enc, buffer: buf})
	p.mu.Unlock()
	return buf, nil
}

// Reset implements framegraph.CommandPoolObject.
func (p *commandPool) Reset() error {
	p.mu.Lock()
	recorded := p.recorded
	p.recorded = nil
	p.mu.Unlock()

	for _, r := range recorded {
		r.encoder.ResetAll([]hal.CommandBuffer{r.buffer})
		p.dev.hal.FreeCommandBuffer(r.buffer)
		p.release(r.encoder)
	}
	return nil
}

// Destroy implements framegraph.Object.
func (p *commandPool) Destroy() {
	p.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	for _, enc := range p.free {
		enc.Destroy()
		p.dev.live.encoders.Add(-1)
	}
	p.free = nil
}
