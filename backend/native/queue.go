// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// fenceWaitStep is how often a blocking fence wait polls the queue.
const fenceWaitStep = 100 * time.Microsecond

// queue serializes submissions to the HAL queue.
type queue struct {
	dev *Device
	hal hal.Queue

	mu       sync.Mutex
	barriers []hal.CommandEncoder
	last     uint64
}

func (q *queue) submitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

// Submit implements framegraph.QueueObject. Layout transitions requested
// in fs are recorded into a barrier buffer submitted ahead of buffers.
func (q *queue) Submit(fs *framegraph.FrameSync, fo framegraph.FenceObject, buffers []framegraph.CommandBuffer) error {
	if err := q.dev.checkOpen(); err != nil {
		return err
	}
	f, ok := fo.(*fence)
	if fo != nil && (!ok || f.dev != q.dev) {
		return fmt.Errorf("%w: fence %T", ErrForeignObject, fo)
	}

	cmds := make([]hal.CommandBuffer, 0, len(buffers)+1)
	for _, b := range buffers {
		cb, ok := b.(hal.CommandBuffer)
		if !ok {
			return fmt.Errorf("%w: command buffer %T", ErrForeignObject, b)
		}
		cmds = append(cmds, cb)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var barrier *recording
	if fs != nil {
		r, err := q.recordTransitions(fs.Images)
		if err != nil {
			return err
		}
		if r != nil {
			barrier = r
			cmds = append([]hal.CommandBuffer{r.buffer}, cmds...)
		}
	}

	index, err := q.hal.Submit(cmds)
	if err != nil {
		if barrier != nil {
			q.freeRecording(*barrier)
		}
		if errors.Is(err, hal.ErrDeviceLost) {
			return fmt.Errorf("%w: %w", framegraph.ErrDeviceLost, err)
		}
		return fmt.Errorf("native: submit: %w", err)
	}
	q.last = index

	if fs != nil {
		for _, a := range fs.SignalAttachments {
			if a.Semaphore == nil {
				continue
			}
			if s, ok := a.Semaphore.Object().(*semaphore); ok {
				s.signalAt(index)
			}
		}
	}
	if f != nil {
		f.arm(index, barrier)
	} else if barrier != nil {
		q.dev.log.Debug("native: barrier buffer submitted without a fence", "index", index)
	}
	return nil
}

// recordTransitions records the usage transitions of images. Called with
// q.mu held.
func (q *queue) recordTransitions(images []framegraph.FrameSyncImage) (*recording, error) {
	var barriers []hal.TextureBarrier
	for _, it := range images {
		if it.Image == nil {
			continue
		}
		img, ok := it.Image.Object().(*image)
		if !ok || img.dev != q.dev {
			continue
		}
		usage, ok := layoutUsage(it.NewLayout)
		if !ok || usage == img.usage {
			continue
		}
		barriers = append(barriers, hal.TextureBarrier{
			Texture: img.hal,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
			Usage:   hal.TextureUsageTransition{OldUsage: img.usage, NewUsage: usage},
		})
		img.usage = usage
	}
	if len(barriers) == 0 {
		return nil, nil
	}

	var enc hal.CommandEncoder
	if n := len(q.barriers); n > 0 {
		enc = q.barriers[n-1]
		q.barriers = q.barriers[:n-1]
	} else {
		var err error
		enc, err = q.dev.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "framegraph barriers"})
		if err != nil {
			return nil, fmt.Errorf("native: create barrier encoder: %w", err)
		}
		q.dev.live.encoders.Add(1)
	}
	if err := enc.BeginEncoding("framegraph barriers"); err != nil {
		q.barriers = append(q.barriers, enc)
		return nil, fmt.Errorf("native: begin barriers: %w", err)
	}
	enc.TransitionTextures(barriers)
	buf, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		q.barriers = append(q.barriers, enc)
		return nil, fmt.Errorf("native: end barriers: %w", err)
	}
	return &recording{encoder: enc, buffer: buf}, nil
}

// freeRecording returns a finished barrier recording to the queue. Called
// with q.mu held.
func (q *queue) freeRecording(r recording) {
	r.encoder.ResetAll([]hal.CommandBuffer{r.buffer})
	q.dev.hal.FreeCommandBuffer(r.buffer)
	q.barriers = append(q.barriers, r.encoder)
}

// destroy frees the pooled barrier encoders.
func (q *queue) destroy() {
	q.mu.Lock()
	encs := q.barriers
	q.barriers = nil
	q.mu.Unlock()
	for _, enc := range encs {
		enc.Destroy()
		q.dev.live.encoders.Add(-1)
	}
}

func (q *queue) releaseBarrier(r recording) {
	q.mu.Lock()
	q.freeRecording(r)
	q.mu.Unlock()
}

// fence completes when the HAL queue reports its submission index done.
type fence struct {
	dev *Device

	mu      sync.Mutex
	index   uint64
	barrier *recording
	gone    bool
}

func (f *fence) arm(index uint64, barrier *recording) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = index
	f.barrier = barrier
}

// Wait implements framegraph.FenceObject. A fence never submitted reports
// done.
func (f *fence) Wait(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	index, gone := f.index, f.gone
	f.mu.Unlock()
	if gone {
		return false, ErrClosed
	}
	if index == 0 {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		if f.dev.closed.Load() {
			return false, fmt.Errorf("%w: %w", framegraph.ErrDeviceLost, ErrClosed)
		}
		if f.dev.queue.hal.PollCompleted() >= index {
			return true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(fenceWaitStep)
	}
}

// Reset implements framegraph.FenceObject. The barrier buffer of the last
// submission is recycled.
func (f *fence) Reset() error {
	f.mu.Lock()
	barrier := f.barrier
	f.barrier = nil
	f.index = 0
	f.mu.Unlock()
	if barrier != nil {
		f.dev.queue.releaseBarrier(*barrier)
	}
	return nil
}

func (f *fence) Destroy() {
	f.mu.Lock()
	if f.gone {
		f.mu.Unlock()
		return
	}
	f.gone = true
	f.mu.Unlock()
	f.Reset()
	f.dev.live.fences.Add(-1)
}

// semaphore records the submission index that last signaled it. Waits need
// no HAL object: every submission goes to the same queue in order.
type semaphore struct {
	dev *Device

	mu     sync.Mutex
	signal uint64
	once   sync.Once
}

func (s *semaphore) signalAt(index uint64) {
	s.mu.Lock()
	s.signal = index
	s.mu.Unlock()
}

// SignalIndex returns the submission index that last signaled the
// semaphore, or 0.
func (s *semaphore) SignalIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal
}

func (s *semaphore) Destroy() {
	s.once.Do(func() {
		s.dev.live.semaphores.Add(-1)
	})
}
