// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// defaultFamily is the only queue family a Device exposes. The HAL gives
// out one queue that accepts every kind of work.
var defaultFamily = framegraph.QueueFamilyInfo{
	Index: 0,
	Count: 1,
	Flags: framegraph.QueueGraphics | framegraph.QueueCompute | framegraph.QueueTransfer | framegraph.QueuePresent,
}

// Device implements framegraph.Device on a HAL device.
//
// Device is safe for concurrent use.
type Device struct {
	hal   hal.Device
	queue *queue

	// release tears down what the Device opened itself. Nil for devices
	// borrowed from a provider.
	release func()

	log *slog.Logger

	closed atomic.Bool
	live   objectCounts
}

// Stats is a snapshot of the HAL objects a Device currently holds.
type Stats struct {
	Textures     int64
	Views        int64
	Framebuffers int64
	Encoders     int64
	QuerySets    int64
	Fences       int64
	Semaphores   int64
	Programs     int64
	Submissions  uint64
	Completed    uint64
}

type objectCounts struct {
	textures     atomic.Int64
	views        atomic.Int64
	framebuffers atomic.Int64
	encoders     atomic.Int64
	querySets    atomic.Int64
	fences       atomic.Int64
	semaphores   atomic.Int64
	programs     atomic.Int64
}

// New wraps an open HAL device and its queue. The caller keeps ownership:
// Close does not destroy them.
func New(device hal.Device, q hal.Queue) (*Device, error) {
	if device == nil || q == nil {
		return nil, ErrUnsupportedProvider
	}
	return newDevice(device, q, nil), nil
}

// halDeviceHolder is implemented by *wgpu.Device.
type halDeviceHolder interface {
	HalDevice() hal.Device
}

// halQueueHolder is implemented by *wgpu.Queue.
type halQueueHolder interface {
	HalQueue() hal.Queue
}

// NewFromProvider makes a Device from the device and queue of an
// application's provider. The provider keeps ownership of both.
func NewFromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	if p == nil {
		return nil, ErrUnsupportedProvider
	}
	dh, ok := p.Device().(halDeviceHolder)
	if !ok {
		return nil, fmt.Errorf("%w: device %T", ErrUnsupportedProvider, p.Device())
	}
	qh, ok := p.Queue().(halQueueHolder)
	if !ok {
		return nil, fmt.Errorf("%w: queue %T", ErrUnsupportedProvider, p.Queue())
	}
	d, err := New(dh.HalDevice(), qh.HalQueue())
	if err != nil {
		return nil, err
	}
	d.log.Info("native: device from provider", "surface_format", p.SurfaceFormat())
	return d, nil
}

// NewNoop opens a Device on the noop HAL backend. Every submission on it
// completes immediately and no GPU is touched.
func NewNoop() (*Device, error) {
	instance, err := noop.API{}.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("native: create noop instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	exposed := adapters[0]
	open, err := exposed.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open %s: %w", exposed.Info.Name, err)
	}

	d := newDevice(open.Device, open.Queue, func() {
		open.Device.Destroy()
		exposed.Adapter.Destroy()
		instance.Destroy()
	})
	d.log.Info("native: noop device opened", "adapter", exposed.Info.Name)
	return d, nil
}

func newDevice(device hal.Device, q hal.Queue, release func()) *Device {
	d := &Device{
		hal:     device,
		release: release,
		log:     framegraph.Logger().With("backend", "native"),
	}
	d.queue = &queue{dev: d, hal: q}
	return d
}

// HAL returns the wrapped HAL device.
func (d *Device) HAL() hal.Device { return d.hal }

// Stats returns the live object counts of the device.
func (d *Device) Stats() Stats {
	return Stats{
		Textures:     d.live.textures.Load(),
		Views:        d.live.views.Load(),
		Framebuffers: d.live.framebuffers.Load(),
		Encoders:     d.live.encoders.Load(),
		QuerySets:    d.live.querySets.Load(),
		Fences:       d.live.fences.Load(),
		Semaphores:   d.live.semaphores.Load(),
		Programs:     d.live.programs.Load(),
		Submissions:  d.queue.submitted(),
		Completed:    d.queue.hal.PollCompleted(),
	}
}

// Close waits for the device to go idle and releases what NewNoop opened.
// Objects still held by the engine must be destroyed first.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := d.hal.WaitIdle()
	d.queue.destroy()
	if d.release != nil {
		d.release()
	}
	if err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	return nil
}

func (d *Device) checkOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

// QueueFamilies implements framegraph.Device.
func (d *Device) QueueFamilies() []framegraph.QueueFamilyInfo {
	return []framegraph.QueueFamilyInfo{defaultFamily}
}

// MakeQueue implements framegraph.Device. Every index of the family shares
// the HAL queue.
func (d *Device) MakeQueue(family, index uint32) (framegraph.QueueObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if family != defaultFamily.Index || index >= defaultFamily.Count {
		return nil, fmt.Errorf("%w: %d/%d", ErrNoQueueFamily, family, index)
	}
	return d.queue, nil
}

// MakeFence implements framegraph.Device.
func (d *Device) MakeFence() (framegraph.FenceObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	d.live.fences.Add(1)
	return &fence{dev: d}, nil
}

// MakeSemaphore implements framegraph.Device.
func (d *Device) MakeSemaphore() (framegraph.SemaphoreObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	d.live.semaphores.Add(1)
	return &semaphore{dev: d}, nil
}

// MakeQueryPool implements framegraph.Device.
func (d *Device) MakeQueryPool(family uint32, info framegraph.QueryPoolInfo) (framegraph.QueryPoolObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if family != defaultFamily.Index {
		return nil, fmt.Errorf("%w: %d", ErrNoQueueFamily, family)
	}
	var typ hal.QueryType
	switch info.Type {
	case framegraph.QueryTimestamp:
		typ = hal.QueryTypeTimestamp
	case framegraph.QueryOcclusion:
		typ = hal.QueryTypeOcclusion
	default:
		return nil, fmt.Errorf("native: query type %d not supported by the HAL", info.Type)
	}
	set, err := d.hal.CreateQuerySet(&hal.QuerySetDescriptor{
		Label: "framegraph query pool",
		Type:  typ,
		Count: info.Count,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create query set: %w", err)
	}
	d.live.querySets.Add(1)
	return &querySet{dev: d, hal: set}, nil
}

type querySet struct {
	dev  *Device
	hal  hal.QuerySet
	once sync.Once
}

func (q *querySet) Destroy() {
	q.once.Do(func() {
		q.dev.hal.DestroyQuerySet(q.hal)
		q.dev.live.querySets.Add(-1)
	})
}
