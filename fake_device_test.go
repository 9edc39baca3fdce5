// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
)

var errFake = errors.New("fake device failure")

type fakeObject struct {
	dev       *fakeDevice
	kind      string
	destroyed atomic.Bool
}

func (o *fakeObject) Destroy() {
	if o.destroyed.CompareAndSwap(false, true) {
		o.dev.countDestroy(o.kind)
	}
}

type fakeFence struct {
	*fakeObject

	mu       sync.Mutex
	signaled bool
	failWait bool

	// signalOnWait completes the fence during the first blocking wait.
	signalOnWait bool
}

func (f *fakeFence) Wait(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWait {
		return false, errFake
	}
	if timeout > 0 && f.signalOnWait {
		f.signaled = true
	}
	return f.signaled, nil
}

func (f *fakeFence) Reset() error {
	f.mu.Lock()
	f.signaled = false
	f.failWait = false
	f.mu.Unlock()
	return nil
}

func (f *fakeFence) signal() {
	f.mu.Lock()
	f.signaled = true
	f.mu.Unlock()
}

type fakeCommandPool struct {
	*fakeObject
}

func (p *fakeCommandPool) Record(label string, fn func(encoder any) error) (CommandBuffer, error) {
	if err := fn(label); err != nil {
		return nil, err
	}
	return label, nil
}

func (p *fakeCommandPool) Reset() error { return nil }

type fakeQueue struct {
	dev    *fakeDevice
	family uint32
	index  uint32
}

func (q *fakeQueue) Submit(sync *FrameSync, fence FenceObject, buffers []CommandBuffer) error {
	return q.dev.submit(sync, fence.(*fakeFence), buffers)
}

// fakeDevice is a scripted Device. Fences signal on submit unless
// manualFences is set; then the test signals them with signalFences.
type fakeDevice struct {
	families []QueueFamilyInfo

	mu           sync.Mutex
	created      map[string]int
	destroyed    map[string]int
	submitted    []string
	waits        []int
	signals      []int
	pending      []*fakeFence
	manualFences bool
	failSubmit   bool
	failImage    bool
	failProgram  bool
}

func newFakeDevice(families ...QueueFamilyInfo) *fakeDevice {
	if len(families) == 0 {
		families = []QueueFamilyInfo{{Index: 0, Count: 2, Flags: QueueGraphics | QueueCompute | QueueTransfer}}
	}
	return &fakeDevice{
		families:  families,
		created:   make(map[string]int),
		destroyed: make(map[string]int),
	}
}

func (d *fakeDevice) object(kind string) *fakeObject {
	d.mu.Lock()
	d.created[kind]++
	d.mu.Unlock()
	return &fakeObject{dev: d, kind: kind}
}

func (d *fakeDevice) countDestroy(kind string) {
	d.mu.Lock()
	d.destroyed[kind]++
	d.mu.Unlock()
}

func (d *fakeDevice) Created(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

func (d *fakeDevice) Destroyed(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[kind]
}

func (d *fakeDevice) Submitted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.submitted...)
}

func (d *fakeDevice) setManualFences(v bool) {
	d.mu.Lock()
	d.manualFences = v
	d.mu.Unlock()
}

func (d *fakeDevice) setFailSubmit(v bool) {
	d.mu.Lock()
	d.failSubmit = v
	d.mu.Unlock()
}

// signalFences signals every fence submitted so far and returns how many.
func (d *fakeDevice) signalFences() int {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, f := range pending {
		f.signal()
	}
	return len(pending)
}

func (d *fakeDevice) pendingFences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *fakeDevice) submit(sync *FrameSync, fence *fakeFence, buffers []CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSubmit {
		return errFake
	}
	for _, b := range buffers {
		if s, ok := b.(string); ok {
			d.submitted = append(d.submitted, s)
		}
	}
	if sync != nil {
		d.waits = append(d.waits, len(sync.WaitAttachments))
		d.signals = append(d.signals, len(sync.SignalAttachments))
	}
	if d.manualFences {
		d.pending = append(d.pending, fence)
	} else {
		fence.signal()
	}
	return nil
}

func (d *fakeDevice) QueueFamilies() []QueueFamilyInfo { return d.families }

func (d *fakeDevice) MakeQueue(family, index uint32) (QueueObject, error) {
	d.mu.Lock()
	d.created["queue"]++
	d.mu.Unlock()
	return &fakeQueue{dev: d, family: family, index: index}, nil
}

func (d *fakeDevice) MakeImage(info ImageInfo) (ImageObject, error) {
	d.mu.Lock()
	fail := d.failImage
	d.mu.Unlock()
	if fail {
		return nil, errFake
	}
	return d.object("image"), nil
}

func (d *fakeDevice) MakeImageView(ImageObject, ImageViewInfo) (ImageViewObject, error) {
	return d.object("view"), nil
}

func (d *fakeDevice) MakeFramebuffer(FramebufferInfo) (FramebufferObject, error) {
	return d.object("framebuffer"), nil
}

func (d *fakeDevice) MakeCommandPool(uint32, QueueFlags) (CommandPoolObject, error) {
	return &fakeCommandPool{fakeObject: d.object("pool")}, nil
}

func (d *fakeDevice) MakeQueryPool(uint32, QueryPoolInfo) (QueryPoolObject, error) {
	return d.object("query"), nil
}

func (d *fakeDevice) MakeFence() (FenceObject, error) {
	return &fakeFence{fakeObject: d.object("fence")}, nil
}

func (d *fakeDevice) MakeSemaphore() (SemaphoreObject, error) {
	return d.object("semaphore"), nil
}

func (d *fakeDevice) MakeProgram(ProgramInfo) (ProgramObject, error) {
	d.mu.Lock()
	fail := d.failProgram
	d.mu.Unlock()
	if fail {
		return nil, errFake
	}
	return d.object("program"), nil
}

// newTestLoop returns a Poll-driven loop shut down with the test.
func newTestLoop(t *testing.T, dev Device, opts ...LoopOption) *Loop {
	t.Helper()
	opts = append([]LoopOption{WithWorkers(2), WithFenceStallTimeout(time.Hour)}, opts...)
	l, err := NewLoop(dev, opts...)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	t.Cleanup(l.Shutdown)
	return l
}

// pollUntil polls l until cond holds.
func pollUntil(t *testing.T, l *Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for loop condition")
		}
		if l.Poll() == 0 {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

// runFrame starts a frame for req and polls l until it finished.
func runFrame(t *testing.T, l *Loop, req *FrameRequest) *FrameHandle {
	t.Helper()
	var frame *FrameHandle
	if err := l.RunFrame(req, func(f *FrameHandle) { frame = f }); err != nil {
		t.Fatalf("RunFrame() error = %v", err)
	}
	pollUntil(t, l, func() bool { return frame != nil && frame.IsCompleted() })
	return frame
}

// stateLog records observed transitions. It is only touched on the loop
// goroutine, which in Poll-driven tests is the test goroutine.
type stateLog struct {
	events []StateEvent
}

func (s *stateLog) observe(ev StateEvent) { s.events = append(s.events, ev) }

func (s *stateLog) passStates(frame uint64, pass string) []FrameRenderPassState {
	var ret []FrameRenderPassState
	for _, ev := range s.events {
		if ev.Frame == frame && ev.Pass == pass {
			ret = append(ret, ev.PassState)
		}
	}
	return ret
}

func (s *stateLog) attachmentStates(frame uint64, name string) []FrameAttachmentState {
	var ret []FrameAttachmentState
	for _, ev := range s.events {
		if ev.Frame == frame && ev.Attachment == name {
			ret = append(ret, ev.AttachmentState)
		}
	}
	return ret
}

// index returns the position of the first transition of pass into state.
func (s *stateLog) index(frame uint64, pass string, state FrameRenderPassState) int {
	for i, ev := range s.events {
		if ev.Frame == frame && ev.Pass == pass && ev.PassState == state {
			return i
		}
	}
	return -1
}

var testExtent = gputypes.Extent3D{Width: 64, Height: 32, DepthOrArrayLayers: 1}

func colorImage() ImageInfo {
	return ImageInfo{Format: gputypes.TextureFormatRGBA8Unorm}
}

// linearQueue builds A -> B -> C over two images; C writes the output.
func linearQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(QueueInfo{
		Name: "linear",
		Passes: []PassInfo{
			{Name: "A", Ordering: 1},
			{Name: "B", Ordering: 2},
			{Name: "C", Ordering: 3},
		},
		Attachments: []AttachmentInfo{
			{Name: "ab", Image: colorImage()},
			{Name: "bc", Image: colorImage()},
			{Name: "out", Image: colorImage(), Usage: UsageOutput},
		},
		Uses: []UsageInfo{
			{Pass: "A", Attachment: "ab", Usage: UsageOutput},
			{Pass: "B", Attachment: "ab", Usage: UsageInput, Dependency: AttachmentDependency{InitialUsageStage: StageFragmentShader}},
			{Pass: "B", Attachment: "bc", Usage: UsageOutput},
			{Pass: "C", Attachment: "bc", Usage: UsageInput, Dependency: AttachmentDependency{InitialUsageStage: StageFragmentShader}},
			{Pass: "C", Attachment: "out", Usage: UsageOutput},
		},
	})
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	return q
}

// diamondQueue builds A -> {B, C} -> D.
func diamondQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(QueueInfo{
		Name: "diamond",
		Passes: []PassInfo{
			{Name: "A", Ordering: 1},
			{Name: "B", Ordering: 2, Type: PassTypeCompute},
			{Name: "C", Ordering: 3, Type: PassTypeCompute},
			{Name: "D", Ordering: 4},
		},
		Attachments: []AttachmentInfo{
			{Name: "src", Image: colorImage()},
			{Name: "left", Type: AttachmentTypeBuffer},
			{Name: "right", Type: AttachmentTypeBuffer},
		},
		Uses: []UsageInfo{
			{Pass: "A", Attachment: "src", Usage: UsageOutput},
			{Pass: "B", Attachment: "src", Dependency: AttachmentDependency{InitialUsageStage: StageComputeShader}},
			{Pass: "C", Attachment: "src", Dependency: AttachmentDependency{InitialUsageStage: StageComputeShader}},
			{Pass: "B", Attachment: "left"},
			{Pass: "C", Attachment: "right"},
			{Pass: "D", Attachment: "left", Dependency: AttachmentDependency{InitialUsageStage: StageFragmentShader}},
			{Pass: "D", Attachment: "right", Dependency: AttachmentDependency{InitialUsageStage: StageFragmentShader}},
		},
	})
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	return q
}

func compiled(t *testing.T, l *Loop, q *Queue) *Queue {
	t.Helper()
	if err := l.CompileQueue(q); err != nil {
		t.Fatalf("CompileQueue(%s) error = %v", q.Name(), err)
	}
	return q
}

func newRequest(t *testing.T, queues ...*Queue) *FrameRequest {
	t.Helper()
	req, err := NewFrameRequest(testExtent, queues...)
	if err != nil {
		t.Fatalf("NewFrameRequest() error = %v", err)
	}
	return req
}
