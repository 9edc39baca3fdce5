// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

// startFrame runs req on l and returns the frame once it exists. before runs
// on the loop goroutine ahead of the first update.
func startFrame(t *testing.T, l *Loop, req *FrameRequest, before func(*FrameHandle)) *FrameHandle {
	t.Helper()
	var frame *FrameHandle
	err := l.RunFrame(req, func(f *FrameHandle) {
		if before != nil {
			before(f)
		}
		frame = f
	})
	if err != nil {
		t.Fatalf("RunFrame() error = %v", err)
	}
	pollUntil(t, l, func() bool { return frame != nil })
	return frame
}

func TestFrameHandle_CompleteOnce(t *testing.T) {
	l := newTestLoop(t, newFakeDevice())
	q := compiled(t, l, linearQueue(t))

	var calls int
	frame := startFrame(t, l, newRequest(t, q), func(f *FrameHandle) {
		f.SetCompleteCallback(func(*FrameHandle) { calls++ })
	})
	pollUntil(t, l, frame.IsCompleted)

	select {
	case <-frame.Done():
	default:
		t.Fatal("Done() not closed after completion")
	}

	// late failures do not reopen a finished frame
	frame.Invalidate()
	pollUntil(t, l, func() bool { return l.ActiveFrames() == 0 })
	if calls != 1 {
		t.Errorf("complete callback calls = %d, want 1", calls)
	}
	if !frame.IsSuccessful() {
		t.Error("Invalidate after completion turned the frame into a failure")
	}
	if frame.TimeEnd().Before(frame.TimeStart()) {
		t.Error("TimeEnd() before TimeStart()")
	}
	if frame.Emitter() != nil || frame.Gen() != 0 || !frame.IsValid() {
		t.Error("loop frame reports emitter state")
	}
}

func TestFrameHandle_ExternalTask(t *testing.T) {
	t.Run("done", func(t *testing.T) {
		l := newTestLoop(t, newFakeDevice())
		q := compiled(t, l, linearQueue(t))

		var task *FrameExternalTask
		frame := startFrame(t, l, newRequest(t, q), func(f *FrameHandle) { task = f.AcquireTask() })
		fq, _ := frame.FrameQueue(q)
		pollUntil(t, l, fq.IsFinalized)
		for range 3 {
			l.Poll()
		}
		if frame.IsCompleted() {
			t.Fatal("frame completed with a pending task")
		}

		task.Done()
		task.Fail()
		pollUntil(t, l, frame.IsCompleted)
		if !frame.IsSuccessful() {
			t.Error("frame failed after its task finished")
		}
		if err := frame.Err(); err != nil {
			t.Errorf("Err() = %v, want nil", err)
		}
	})

	t.Run("fail", func(t *testing.T) {
		l := newTestLoop(t, newFakeDevice())
		q := compiled(t, l, linearQueue(t))

		var task *FrameExternalTask
		frame := startFrame(t, l, newRequest(t, q), func(f *FrameHandle) { task = f.AcquireTask() })
		task.Fail()
		task.Done()
		pollUntil(t, l, frame.IsCompleted)
		if frame.IsSuccessful() {
			t.Error("frame succeeded with a failed task")
		}
		if err := frame.Err(); !errors.Is(err, ErrFrameInvalid) {
			t.Errorf("Err() = %v, want ErrFrameInvalid", err)
		}
		pollUntil(t, l, func() bool { return l.ActiveFrames() == 0 })
	})
}

func TestFrameHandle_PerformRequiredTask(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"success", true},
		{"failure", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoop(t, newFakeDevice())
			q := compiled(t, l, linearQueue(t))

			var results []bool
			frame := startFrame(t, l, newRequest(t, q), func(f *FrameHandle) {
				f.PerformRequiredTask(func(*FrameHandle) bool { return tt.ok }, func(_ *FrameHandle, ok bool) {
					results = append(results, ok)
				})
			})
			pollUntil(t, l, frame.IsCompleted)
			if frame.IsSuccessful() != tt.ok {
				t.Errorf("IsSuccessful() = %v, want %v", frame.IsSuccessful(), tt.ok)
			}
			if len(results) != 1 || results[0] != tt.ok {
				t.Errorf("results = %v, want [%v]", results, tt.ok)
			}
		})
	}
}

func TestFrameHandle_PerformOnLoop(t *testing.T) {
	l := newTestLoop(t, newFakeDevice())
	q := compiled(t, l, linearQueue(t))
	frame := startFrame(t, l, newRequest(t, q), nil)

	var onLoop, inQueue *FrameHandle
	frame.PerformOnLoop(func(f *FrameHandle) { onLoop = f })
	frame.PerformInQueue(func(*FrameHandle) bool { return true }, func(f *FrameHandle, ok bool) {
		if ok {
			inQueue = f
		}
	})
	pollUntil(t, l, func() bool { return onLoop != nil && inQueue != nil })
	if onLoop != frame || inQueue != frame {
		t.Error("callbacks received a different frame")
	}
}

func TestFrameHandle_SubmitGate(t *testing.T) {
	dev := newFakeDevice()
	l := newTestLoop(t, dev)
	q := compiled(t, l, linearQueue(t))

	req := newRequest(t, q)
	req.SetReadyForSubmit(false)
	frame := startFrame(t, l, req, nil)
	fq, _ := frame.FrameQueue(q)
	pollUntil(t, l, func() bool {
		st, _ := fq.PassState("A")
		return st == PassPrepared
	})
	for range 3 {
		l.Poll()
	}
	if len(dev.Submitted()) != 0 || frame.IsReadyForSubmit() {
		t.Fatal("pass submitted through a closed gate")
	}

	frame.SetReadyForSubmit(true)
	pollUntil(t, l, frame.IsCompleted)
	if !frame.IsSuccessful() || len(dev.Submitted()) != 3 {
		t.Errorf("successful = %v, submitted = %v", frame.IsSuccessful(), dev.Submitted())
	}
}

func TestFrameHandle_SignalDependencies(t *testing.T) {
	tests := []struct {
		name string
		fail bool
	}{
		{"success", false},
		{"failure", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			dev.setFailSubmit(tt.fail)
			l := newTestLoop(t, dev)
			q := compiled(t, l, linearQueue(t))

			ev := l.NewDependencyEvent("frame", q)
			req := newRequest(t, q)
			req.AddSignalDependency(ev)

			var waited []bool
			l.WaitForDependencies([]*DependencyEvent{ev}, func(ok bool) { waited = append(waited, ok) })
			runFrame(t, l, req)
			pollUntil(t, l, ev.IsSignaled)
			pollUntil(t, l, func() bool { return len(waited) == 1 })

			if ev.IsSuccessful() == tt.fail || waited[0] == tt.fail {
				t.Errorf("event success = %v, waiter = %v, want %v", ev.IsSuccessful(), waited[0], !tt.fail)
			}
		})
	}
}

func TestFrameRequest_Validation(t *testing.T) {
	if _, err := NewFrameRequest(testExtent); !errors.Is(err, ErrEmptyQueue) {
		t.Errorf("NewFrameRequest() error = %v, want ErrEmptyQueue", err)
	}

	q := linearQueue(t)
	req, err := NewFrameRequest(gputypes.Extent3D{Width: 64, Height: 32}, q)
	if err != nil {
		t.Fatal(err)
	}
	if req.Extent().DepthOrArrayLayers != 1 {
		t.Errorf("DepthOrArrayLayers = %d, want 1", req.Extent().DepthOrArrayLayers)
	}
	if req.Frame() != nil || req.Emitter() != nil {
		t.Error("fresh request reports a frame or emitter")
	}
	other := newRequest(t, q)
	if req.ID() == other.ID() {
		t.Error("requests share an ID")
	}

	ab, _ := q.Attachment("ab")
	if err := req.SetOutput(ab, func(*FrameOutput, bool) bool { return false }); !errors.Is(err, ErrUnknownAttachment) {
		t.Errorf("SetOutput(non-output) error = %v, want ErrUnknownAttachment", err)
	}
	buf, _ := diamondQueue(t).Attachment("left")
	if err := req.SetRenderTarget(buf, nil); !errors.Is(err, ErrUnknownAttachment) {
		t.Errorf("SetRenderTarget(foreign) error = %v, want ErrUnknownAttachment", err)
	}
	if err := req.AddInput(buf, &InputData{}); !errors.Is(err, ErrUnknownAttachment) {
		t.Errorf("AddInput(foreign) error = %v, want ErrUnknownAttachment", err)
	}
}

func TestFrameRequest_SingleUse(t *testing.T) {
	l := newTestLoop(t, newFakeDevice())
	q := compiled(t, l, linearQueue(t))
	req := newRequest(t, q)

	first := runFrame(t, l, req)
	if req.Frame() != first {
		t.Fatal("Frame() does not return the frame of the request")
	}

	called := false
	if err := l.RunFrame(req, func(*FrameHandle) { called = true }); err != nil {
		t.Fatal(err)
	}
	l.Poll()
	pollUntil(t, l, func() bool { return l.ActiveFrames() == 0 })
	if called {
		t.Error("a consumed request started a second frame")
	}
}

func TestFrameRequest_UndeliveredOutputsFail(t *testing.T) {
	l := newTestLoop(t, newFakeDevice())
	q, err := NewQueue(QueueInfo{
		Passes: []PassInfo{{Name: "A"}},
		Attachments: []AttachmentInfo{
			{Name: "in", Type: AttachmentTypeBuffer, Usage: UsageInput},
			{Name: "out", Image: colorImage(), Usage: UsageOutput},
		},
		Uses: []UsageInfo{
			{Pass: "A", Attachment: "in"},
			{Pass: "A", Attachment: "out", Usage: UsageOutput},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	compiled(t, l, q)

	req := newRequest(t, q)
	out, _ := q.Attachment("out")
	var results []bool
	req.SetOutput(out, func(o *FrameOutput, ok bool) bool {
		results = append(results, ok)
		return false
	})

	frame := startFrame(t, l, req, nil)
	frame.Invalidate()
	pollUntil(t, l, func() bool { return l.ActiveFrames() == 0 })
	if len(results) != 1 || results[0] {
		t.Errorf("output results = %v, want [false]", results)
	}
}
