// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestNewQueue_Errors(t *testing.T) {
	tests := []struct {
		name string
		info QueueInfo
		want error
	}{
		{"empty", QueueInfo{Name: "q"}, ErrEmptyQueue},
		{
			"duplicate pass",
			QueueInfo{Passes: []PassInfo{{Name: "A"}, {Name: "A"}}},
			ErrDuplicateName,
		},
		{
			"duplicate attachment",
			QueueInfo{
				Passes:      []PassInfo{{Name: "A"}},
				Attachments: []AttachmentInfo{{Name: "x"}, {Name: "x"}},
			},
			ErrDuplicateName,
		},
		{
			"unknown pass",
			QueueInfo{
				Passes:      []PassInfo{{Name: "A"}},
				Attachments: []AttachmentInfo{{Name: "x"}},
				Uses:        []UsageInfo{{Pass: "B", Attachment: "x"}},
			},
			ErrUnknownPass,
		},
		{
			"unknown attachment",
			QueueInfo{
				Passes: []PassInfo{{Name: "A"}},
				Uses:   []UsageInfo{{Pass: "A", Attachment: "y"}},
			},
			ErrUnknownAttachment,
		},
		{
			"attachment bound twice",
			QueueInfo{
				Passes:      []PassInfo{{Name: "A"}},
				Attachments: []AttachmentInfo{{Name: "x"}},
				Uses:        []UsageInfo{{Pass: "A", Attachment: "x"}, {Pass: "A", Attachment: "x"}},
			},
			ErrDuplicateName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQueue(tt.info)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewQueue() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewQueue_PassOrder(t *testing.T) {
	q, err := NewQueue(QueueInfo{
		Name: "order",
		Passes: []PassInfo{
			{Name: "late", Ordering: 10},
			{Name: "early", Ordering: 1},
			{Name: "middle", Ordering: 5},
			{Name: "middle2", Ordering: 5},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"early", "middle", "middle2", "late"}
	for i, p := range q.Passes() {
		if p.Name() != want[i] {
			t.Errorf("Passes()[%d] = %q, want %q", i, p.Name(), want[i])
		}
	}
}

func TestNewQueue_LinearTopology(t *testing.T) {
	q := linearQueue(t)
	a, _ := q.Pass("A")
	b, _ := q.Pass("B")
	c, _ := q.Pass("C")

	if len(a.Required()) != 0 {
		t.Errorf("A requires %d passes, want 0", len(a.Required()))
	}
	req := b.Required()
	if len(req) != 1 || req[0].Pass != a {
		t.Fatalf("B.Required() = %+v, want [A]", req)
	}
	if req[0].RequiredState != PassSubmitted || req[0].LockedState != PassInitial {
		t.Errorf("B requirement = %v/%v, want Submitted/Initial", req[0].RequiredState, req[0].LockedState)
	}
	if len(c.Required()) != 1 || c.Required()[0].Pass != b {
		t.Errorf("C.Required() = %+v, want [B]", c.Required())
	}

	deps := q.Dependencies()
	if len(deps) != 2 {
		t.Fatalf("Dependencies() = %d, want 2", len(deps))
	}
	if deps[0].Source != a || deps[0].Target != b || deps[0].StageFlags != StageFragmentShader {
		t.Errorf("dependency 0 = %s->%s %v", deps[0].Source.Name(), deps[0].Target.Name(), deps[0].StageFlags)
	}
	if len(a.SourceDependencies()) != 1 || len(b.TargetDependencies()) != 1 {
		t.Error("dependency not linked to its passes")
	}

	ab, _ := q.Attachment("ab")
	if ab.FirstPass() != a || ab.LastPass() != b {
		t.Errorf("ab spans %s..%s, want A..B", ab.FirstPass().Name(), ab.LastPass().Name())
	}
	if ab.NextPass(a) != b || ab.PrevPass(b) != a || ab.NextPass(b) != nil || ab.PrevPass(a) != nil {
		t.Error("NextPass/PrevPass do not follow execution order")
	}
	if got := ab.ImageInfo().Usage; got&gputypes.TextureUsageRenderAttachment == 0 || got&gputypes.TextureUsageTextureBinding == 0 {
		t.Errorf("ab usage = %v, want render attachment and texture binding", got)
	}

	if outs := q.Outputs(); len(outs) != 1 || outs[0].Name() != "out" {
		t.Errorf("Outputs() = %v, want [out]", outs)
	}
	if len(q.Inputs()) != 0 {
		t.Errorf("Inputs() = %d, want 0", len(q.Inputs()))
	}
}

func TestNewQueue_DiamondTopology(t *testing.T) {
	q := diamondQueue(t)
	a, _ := q.Pass("A")
	c, _ := q.Pass("C")
	d, _ := q.Pass("D")

	// src is used by A, B and C in turn, so B -> C is a direct edge
	if len(q.Dependencies()) != 4 {
		t.Errorf("Dependencies() = %d, want 4", len(q.Dependencies()))
	}
	if len(a.SourceDependencies()) != 1 {
		t.Errorf("A signals %d dependencies, want 1", len(a.SourceDependencies()))
	}
	if len(c.Required()) != 2 {
		t.Errorf("C requires %d passes, want 2", len(c.Required()))
	}
	if len(d.Required()) != 2 || len(d.TargetDependencies()) != 2 {
		t.Errorf("D requires %d passes with %d dependencies, want 2 and 2", len(d.Required()), len(d.TargetDependencies()))
	}
	if d.Flags() != QueueGraphics {
		t.Errorf("D.Flags() = %v, want graphics", d.Flags())
	}
	b, _ := q.Pass("B")
	if b.Flags() != QueueCompute {
		t.Errorf("B.Flags() = %v, want compute", b.Flags())
	}
}

func TestNewQueue_StageNoneSkipsSemaphore(t *testing.T) {
	q, err := NewQueue(QueueInfo{
		Passes:      []PassInfo{{Name: "A", Ordering: 1}, {Name: "B", Ordering: 2}},
		Attachments: []AttachmentInfo{{Name: "x", Type: AttachmentTypeBuffer}},
		Uses: []UsageInfo{
			{Pass: "A", Attachment: "x"},
			{Pass: "B", Attachment: "x"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := q.Pass("B")
	if len(q.Dependencies()) != 0 {
		t.Errorf("Dependencies() = %d, want 0", len(q.Dependencies()))
	}
	if len(b.Required()) != 1 {
		t.Errorf("B.Required() = %d, want 1", len(b.Required()))
	}
}

func TestNewQueue_RequirementMerge(t *testing.T) {
	q, err := NewQueue(QueueInfo{
		DefaultSyncState: PassComplete,
		Passes:           []PassInfo{{Name: "A", Ordering: 1}, {Name: "B", Ordering: 2}},
		Attachments: []AttachmentInfo{
			{Name: "x", Type: AttachmentTypeBuffer},
			{Name: "y", Type: AttachmentTypeBuffer},
		},
		Uses: []UsageInfo{
			{Pass: "A", Attachment: "x", Dependency: AttachmentDependency{
				RequiredRenderPassState: PassPrepared,
				LockedRenderPassState:   PassSubmission,
			}},
			{Pass: "A", Attachment: "y", Dependency: AttachmentDependency{
				LockedRenderPassState: PassPrepared,
			}},
			{Pass: "B", Attachment: "x"},
			{Pass: "B", Attachment: "y"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.DefaultSyncState() != PassComplete {
		t.Errorf("DefaultSyncState() = %v, want Complete", q.DefaultSyncState())
	}
	b, _ := q.Pass("B")
	req := b.Required()
	if len(req) != 1 {
		t.Fatalf("B.Required() = %d entries, want 1", len(req))
	}
	// the stricter of both: the highest required and the lowest locked state
	if req[0].RequiredState != PassComplete || req[0].LockedState != PassPrepared {
		t.Errorf("requirement = %v/%v, want Complete/Prepared", req[0].RequiredState, req[0].LockedState)
	}
}

func TestLoop_CompileQueue(t *testing.T) {
	dev := newFakeDevice()
	l := newTestLoop(t, dev)

	q, err := NewQueue(QueueInfo{
		Name: "compile",
		Passes: []PassInfo{
			{Name: "A", Programs: []ProgramInfo{{Name: "vs"}, {Name: "fs"}}},
		},
		Attachments: []AttachmentInfo{
			{Name: "color", Image: colorImage()},
			{Name: "fixed", Image: ImageInfo{Hints: HintDoNotCache}},
			{Name: "buf", Type: AttachmentTypeBuffer},
		},
		Uses: []UsageInfo{
			{Pass: "A", Attachment: "color", Usage: UsageOutput},
			{Pass: "A", Attachment: "fixed"},
			{Pass: "A", Attachment: "buf"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.IsCompiled() {
		t.Fatal("IsCompiled() = true before CompileQueue")
	}
	compiled(t, l, q)
	if !q.IsCompiled() {
		t.Fatal("IsCompiled() = false after CompileQueue")
	}
	if err := l.CompileQueue(q); err != nil {
		t.Errorf("second CompileQueue() error = %v", err)
	}

	a, _ := q.Pass("A")
	if a.Index() == 0 || len(a.Programs()) != 2 {
		t.Errorf("A index = %d, programs = %d", a.Index(), len(a.Programs()))
	}
	if got := dev.Created("program"); got != 2 {
		t.Errorf("programs created = %d, want 2", got)
	}
	for _, att := range q.Attachments() {
		if att.ID() == 0 {
			t.Errorf("attachment %q has no id", att.Name())
		}
	}

	other := newTestLoop(t, newFakeDevice())
	if err := other.CompileQueue(q); err == nil {
		t.Error("CompileQueue() on a second loop succeeded")
	}

	l.RemoveQueue(q)
	if q.IsCompiled() || a.Index() != 0 {
		t.Error("RemoveQueue left the queue compiled")
	}
	if got := dev.Destroyed("program"); got != 2 {
		t.Errorf("programs destroyed = %d, want 2", got)
	}
}

func TestLoop_CompileQueueProgramFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.failProgram = true
	l := newTestLoop(t, dev)

	q, err := NewQueue(QueueInfo{Passes: []PassInfo{{Name: "A", Programs: []ProgramInfo{{Name: "vs"}}}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.CompileQueue(q); err == nil {
		t.Fatal("CompileQueue() succeeded with a failing program")
	}
	if q.IsCompiled() {
		t.Error("queue compiled after program failure")
	}

	req := newRequest(t, q)
	if err := l.RunFrame(req, nil); !errors.Is(err, ErrQueueNotCompiled) {
		t.Errorf("RunFrame() error = %v, want ErrQueueNotCompiled", err)
	}
}

func TestQueueHooks_BeginEndFrame(t *testing.T) {
	l := newTestLoop(t, newFakeDevice())
	var begun, ended int
	q, err := NewQueue(QueueInfo{
		Passes: []PassInfo{{Name: "A", Type: PassTypeGeneric}},
		Hooks: QueueHooks{
			BeginFrame: func(*Queue, *FrameRequest) { begun++ },
			EndFrame:   func(*Queue, *FrameRequest) { ended++ },
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	compiled(t, l, q)

	req := newRequest(t, q)
	if begun != 1 {
		t.Errorf("BeginFrame calls = %d, want 1", begun)
	}
	frame := runFrame(t, l, req)
	pollUntil(t, l, func() bool { return l.ActiveFrames() == 0 })
	if !frame.IsSuccessful() {
		t.Error("frame failed")
	}
	if ended != 1 {
		t.Errorf("EndFrame calls = %d, want 1", ended)
	}
}
