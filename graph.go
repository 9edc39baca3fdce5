// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// AttachmentDependency describes how a pass uses an attachment relative to
// the other passes that share it.
type AttachmentDependency struct {
	// InitialUsageStage is the first stage of the pass that touches the
	// attachment. StageNone disables the semaphore between the previous
	// pass and this one.
	InitialUsageStage PipelineStage
	// FinalUsageStage is the last stage of the pass that touches the
	// attachment.
	FinalUsageStage PipelineStage
	// RequiredRenderPassState is the state this pass must reach before the
	// next pass using the attachment may proceed. PassInitial selects the
	// queue's default sync state.
	RequiredRenderPassState FrameRenderPassState
	// LockedRenderPassState is the first state of the next pass that waits
	// for RequiredRenderPassState. States below it may be processed early.
	LockedRenderPassState FrameRenderPassState
}

// PassInfo declares a pass of a graph queue.
type PassInfo struct {
	Name     string
	Type     PassType
	Ordering uint32
	// Programs are compiled by the device when the queue is compiled.
	Programs []ProgramInfo
	// Queries are acquired for every submission and bound to its fence.
	Queries []QueryPoolInfo
	Hooks   PassHooks
}

// AttachmentInfo declares an attachment of a graph queue.
type AttachmentInfo struct {
	Name  string
	Type  AttachmentType
	Usage AttachmentUsage
	// Image is the image configuration. Unless Hints has HintFixedSize the
	// extent is replaced by the frame extent.
	Image ImageInfo
	// Static is used as-is instead of a per-frame image.
	Static *ImageStorage
	// OutputState is the pass state at which an output attachment is handed
	// to the frame's output binding. Zero selects PassSubmitted.
	OutputState FrameRenderPassState
	Transient   bool
	Hooks       AttachmentHooks
}

// UsageInfo binds an attachment to a pass.
type UsageInfo struct {
	Pass       string
	Attachment string
	// Usage is how the pass uses the attachment. Images used as input,
	// output, resolve or depth-stencil are part of the pass framebuffer.
	Usage         AttachmentUsage
	InitialLayout AttachmentLayout
	FinalLayout   AttachmentLayout
	Dependency    AttachmentDependency
}

// QueueHooks customize a graph queue. Every hook is optional.
type QueueHooks struct {
	// BeginFrame runs when a frame request for the queue is created.
	BeginFrame func(q *Queue, req *FrameRequest)
	// EndFrame runs when a frame request for the queue is finished.
	EndFrame func(q *Queue, req *FrameRequest)
}

// QueueInfo declares a graph queue.
type QueueInfo struct {
	Name        string
	Passes      []PassInfo
	Attachments []AttachmentInfo
	// Uses bind attachments to passes. The order of passes using one
	// attachment follows pass execution order, not the order of Uses.
	Uses  []UsageInfo
	Hooks QueueHooks
	// DefaultSyncState replaces PassInitial in RequiredRenderPassState.
	// Zero selects PassSubmitted.
	DefaultSyncState FrameRenderPassState
}

// AttachmentPassData is the immutable binding of one attachment to one pass.
type AttachmentPassData struct {
	Attachment *Attachment
	Pass       *QueuePass
	// Index is the position of the attachment within the pass.
	Index         int
	Usage         AttachmentUsage
	InitialLayout AttachmentLayout
	FinalLayout   AttachmentLayout
	Dependency    AttachmentDependency
}

// inFramebuffer reports whether the attachment is a framebuffer attachment
// of the pass.
func (d *AttachmentPassData) inFramebuffer() bool {
	return d.Usage&(UsageInput|UsageOutput|UsageResolve|UsageDepthStencil) != 0
}

// PassRequirement is a pass that must reach RequiredState before the owning
// pass may move into LockedState or later.
type PassRequirement struct {
	Pass          *QueuePass
	RequiredState FrameRenderPassState
	LockedState   FrameRenderPassState
}

// PassDependency is a direct producer/consumer edge between two passes.
// Each frame it is backed by a semaphore signaled by Source and waited on by
// Target.
type PassDependency struct {
	Source      *QueuePass
	Target      *QueuePass
	Attachments []*Attachment
	StageFlags  PipelineStage
}

// Queue is a compiled, immutable render graph. One Queue is reused by many
// frames; it must be compiled with Loop.CompileQueue before use.
type Queue struct {
	name         string
	passes       []*QueuePass
	attachments  []*Attachment
	passByName   map[string]*QueuePass
	attByName    map[string]*Attachment
	dependencies []*PassDependency
	defaultSync  FrameRenderPassState
	hooks        QueueHooks

	order atomic.Uint64

	mu       sync.Mutex
	loop     *Loop
	compiled bool
}

// NewQueue validates info and builds the queue topology: per-attachment pass
// order, per-pass requirements and direct pass dependencies.
func NewQueue(info QueueInfo) (*Queue, error) {
	if len(info.Passes) == 0 {
		return nil, ErrEmptyQueue
	}

	q := &Queue{
		name:        info.Name,
		passByName:  make(map[string]*QueuePass, len(info.Passes)),
		attByName:   make(map[string]*Attachment, len(info.Attachments)),
		defaultSync: info.DefaultSyncState,
		hooks:       info.Hooks,
	}
	if q.defaultSync == PassInitial {
		q.defaultSync = PassSubmitted
	}

	for _, p := range info.Passes {
		if _, ok := q.passByName[p.Name]; ok {
			return nil, fmt.Errorf("%w: pass %q", ErrDuplicateName, p.Name)
		}
		pass := &QueuePass{
			name:         p.Name,
			typ:          p.Type,
			ordering:     p.Ordering,
			programInfos: slices.Clone(p.Programs),
			queries:      slices.Clone(p.Queries),
			hooks:        p.Hooks,
			queue:        q,
		}
		q.passByName[p.Name] = pass
		q.passes = append(q.passes, pass)
	}
	slices.SortStableFunc(q.passes, func(a, b *QueuePass) int {
		return cmp.Compare(a.ordering, b.ordering)
	})
	position := make(map[*QueuePass]int, len(q.passes))
	for i, p := range q.passes {
		position[p] = i
	}

	for _, a := range info.Attachments {
		if _, ok := q.attByName[a.Name]; ok {
			return nil, fmt.Errorf("%w: attachment %q", ErrDuplicateName, a.Name)
		}
		att := &Attachment{
			name:        a.Name,
			typ:         a.Type,
			usage:       a.Usage,
			image:       a.Image.normalized(),
			static:      a.Static,
			outputState: a.OutputState,
			transient:   a.Transient,
			hooks:       a.Hooks,
			queue:       q,
		}
		if att.outputState == PassInitial {
			att.outputState = PassSubmitted
		}
		q.attByName[a.Name] = att
		q.attachments = append(q.attachments, att)
	}

	for _, u := range info.Uses {
		pass, ok := q.passByName[u.Pass]
		if !ok {
			return nil, fmt.Errorf("%w: %q used by attachment %q", ErrUnknownPass, u.Pass, u.Attachment)
		}
		att, ok := q.attByName[u.Attachment]
		if !ok {
			return nil, fmt.Errorf("%w: %q used by pass %q", ErrUnknownAttachment, u.Attachment, u.Pass)
		}
		for _, it := range pass.attachments {
			if it.Attachment == att {
				return nil, fmt.Errorf("%w: attachment %q bound twice to pass %q", ErrDuplicateName, att.name, pass.name)
			}
		}
		data := &AttachmentPassData{
			Attachment:    att,
			Pass:          pass,
			Index:         len(pass.attachments),
			Usage:         u.Usage,
			InitialLayout: u.InitialLayout,
			FinalLayout:   u.FinalLayout,
			Dependency:    u.Dependency,
		}
		pass.attachments = append(pass.attachments, data)
		att.passes = append(att.passes, data)
	}

	for _, att := range q.attachments {
		slices.SortStableFunc(att.passes, func(a, b *AttachmentPassData) int {
			return cmp.Compare(position[a.Pass], position[b.Pass])
		})
		att.updateLayouts()
	}

	q.buildRequirements()
	return q, nil
}

// buildRequirements derives, for every pass P and attachment A of P, a
// requirement on each earlier pass using A, and a direct dependency on the
// pass immediately before P.
func (q *Queue) buildRequirements() {
	for _, pass := range q.passes {
		for _, a := range pass.attachments {
			uses := a.Attachment.passes
			for i := 0; i < len(uses) && uses[i].Pass != pass; i++ {
				pass.addRequired(uses[i], q.defaultSync)
				if i+1 < len(uses) && uses[i+1].Pass == pass {
					q.addDirectDependency(uses[i], uses[i+1])
				}
			}
		}
	}
}

func (p *QueuePass) addRequired(desc *AttachmentPassData, defaultSync FrameRenderPassState) {
	required := desc.Dependency.RequiredRenderPassState
	if required == PassInitial {
		required = defaultSync
	}
	locked := desc.Dependency.LockedRenderPassState
	if required == PassInitial {
		return
	}

	for i := range p.required {
		if p.required[i].Pass == desc.Pass {
			p.required[i].RequiredState = max(p.required[i].RequiredState, required)
			p.required[i].LockedState = min(p.required[i].LockedState, locked)
			return
		}
	}
	p.required = append(p.required, PassRequirement{
		Pass:          desc.Pass,
		RequiredState: required,
		LockedState:   locked,
	})
}

func (q *Queue) addDirectDependency(source, target *AttachmentPassData) {
	if target.Dependency.InitialUsageStage == StageNone {
		return
	}
	for _, it := range q.dependencies {
		if it.Source == source.Pass && it.Target == target.Pass {
			it.Attachments = append(it.Attachments, source.Attachment)
			it.StageFlags |= target.Dependency.InitialUsageStage
			return
		}
	}
	dep := &PassDependency{
		Source:      source.Pass,
		Target:      target.Pass,
		Attachments: []*Attachment{source.Attachment},
		StageFlags:  target.Dependency.InitialUsageStage,
	}
	q.dependencies = append(q.dependencies, dep)
	source.Pass.sourceDeps = append(source.Pass.sourceDeps, dep)
	target.Pass.targetDeps = append(target.Pass.targetDeps, dep)
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Passes returns the passes in execution order.
func (q *Queue) Passes() []*QueuePass { return q.passes }

// Attachments returns the attachments in declaration order.
func (q *Queue) Attachments() []*Attachment { return q.attachments }

// Pass returns the pass with the given name.
func (q *Queue) Pass(name string) (*QueuePass, bool) {
	p, ok := q.passByName[name]
	return p, ok
}

// Attachment returns the attachment with the given name.
func (q *Queue) Attachment(name string) (*Attachment, bool) {
	a, ok := q.attByName[name]
	return a, ok
}

// Dependencies returns the direct pass dependencies.
func (q *Queue) Dependencies() []*PassDependency { return q.dependencies }

// DefaultSyncState returns the state used for requirements declared with
// PassInitial.
func (q *Queue) DefaultSyncState() FrameRenderPassState { return q.defaultSync }

// IsCompiled reports whether the queue is compiled for a loop.
func (q *Queue) IsCompiled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.compiled
}

func (q *Queue) compiledFor(l *Loop) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.compiled && q.loop == l
}

// Order returns the number of frames started for the queue.
func (q *Queue) Order() uint64 { return q.order.Load() }

func (q *Queue) incrementOrder() uint64 { return q.order.Add(1) }

// Inputs returns the attachments that take frame input.
func (q *Queue) Inputs() []*Attachment {
	var ret []*Attachment
	for _, a := range q.attachments {
		if a.usage&UsageInput != 0 {
			ret = append(ret, a)
		}
	}
	return ret
}

// Outputs returns the attachments that produce frame output.
func (q *Queue) Outputs() []*Attachment {
	var ret []*Attachment
	for _, a := range q.attachments {
		if a.usage&UsageOutput != 0 {
			ret = append(ret, a)
		}
	}
	return ret
}

func (q *Queue) beginFrame(req *FrameRequest) {
	if q.hooks.BeginFrame != nil {
		q.hooks.BeginFrame(q, req)
	}
}

func (q *Queue) endFrame(req *FrameRequest) {
	if q.hooks.EndFrame != nil {
		q.hooks.EndFrame(q, req)
	}
}

// defaultFinalLayout picks the layout a pass leaves an attachment in when
// none is declared.
func defaultFinalLayout(u AttachmentUsage) AttachmentLayout {
	switch {
	case u&UsageDepthStencil != 0:
		return LayoutDepthStencilAttachmentOptimal
	case u&(UsageOutput|UsageResolve) != 0:
		return LayoutColorAttachmentOptimal
	case u&UsageInput != 0:
		return LayoutShaderReadOnlyOptimal
	default:
		return LayoutGeneral
	}
}

// layoutUsage is the image usage an attachment needs to be left in layout.
func layoutUsage(layout AttachmentLayout) gputypes.TextureUsage {
	switch layout {
	case LayoutColorAttachmentOptimal, LayoutDepthStencilAttachmentOptimal, LayoutDepthStencilReadOnlyOptimal:
		return gputypes.TextureUsageRenderAttachment
	case LayoutShaderReadOnlyOptimal:
		return gputypes.TextureUsageTextureBinding
	case LayoutTransferSrcOptimal, LayoutPresentSrc:
		// images that are not swapchain images are presented via transfer
		return gputypes.TextureUsageCopySrc
	case LayoutTransferDstOptimal:
		return gputypes.TextureUsageCopyDst
	default:
		return 0
	}
}
