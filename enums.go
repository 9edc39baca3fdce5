// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "strings"

// FrameRenderPassState is the per-frame state of a pass.
// States only move forward; Finalized is terminal.
type FrameRenderPassState int

const (
	PassInitial FrameRenderPassState = iota
	PassReady
	PassResourcesAcquired
	PassPrepared
	PassSubmission
	PassSubmitted
	PassComplete
	PassFinalized
)

var passStateNames = [...]string{
	"Initial", "Ready", "ResourcesAcquired", "Prepared",
	"Submission", "Submitted", "Complete", "Finalized",
}

// String returns the state name.
func (s FrameRenderPassState) String() string {
	if s < 0 || int(s) >= len(passStateNames) {
		return "Unknown"
	}
	return passStateNames[s]
}

// FrameAttachmentState is the per-frame state of an attachment.
// States only move forward; Finalized is terminal.
type FrameAttachmentState int

const (
	AttachmentInitial FrameAttachmentState = iota
	AttachmentSetup
	AttachmentInputRequired
	AttachmentReady
	AttachmentResourcesPending
	AttachmentResourcesAcquired
	AttachmentDetached
	AttachmentComplete
	AttachmentResourcesReleased
	AttachmentFinalized
)

var attachmentStateNames = [...]string{
	"Initial", "Setup", "InputRequired", "Ready", "ResourcesPending",
	"ResourcesAcquired", "Detached", "Complete", "ResourcesReleased", "Finalized",
}

// String returns the state name.
func (s FrameAttachmentState) String() string {
	if s < 0 || int(s) >= len(attachmentStateNames) {
		return "Unknown"
	}
	return attachmentStateNames[s]
}

// AttachmentType selects the resource kind an attachment carries.
type AttachmentType int

const (
	AttachmentTypeImage AttachmentType = iota
	AttachmentTypeBuffer
	AttachmentTypeGeneric
)

// String returns the type name.
func (t AttachmentType) String() string {
	switch t {
	case AttachmentTypeImage:
		return "Image"
	case AttachmentTypeBuffer:
		return "Buffer"
	case AttachmentTypeGeneric:
		return "Generic"
	default:
		return "Unknown"
	}
}

// AttachmentUsage describes how the graph uses an attachment.
// Values can be combined with bitwise OR.
type AttachmentUsage uint32

const (
	// UsageInput marks attachments filled from frame input data.
	UsageInput AttachmentUsage = 1 << iota
	// UsageOutput marks attachments delivered to the frame's output bindings.
	UsageOutput
	UsageResolve
	UsageDepthStencil

	UsageNone AttachmentUsage = 0
	// UsageInputOutput is shorthand for UsageInput | UsageOutput.
	UsageInputOutput = UsageInput | UsageOutput
)

// Has reports whether all bits of f are set.
func (u AttachmentUsage) Has(f AttachmentUsage) bool { return u&f == f }

// String returns a "|"-separated list of usage names.
func (u AttachmentUsage) String() string {
	if u == UsageNone {
		return "None"
	}
	var parts []string
	for _, it := range []struct {
		bit  AttachmentUsage
		name string
	}{
		{UsageInput, "Input"},
		{UsageOutput, "Output"},
		{UsageResolve, "Resolve"},
		{UsageDepthStencil, "DepthStencil"},
	} {
		if u&it.bit != 0 {
			parts = append(parts, it.name)
		}
	}
	return strings.Join(parts, "|")
}

// PassType selects which queue capabilities a pass needs.
type PassType int

const (
	PassTypeGraphics PassType = iota
	PassTypeCompute
	PassTypeTransfer
	PassTypeGeneric
)

// String returns the type name.
func (t PassType) String() string {
	switch t {
	case PassTypeGraphics:
		return "Graphics"
	case PassTypeCompute:
		return "Compute"
	case PassTypeTransfer:
		return "Transfer"
	case PassTypeGeneric:
		return "Generic"
	default:
		return "Unknown"
	}
}

// QueueFlags describes device queue family capabilities.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
	QueueSparseBinding
	QueueProtected
	QueueVideoDecode
	QueueVideoEncode

	QueueNone    QueueFlags = 0
	QueuePresent QueueFlags = 0x8000_0000
)

// Has reports whether all bits of f are set.
func (f QueueFlags) Has(o QueueFlags) bool { return f&o == o }

// Flags returns the queue capabilities a pass of this type requires.
func (t PassType) Flags() QueueFlags {
	switch t {
	case PassTypeGraphics:
		return QueueGraphics
	case PassTypeCompute:
		return QueueCompute
	case PassTypeTransfer:
		return QueueTransfer
	default:
		return QueueNone
	}
}

// ImageHints tune how the engine caches and sizes images.
type ImageHints uint32

const (
	// HintOpaque marks images without meaningful alpha.
	HintOpaque ImageHints = 1 << iota
	// HintFixedSize keeps the declared extent instead of the frame extent.
	HintFixedSize
	// HintDoNotCache bypasses FrameCache reuse.
	HintDoNotCache
	HintReadOnly

	HintNone ImageHints = 0
)

// PipelineStage is a mask of pipeline stages used for semaphore waits.
type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageTessControlShader
	StageTessEvaluationShader
	StageGeometryShader
	StageFragmentShader
	StageEarlyFragmentTest
	StageLateFragmentTest
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe

	StageNone PipelineStage = 0
)

// AttachmentLayout is the image layout an attachment is in at a pass boundary.
type AttachmentLayout int

const (
	LayoutUndefined AttachmentLayout = iota
	LayoutGeneral
	LayoutColorAttachmentOptimal
	LayoutDepthStencilAttachmentOptimal
	LayoutDepthStencilReadOnlyOptimal
	LayoutShaderReadOnlyOptimal
	LayoutTransferSrcOptimal
	LayoutTransferDstOptimal
	LayoutPreinitialized
	LayoutPresentSrc
	// LayoutIgnored means the pass does not transition the image.
	LayoutIgnored
)
