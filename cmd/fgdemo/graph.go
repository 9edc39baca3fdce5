// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"sync/atomic"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
)

const fullscreenWGSL = `
@vertex
fn main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}
`

// demoGraph builds shadow -> lighting -> post over a depth map and an HDR
// target. post writes the output image.
func demoGraph(recorded *atomic.Int64) (*framegraph.Queue, error) {
	record := func(*framegraph.QueuePassHandle, any) error {
		recorded.Add(1)
		return nil
	}
	hooks := framegraph.PassHooks{Record: record}

	return framegraph.NewQueue(framegraph.QueueInfo{
		Name: "demo",
		Passes: []framegraph.PassInfo{
			{Name: "shadow", Ordering: 1, Hooks: hooks},
			{Name: "lighting", Ordering: 2, Hooks: hooks, Programs: []framegraph.ProgramInfo{{Name: "fullscreen", Source: fullscreenWGSL}}},
			{Name: "post", Ordering: 3, Type: framegraph.PassTypeCompute, Hooks: hooks},
		},
		Attachments: []framegraph.AttachmentInfo{
			{
				Name: "shadow_map",
				Image: framegraph.ImageInfo{
					Extent: gputypes.Extent3D{Width: 1024, Height: 1024, DepthOrArrayLayers: 1},
					Format: gputypes.TextureFormatDepth32Float,
					Hints:  framegraph.HintFixedSize,
				},
			},
			{Name: "hdr", Image: framegraph.ImageInfo{Format: gputypes.TextureFormatRGBA16Float}},
			{Name: "out", Image: framegraph.ImageInfo{Format: gputypes.TextureFormatBGRA8Unorm}, Usage: framegraph.UsageOutput},
		},
		Uses: []framegraph.UsageInfo{
			{Pass: "shadow", Attachment: "shadow_map", Usage: framegraph.UsageDepthStencil, FinalLayout: framegraph.LayoutShaderReadOnlyOptimal},
			{
				Pass: "lighting", Attachment: "shadow_map", Usage: framegraph.UsageInput,
				Dependency: framegraph.AttachmentDependency{InitialUsageStage: framegraph.StageFragmentShader},
			},
			{Pass: "lighting", Attachment: "hdr", Usage: framegraph.UsageOutput, FinalLayout: framegraph.LayoutShaderReadOnlyOptimal},
			{
				Pass: "post", Attachment: "hdr", Usage: framegraph.UsageInput,
				Dependency: framegraph.AttachmentDependency{InitialUsageStage: framegraph.StageComputeShader},
			},
			{Pass: "post", Attachment: "out", Usage: framegraph.UsageOutput, FinalLayout: framegraph.LayoutGeneral},
		},
	})
}
