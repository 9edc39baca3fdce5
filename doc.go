// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package framegraph executes declared render graphs on a GPU device.
//
// # Overview
//
// A Queue is a compiled graph of passes and attachments. Each frame of a
// queue is a FrameHandle: its passes move through setup, recording and
// submission independently, synchronized only by the attachments they
// share. Frames of the same queue overlap; a pass of frame N+1 waits for
// the same pass of frame N only where ordering demands it.
//
// # Quick Start
//
//	dev, _ := native.NewNoop()
//	defer dev.Close()
//
//	loop, _ := framegraph.NewLoop(dev)
//	q, _ := framegraph.NewQueue(framegraph.QueueInfo{
//		Name:   "main",
//		Passes: []framegraph.PassInfo{{Name: "color", Hooks: hooks}},
//		Attachments: []framegraph.AttachmentInfo{{
//			Name:  "out",
//			Usage: framegraph.UsageOutput,
//			Image: framegraph.ImageInfo{Format: gputypes.TextureFormatBGRA8Unorm},
//		}},
//		Uses: []framegraph.UsageInfo{{Pass: "color", Attachment: "out", Usage: framegraph.UsageOutput}},
//	})
//	_ = loop.CompileQueue(q)
//
//	e := framegraph.NewFrameEmitter(loop, q, framegraph.WithExtent(1280, 720))
//	e.Start()
//	_ = loop.Run(ctx)
//
// # Architecture
//
// The package is organized into:
//   - Loop: the single goroutine that owns all frame state, plus a worker
//     pool for blocking calls such as fence waits
//   - Queue and FrameHandle: graph declaration and per-frame state machines
//   - FrameCache: framebuffer and transient image reuse across frames
//   - DeviceQueueFamily: FIFO pools of queues, command pools and query pools
//   - FrameEmitter: paced frame production with at most one frame pending
//
// Backends implement Device. backend/native drives gogpu/wgpu HAL devices,
// including the noop device used by tests.
//
// # Logging
//
// The package is silent by default. SetLogger installs an slog.Logger;
// passing nil restores the silent default.
//
// # Thread Safety
//
// Loop methods that post work are safe for concurrent use. Hooks and frame
// callbacks run on the loop goroutine unless documented otherwise.
package framegraph
