// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package native implements framegraph.Device on top of the gogpu/wgpu HAL.
//
// A Device wraps one hal.Device and its hal.Queue. Every framegraph queue
// made from it submits to that single hardware queue, so semaphores between
// passes are satisfied by submission order and fences map onto HAL
// submission indices.
//
// Devices are created from an application's gpucontext.DeviceProvider:
//
//	dev, err := native.NewFromProvider(provider)
//	if err != nil {
//	    return err
//	}
//	loop, err := framegraph.NewLoop(dev)
//
// or headless on the noop HAL backend, for tests and tooling:
//
//	dev, err := native.NewNoop()
//
// Pass programs are WGSL. MakeProgram compiles them to SPIR-V with naga
// and creates a shader module on the device.
//
// Build with the nogpu tag to leave this package out.
package native
