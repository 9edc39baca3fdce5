// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import "errors"

var (
	// ErrNoAdapter is returned when the HAL instance exposes no adapter.
	ErrNoAdapter = errors.New("native: no GPU adapter available")

	// ErrUnsupportedProvider is returned by NewFromProvider when the
	// provider's device or queue does not expose its HAL handle.
	ErrUnsupportedProvider = errors.New("native: provider does not expose a HAL device")

	// ErrClosed is returned when objects are made on a closed Device.
	ErrClosed = errors.New("native: device closed")

	// ErrForeignObject is returned when an object made by another Device,
	// or by another backend, is passed in.
	ErrForeignObject = errors.New("native: object does not belong to this device")

	// ErrNoQueueFamily is returned by MakeQueue and MakeCommandPool for a
	// family the device does not expose.
	ErrNoQueueFamily = errors.New("native: unknown queue family")

	// ErrInvalidExtent is returned by MakeImage for a zero-sized image.
	ErrInvalidExtent = errors.New("native: invalid image extent")
)
