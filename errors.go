// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "errors"

var (
	// ErrLoopClosed is returned when work is submitted to a closed Loop.
	ErrLoopClosed = errors.New("framegraph: loop closed")

	// ErrQueueNotCompiled is returned when a frame is requested for a Queue
	// that was not compiled by the Loop.
	ErrQueueNotCompiled = errors.New("framegraph: queue is not compiled")

	// ErrEmptyQueue is returned by NewQueue for a graph without passes.
	ErrEmptyQueue = errors.New("framegraph: queue has no passes")

	// ErrDuplicateName is returned by NewQueue when two passes or two
	// attachments share a name.
	ErrDuplicateName = errors.New("framegraph: duplicate name")

	// ErrUnknownPass is returned when a usage references an undeclared pass.
	ErrUnknownPass = errors.New("framegraph: unknown pass")

	// ErrUnknownAttachment is returned when a usage or request references an
	// attachment that is not part of the queue.
	ErrUnknownAttachment = errors.New("framegraph: unknown attachment")

	// ErrInvalidInput is returned by FrameRequest.AddInput when the
	// attachment rejects the data.
	ErrInvalidInput = errors.New("framegraph: invalid input data")

	// ErrNoQueueFamily is returned when no device queue family supports the
	// flags a pass requires.
	ErrNoQueueFamily = errors.New("framegraph: no queue family for flags")

	// ErrFrameInvalid is returned when an operation targets a frame that was
	// already invalidated.
	ErrFrameInvalid = errors.New("framegraph: frame is invalid")

	// ErrDeviceLost is returned by backends when the underlying device can no
	// longer execute work.
	ErrDeviceLost = errors.New("framegraph: device lost")
)
