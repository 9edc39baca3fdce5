// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package parallel provides the work-stealing worker pool that executes
// framegraph loop work off the loop goroutine.
package parallel
