// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "sync/atomic"

// allocator hands out identifiers scoped to one Loop. Every counter starts at
// zero, so the first id is 1 and zero means "unassigned".
type allocator struct {
	passes      atomic.Uint64
	attachments atomic.Uint64
	views       atomic.Uint64
	semaphores  atomic.Uint64
	events      atomic.Uint64
	pools       atomic.Uint64
	frames      atomic.Uint64
	submissions atomic.Uint64
}
