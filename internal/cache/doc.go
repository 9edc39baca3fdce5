// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides the keyed free lists behind framegraph's FrameCache.
//
// A FreeList keeps idle objects grouped by structural identity, such as a
// framebuffer key or an image configuration:
//
//	fl := cache.New[key, *Framebuffer](0)
//	fl.Put(k, fb)
//	fb, ok := fl.Take(k)
//
// FreeList is safe for concurrent use and must not be copied after creation.
package cache
