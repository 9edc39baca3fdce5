// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "time"

// movingAverage is a fixed-window mean of durations.
type movingAverage struct {
	values []time.Duration
	next   int
	count  int
	sum    time.Duration
}

func newMovingAverage(window int) *movingAverage {
	if window < 1 {
		window = 1
	}
	return &movingAverage{values: make([]time.Duration, window)}
}

func (m *movingAverage) add(v time.Duration) {
	if m.count == len(m.values) {
		m.sum -= m.values[m.next]
	} else {
		m.count++
	}
	m.values[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % len(m.values)
}

func (m *movingAverage) average() time.Duration {
	if m.count == 0 {
		return 0
	}
	return m.sum / time.Duration(m.count)
}

func (m *movingAverage) reset() {
	clear(m.values)
	m.next = 0
	m.count = 0
	m.sum = 0
}

// LoopStats is a snapshot of Loop counters.
type LoopStats struct {
	Posted               uint64
	Executed             uint64
	DuplicateCompletions uint64
	ActiveFrames         int64
	ScheduledFences      int
	FreeFences           int
	FreeSemaphores       int
	Workers              int
	WorkerPanics         uint64
	Cache                CacheStats
	Families             []FamilyStats
}

// EmitterStats is a snapshot of FrameEmitter counters.
type EmitterStats struct {
	Submitted        uint64
	Completed        uint64
	Failed           uint64
	FramesInFlight   int
	LastFrameTime    time.Duration
	AvgFrameTime     time.Duration
	AvgFenceInterval time.Duration
}
