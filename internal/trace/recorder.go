// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package trace records pass and attachment state transitions and renders
// them as a frame timeline.
package trace

import (
	"sort"
	"sync"
	"time"

	"github.com/gogpu/framegraph"
)

// Recorder collects state events. Its Observe method is a state observer
// for framegraph.WithStateObserver. Recorder is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	events  []framegraph.StateEvent
	limit   int
	dropped int
}

// NewRecorder returns a Recorder keeping at most limit events. A limit of
// zero keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Observe records ev. Once the limit is reached later events are counted
// and dropped.
func (r *Recorder) Observe(ev framegraph.StateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.events) >= r.limit {
		r.dropped++
		return
	}
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []framegraph.StateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]framegraph.StateEvent(nil), r.events...)
}

// Dropped returns the number of events dropped over the limit.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.dropped = 0
	r.mu.Unlock()
}

// Span is the time one pass or attachment spent in one state.
type Span struct {
	State int
	Name  string
	Start time.Time
	End   time.Time
}

// Row is the state history of one pass or attachment in one frame.
type Row struct {
	Frame      uint64
	Queue      string
	Name       string
	Attachment bool
	Spans      []Span
}

// Label returns "frame/queue/name".
func (r Row) Label() string {
	return formatLabel(r.Frame, r.Queue, r.Name)
}

type rowKey struct {
	frame      uint64
	queue      string
	name       string
	attachment bool
}

// Build groups events into rows. A span ends where the next state of the
// same row begins; the last state of a row has no duration. Rows are
// ordered by frame, passes before attachments, then by first event.
func Build(events []framegraph.StateEvent) []Row {
	index := make(map[rowKey]int)
	var rows []Row
	for _, ev := range events {
		k := rowKey{frame: ev.Frame, queue: ev.Queue}
		span := Span{Start: ev.Time, End: ev.Time}
		if ev.Pass != "" {
			k.name = ev.Pass
			span.State, span.Name = int(ev.PassState), ev.PassState.String()
		} else {
			k.name, k.attachment = ev.Attachment, true
			span.State, span.Name = int(ev.AttachmentState), ev.AttachmentState.String()
		}

		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			rows = append(rows, Row{Frame: k.frame, Queue: k.queue, Name: k.name, Attachment: k.attachment})
		}
		row := &rows[i]
		if n := len(row.Spans); n > 0 {
			row.Spans[n-1].End = ev.Time
		}
		row.Spans = append(row.Spans, span)
	}

	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Frame != rows[b].Frame {
			return rows[a].Frame < rows[b].Frame
		}
		return !rows[a].Attachment && rows[b].Attachment
	})
	return rows
}

// Bounds returns the earliest and latest time in rows.
func Bounds(rows []Row) (start, end time.Time) {
	for _, r := range rows {
		for _, s := range r.Spans {
			if start.IsZero() || s.Start.Before(start) {
				start = s.Start
			}
			if s.End.After(end) {
				end = s.End
			}
		}
	}
	return start, end
}
