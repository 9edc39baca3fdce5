// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend/native"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(0, 1)
)

type report struct {
	frames   int
	elapsed  time.Duration
	recorded int64
	emitter  framegraph.EmitterStats
	loop     framegraph.LoopStats
	device   native.Stats
	trace    string
}

type field struct {
	key   string
	value string
}

func (r *report) render() string {
	p := message.NewPrinter(language.English)
	n := func(v any) string { return p.Sprintf("%d", v) }

	fps := 0.0
	if r.elapsed > 0 {
		fps = float64(r.emitter.Completed) / r.elapsed.Seconds()
	}

	emitter := box("emitter", []field{
		{"frames", n(r.frames)},
		{"submitted", n(r.emitter.Submitted)},
		{"completed", n(r.emitter.Completed)},
		{"failed", n(r.emitter.Failed)},
		{"elapsed", r.elapsed.Round(time.Millisecond).String()},
		{"fps", p.Sprintf("%.1f", fps)},
		{"avg frame", r.emitter.AvgFrameTime.String()},
		{"avg fence", r.emitter.AvgFenceInterval.String()},
	})

	c := r.loop.Cache
	loop := box("loop", []field{
		{"posted", n(r.loop.Posted)},
		{"executed", n(r.loop.Executed)},
		{"workers", n(r.loop.Workers)},
		{"free fences", n(r.loop.FreeFences)},
		{"duplicates", n(r.loop.DuplicateCompletions)},
		{"fb created", n(c.FramebuffersCreated)},
		{"fb reused", n(c.FramebuffersReused)},
		{"img created", n(c.ImagesCreated)},
		{"img reused", n(c.ImagesReused)},
	})

	d := r.device
	device := box("device", []field{
		{"passes", n(r.recorded)},
		{"submissions", n(d.Submissions)},
		{"completed", n(d.Completed)},
		{"textures", n(d.Textures)},
		{"views", n(d.Views)},
		{"encoders", n(d.Encoders)},
		{"fences", n(d.Fences)},
	})

	var families []string
	for i, f := range r.loop.Families {
		families = append(families, box(fmt.Sprintf("family %d", i), []field{
			{"queues", fmt.Sprintf("%s/%s", n(f.QueuesAcquired), n(f.QueuesReleased))},
			{"pools", fmt.Sprintf("%s/%s", n(f.PoolsAcquired), n(f.PoolsReleased))},
			{"waiters", n(f.WaitersServed)},
		}))
	}

	rows := []string{
		titleStyle.Render("framegraph demo"),
		lipgloss.JoinHorizontal(lipgloss.Top, emitter, loop, device),
	}
	if len(families) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, families...))
	}
	if r.trace != "" {
		rows = append(rows, keyStyle.Render("trace: ")+r.trace)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func box(title string, fields []field) string {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.key))
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for _, f := range fields {
		b.WriteByte('\n')
		b.WriteString(keyStyle.Render(fmt.Sprintf("%-*s", width, f.key)))
		b.WriteString("  ")
		b.WriteString(f.value)
	}
	return boxStyle.Render(b.String())
}
