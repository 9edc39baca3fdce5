// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package trace

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options controls timeline rendering. Zero fields take defaults.
type Options struct {
	// Width is the width of the time axis in pixels.
	Width int
	// RowHeight is the height of one row in pixels.
	RowHeight int
	// Attachments includes attachment rows.
	Attachments bool
}

const (
	defaultWidth     = 960
	defaultRowHeight = 16
	labelPad         = 6
	axisHeight       = 18
)

var (
	background = color.RGBA{0x1e, 0x1e, 0x24, 0xff}
	gridColor  = color.RGBA{0x3a, 0x3a, 0x44, 0xff}
	textColor  = color.RGBA{0xe0, 0xe0, 0xe0, 0xff}

	// palette is indexed by state. Pass and attachment states share it.
	palette = []color.RGBA{
		{0x55, 0x55, 0x60, 0xff},
		{0x4e, 0x79, 0xa7, 0xff},
		{0xf2, 0x8e, 0x2b, 0xff},
		{0xe1, 0x57, 0x59, 0xff},
		{0x76, 0xb7, 0xb2, 0xff},
		{0x59, 0xa1, 0x4f, 0xff},
		{0xed, 0xc9, 0x48, 0xff},
		{0xb0, 0x7a, 0xa1, 0xff},
		{0xff, 0x9d, 0xa7, 0xff},
		{0x9c, 0x75, 0x5f, 0xff},
	}
)

func stateColor(state int) color.RGBA {
	if state < 0 {
		return palette[0]
	}
	return palette[state%len(palette)]
}

func formatLabel(frame uint64, queue, name string) string {
	return fmt.Sprintf("%d/%s/%s", frame, queue, name)
}

// Render draws rows as a timeline: one labeled row per pass or attachment,
// with a colored bar per state scaled to the recorded time.
func Render(rows []Row, opts Options) *image.RGBA {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.RowHeight <= 0 {
		opts.RowHeight = defaultRowHeight
	}
	if !opts.Attachments {
		kept := rows[:0:0]
		for _, r := range rows {
			if !r.Attachment {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	face := basicfont.Face7x13
	labelWidth := 0
	for _, r := range rows {
		if w := font.MeasureString(face, r.Label()).Ceil(); w > labelWidth {
			labelWidth = w
		}
	}
	labelWidth += 2 * labelPad

	bounds := image.Rect(0, 0, labelWidth+opts.Width+labelPad, axisHeight+len(rows)*opts.RowHeight+labelPad)
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, image.NewUniform(background), image.Point{}, draw.Src)

	start, end := Bounds(rows)
	total := end.Sub(start)
	if total <= 0 {
		total = time.Nanosecond
	}
	xOf := func(t time.Time) int {
		return labelWidth + int(int64(opts.Width)*int64(t.Sub(start))/int64(total))
	}

	text := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: face}
	text.Dot = fixed.P(labelPad, axisHeight-labelPad)
	text.DrawString(fmt.Sprintf("%v", total))

	for i, r := range rows {
		top := axisHeight + i*opts.RowHeight
		line := image.Rect(labelWidth, top+opts.RowHeight-1, bounds.Max.X, top+opts.RowHeight)
		draw.Draw(img, line, image.NewUniform(gridColor), image.Point{}, draw.Src)

		text.Dot = fixed.P(labelPad, top+opts.RowHeight-3)
		text.DrawString(r.Label())

		for _, s := range r.Spans {
			x0, x1 := xOf(s.Start), xOf(s.End)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			bar := image.Rect(x0, top+2, x1, top+opts.RowHeight-2)
			draw.Draw(img, bar, image.NewUniform(stateColor(s.State)), image.Point{}, draw.Over)
		}
	}
	return img
}

// WritePNG renders rows and encodes the timeline as PNG.
func WritePNG(w io.Writer, rows []Row, opts Options) error {
	if err := png.Encode(w, Render(rows, opts)); err != nil {
		return fmt.Errorf("trace: encode png: %w", err)
	}
	return nil
}
