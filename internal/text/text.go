// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package text renders [basicfont.Face] text onto images for viewer
// notices.
package text

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/bbrks/wrap/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Size returns the number of text rows and columns that fit within bound
// when rendered with fnt.
func Size(bound image.Rectangle, fnt *basicfont.Face) (rows, cols int) {
	return bound.Dy() / fnt.Height, bound.Dx() / (fnt.Width + 1)
}

// Fit returns the largest rectangle within dst that has the aspect ratio of
// src, centred in dst. It is intended for use as the destination rectangle
// of a draw.Scaler.
//
//	draw.BiLinear.Scale(dst, Fit(dst.Bounds(), src.Bounds()), src, src.Bounds(), op, opts)
func Fit(dst, src image.Rectangle) image.Rectangle {
	sx, sy := src.Dx(), src.Dy()
	if sx == 0 || sy == 0 {
		return image.Rectangle{Min: dst.Min, Max: dst.Min}
	}
	dx, dy := dst.Dx(), dst.Dy()
	w, h := dx, sy*dx/sx
	if h > dy {
		w, h = sx*dy/sy, dy
	}
	min := dst.Min.Add(image.Point{X: (dx - w) / 2, Y: (dy - h) / 2})
	return image.Rectangle{Min: min, Max: min.Add(image.Point{X: w, Y: h})}
}

// Lines breaks s into lines that fit within bound. Long words are cut.
// If the text needs more rows than are available the final row is
// truncated and marked with an ellipsis.
func Lines(s string, bound image.Rectangle, fnt *basicfont.Face) []string {
	rows, cols := Size(bound, fnt)
	if rows == 0 || cols == 0 {
		return nil
	}
	wrapper := wrap.NewWrapper()
	wrapper.StripTrailingNewline = true
	wrapper.CutLongWords = true
	lines := strings.Split(wrapper.Wrap(s, cols), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	if len(lines) > rows {
		lines = lines[:rows]
		last := []rune(lines[rows-1])
		if len(last) > cols-len("...") {
			last = last[:max(0, cols-len("..."))]
		}
		lines[rows-1] = string(last) + "..."
	}
	return lines
}

// Draw draws s into dst in the provided color. The block of text is placed
// at the relative position (dx, dy) in the remaining space of dst, where
// both values are in [0, 1] and (0.5, 0.5) centres the text.
func Draw(dst draw.Image, s string, col color.Color, fnt *basicfont.Face, dx, dy float64) {
	lines := Lines(s, dst.Bounds(), fnt)
	if len(lines) == 0 {
		return
	}
	min := dst.Bounds().Min
	if dx != 0 || dy != 0 {
		ext := newExtent(dst)
		for i, l := range lines {
			ext.measure(l, fnt, fixed.P(min.X, min.Y+fnt.Ascent+fnt.Height*i))
		}
		dst = ext.offset(dst, dx, dy)
	}
	fg := &image.Uniform{col}
	for i, l := range lines {
		d := font.Drawer{
			Dst:  dst,
			Src:  fg,
			Face: fnt,
			Dot:  fixed.P(min.X, min.Y+fnt.Ascent+fnt.Height*i),
		}
		d.DrawString(l)
	}
}

// extent is the inked extent of a block of text.
type extent image.Rectangle

func newExtent(dst draw.Image) *extent {
	e := extent(image.Rectangle{Min: dst.Bounds().Max, Max: dst.Bounds().Min})
	return &e
}

func (e *extent) measure(s string, fnt font.Face, dot fixed.Point26_6) {
	prev := rune(-1)
	for _, c := range s {
		if prev >= 0 {
			dot.X += fnt.Kern(prev, c)
		}
		dr, _, _, advance, ok := fnt.Glyph(dot, c)
		if !ok {
			continue
		}
		e.include(dr.Min)
		e.include(dr.Max)
		dot.X += advance
		prev = c
	}
}

func (e *extent) include(p image.Point) {
	e.Min.X = min(e.Min.X, p.X)
	e.Min.Y = min(e.Min.Y, p.Y)
	e.Max.X = max(e.Max.X, p.X)
	e.Max.Y = max(e.Max.Y, p.Y)
}

// offset returns img shifted so that the extent is placed at the relative
// position (dx, dy) of the unused space.
func (e *extent) offset(img draw.Image, dx, dy float64) draw.Image {
	free := img.Bounds().Max.Sub(e.Max)
	return shifted{Image: img, by: image.Point{X: int(float64(free.X) * dx), Y: int(float64(free.Y) * dy)}}
}

type shifted struct {
	draw.Image
	by image.Point
}

func (s shifted) Set(x, y int, c color.Color) {
	s.Image.Set(x+s.by.X, y+s.by.Y, c)
}

func (s shifted) At(x, y int) color.Color {
	return s.Image.At(x+s.by.X, y+s.by.Y)
}
