// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"time"

	"golang.org/x/image/draw"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
// A '?' in magic matches any byte.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// GIF disposal methods.
const (
	restoreBackground = 2
	restorePrevious   = 3
)

// DecodeFrames decodes an animated GIF from r and returns its fully
// composited frames and the mean frame delay. Each returned frame is
// an independent image with the bounds of the GIF's logical screen.
func DecodeFrames(r io.Reader) ([]image.Image, time.Duration, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, 0, err
	}
	return Expand(g)
}

// Expand renders each frame of g onto the logical screen, honouring the
// frame disposal methods, and returns the composited frames and the mean
// frame delay. The delay is zero if g holds no delay information.
func Expand(g *gif.GIF) ([]image.Image, time.Duration, error) {
	if len(g.Image) == 0 {
		return nil, 0, errors.New("no frames in gif")
	}
	if g.Delay != nil && len(g.Image) != len(g.Delay) {
		return nil, 0, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if g.Disposal != nil && len(g.Image) != len(g.Disposal) {
		return nil, 0, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if screen.Empty() {
		screen = g.Image[0].Bounds()
		for _, f := range g.Image[1:] {
			screen = screen.Union(f.Bounds())
		}
	}
	// GIFs with only local colour tables have an empty global
	// palette, so their background is transparent.
	var background image.Image = image.Transparent
	if pal, ok := g.Config.ColorModel.(color.Palette); ok && int(g.BackgroundIndex) < len(pal) {
		background = &image.Uniform{pal[g.BackgroundIndex]}
	}

	dst := image.NewRGBA(screen)
	frames := make([]image.Image, 0, len(g.Image))
	var total time.Duration
	for f, frame := range g.Image {
		var restore *image.RGBA
		if g.Disposal != nil && g.Disposal[f] == restorePrevious {
			restore = image.NewRGBA(frame.Bounds())
			draw.Copy(restore, restore.Bounds().Min, dst, frame.Bounds(), draw.Src, nil)
		}
		draw.Copy(dst, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)

		composited := image.NewRGBA(screen)
		draw.Copy(composited, screen.Min, dst, screen, draw.Src, nil)
		frames = append(frames, composited)
		if g.Delay != nil {
			total += 10 * time.Duration(g.Delay[f]) * time.Millisecond
		}

		if g.Disposal != nil {
			switch g.Disposal[f] {
			case restoreBackground:
				draw.Copy(dst, frame.Bounds().Min, background, frame.Bounds(), draw.Src, nil)
			case restorePrevious:
				draw.Copy(dst, frame.Bounds().Min, restore, restore.Bounds(), draw.Src, nil)
			}
		}
	}
	return frames, total / time.Duration(len(frames)), nil
}
