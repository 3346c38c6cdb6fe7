// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package term provides a terminal renderer and keyboard source for the
// viewer.
package term

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/kortschak/flipbook/internal/text"
	"github.com/kortschak/flipbook/internal/viewer"
)

// ErrUnsupported is returned when terminal control is not available.
var ErrUnsupported = errors.New("terminal control not supported")

// Mode is a terminal colour mode.
type Mode int

const (
	TrueColor Mode = iota // 24-bit colour
	Color256              // xterm 256 colour palette
)

// EnvMode returns the colour mode advertised by the COLORTERM
// environment variable.
func EnvMode() Mode {
	switch os.Getenv("COLORTERM") {
	case "truecolor", "24bit":
		return TrueColor
	default:
		return Color256
	}
}

// Renderer draws viewer frames to a terminal using half-block characters.
// Each character cell holds two vertically adjacent pixels.
type Renderer struct {
	// Mode is the colour mode used for painting.
	Mode Mode

	w    io.Writer
	size func() (cols, rows int, err error)

	mu      sync.Mutex
	buf     bytes.Buffer
	dst     *image.RGBA
	nearest map[color.RGBA]int
}

// NewRenderer returns a Renderer writing to w. size is called on each
// render to obtain the terminal size in character cells.
func NewRenderer(w io.Writer, size func() (cols, rows int, err error)) *Renderer {
	return &Renderer{w: w, size: size}
}

const (
	eraseS = "\x1b[2J"
	hide   = "\x1b[?25l"
	show   = "\x1b[?25h"
	home   = "\x1b[H"
	reset  = "\x1b[0m"
	eraseL = "\x1b[K"
)

// Render draws the view. The last terminal row is used for a status line.
func (r *Renderer) Render(v viewer.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cols, rows, err := r.size()
	if err != nil || cols < 1 || rows < 2 {
		cols, rows = 80, 24
	}
	r.buf.Reset()
	r.buf.WriteString(hide + home)
	if v.Canvas != nil {
		r.paint(v.Canvas, cols, rows-1)
	} else if v.Err != nil {
		r.buf.WriteString(eraseS + home)
		// Lines measures in pixels, so give it one glyph per cell.
		fnt := basicfont.Face7x13
		bound := image.Rect(0, 0, cols*(fnt.Width+1), (rows-1)*fnt.Height)
		for _, l := range text.Lines(v.Err.Error(), bound, fnt) {
			r.buf.WriteString(l)
			r.buf.WriteString("\r\n")
		}
	}
	r.buf.WriteString(reset)
	r.buf.WriteString(status(v, cols))
	r.buf.WriteString(eraseL)
	r.w.Write(r.buf.Bytes())
}

// Close restores the terminal's cursor and colours.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.w, reset+show+"\r\n")
	return err
}

// paint writes img scaled to fit within cols×rows cells.
func (r *Renderer) paint(img image.Image, cols, rows int) {
	cell := image.Rect(0, 0, cols, rows*2)
	fit := text.Fit(cell, img.Bounds())
	if r.dst == nil || r.dst.Bounds() != fit {
		r.dst = image.NewRGBA(fit)
		r.buf.WriteString(eraseS + home)
	}
	draw.ApproxBiLinear.Scale(r.dst, fit, img, img.Bounds(), draw.Src, nil)
	var last [2]string
	for y := fit.Min.Y; y < fit.Max.Y; y += 2 {
		fmt.Fprintf(&r.buf, "\x1b[%d;%dH", y/2+1, fit.Min.X+1)
		for x := fit.Min.X; x < fit.Max.X; x++ {
			fg := r.sgr(38, r.dst.RGBAAt(x, y))
			bg := r.sgr(48, r.dst.RGBAAt(x, y+1))
			if fg != last[0] {
				r.buf.WriteString(fg)
			}
			if bg != last[1] {
				r.buf.WriteString(bg)
			}
			last = [2]string{fg, bg}
			r.buf.WriteString("▀")
		}
	}
	fmt.Fprintf(&r.buf, "\x1b[%d;1H", rows+1)
}

// sgr returns the select graphic rendition sequence setting the
// foreground (38) or background (48) to c.
func (r *Renderer) sgr(layer int, c color.RGBA) string {
	if r.Mode == Color256 {
		return fmt.Sprintf("\x1b[%d;5;%dm", layer, r.index(c))
	}
	return fmt.Sprintf("\x1b[%d;2;%d;%d;%dm", layer, c.R, c.G, c.B)
}

// index returns the xterm palette index perceptually closest to c.
func (r *Renderer) index(c color.RGBA) int {
	if i, ok := r.nearest[c]; ok {
		return i
	}
	if r.nearest == nil {
		r.nearest = make(map[color.RGBA]int)
	}
	want, _ := colorful.MakeColor(c)
	best, dist := 0, math.Inf(1)
	for i, p := range xterm {
		d := want.DistanceLab(p)
		if d < dist {
			best, dist = i, d
		}
	}
	// The first 16 entries are terminal-defined so are not used.
	r.nearest[c] = best + 16
	return best + 16
}

// xterm is the fixed part of the xterm 256 colour palette, the 6×6×6
// colour cube followed by the grey ramp.
var xterm = func() []colorful.Color {
	levels := [...]uint8{0, 95, 135, 175, 215, 255}
	p := make([]colorful.Color, 0, 240)
	for _, r := range levels {
		for _, g := range levels {
			for _, b := range levels {
				c, _ := colorful.MakeColor(color.RGBA{R: r, G: g, B: b, A: 0xff})
				p = append(p, c)
			}
		}
	}
	for i := range 24 {
		v := uint8(8 + 10*i)
		c, _ := colorful.MakeColor(color.RGBA{R: v, G: v, B: v, A: 0xff})
		p = append(p, c)
	}
	return p
}()

func status(v viewer.View, cols int) string {
	var b strings.Builder
	switch v.State {
	case viewer.Loading:
		fmt.Fprintf(&b, "loading %d/%d", v.Progress.TotalLoaded, v.Progress.TotalFramesToLoad)
	case viewer.Failed:
		b.WriteString("failed")
	default:
		c := v.Controls
		fmt.Fprintf(&b, "%s %d/%d %gfps vol:%.2f", v.State, v.Frame+1, v.ProgressBar.Max+1, c.FPS, c.Volume)
		if v.Audio.Src != "" {
			if c.PlayAudio {
				b.WriteString(" audio:on")
			} else {
				b.WriteString(" audio:off")
			}
		}
	}
	s := b.String()
	if len(s) > cols {
		s = s[:cols]
	}
	return s
}

// Keys reads key presses from r and dispatches them to bus until r is
// exhausted or ctx is cancelled. Arrow keys and space are sent as
// viewer key events. The quit function is called when q or ctrl-c is
// read.
func Keys(ctx context.Context, r io.Reader, bus *viewer.Bus, quit func(), log *slog.Logger) error {
	br := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		code := -1
		switch b {
		case ' ':
			code = viewer.KeySpace
		case 'q', 0x03:
			quit()
			return nil
		case 0x1b:
			// CSI sequences: ESC [ C (right) and ESC [ D (left).
			seq, err := br.Peek(2)
			if err != nil || seq[0] != '[' {
				continue
			}
			br.Discard(2)
			switch seq[1] {
			case 'C':
				code = viewer.KeyRight
			case 'D':
				code = viewer.KeyLeft
			}
		}
		if code < 0 {
			continue
		}
		ev := &viewer.KeyEvent{Code: code}
		handled := bus.Dispatch(ev)
		log.LogAttrs(ctx, slog.LevelDebug, "key", slog.Int("code", code), slog.Bool("handled", handled))
	}
}
