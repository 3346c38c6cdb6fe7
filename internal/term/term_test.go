// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package term

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image"
	"image/color"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/internal/loader"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/viewer"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func TestRender(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	img.SetRGBA(1, 0, color.RGBA{R: 0xff, A: 0xff})
	img.SetRGBA(0, 1, color.RGBA{B: 0xff, A: 0xff})
	img.SetRGBA(1, 1, color.RGBA{B: 0xff, A: 0xff})

	var buf bytes.Buffer
	r := NewRenderer(&buf, func() (int, int, error) { return 40, 2, nil })
	r.Render(viewer.View{
		State:       viewer.Paused,
		Frame:       1,
		Canvas:      img,
		Controls:    viewer.Controls{FPS: 24, Volume: 0.5},
		ProgressBar: viewer.ProgressBar{Max: 2},
	})
	got := buf.String()
	for _, want := range []string{
		"\x1b[38;2;255;0;0m",
		"\x1b[48;2;0;0;255m",
		"▀▀",
		"paused 2/3 24fps vol:0.50",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output %q", want, got)
		}
	}
	if n := strings.Count(got, "\x1b[38;2;"); n != 1 {
		t.Errorf("unexpected number of foreground changes: got:%d want:1", n)
	}

	buf.Reset()
	r.Render(viewer.View{State: viewer.Loading, Progress: loader.Progress{TotalLoaded: 1, TotalFramesToLoad: 3}})
	if !strings.Contains(buf.String(), "loading 1/3") {
		t.Errorf("missing loading status in %q", buf.String())
	}

	buf.Reset()
	r.Render(viewer.View{State: viewer.Failed, Err: errors.New("boom")})
	if !strings.Contains(buf.String(), "fail") {
		t.Errorf("missing failure status in %q", buf.String())
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("missing error text in %q", buf.String())
	}

	buf.Reset()
	err := r.Close()
	if err != nil {
		t.Errorf("unexpected error closing renderer: %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[?25h") {
		t.Errorf("cursor not restored: %q", buf.String())
	}
}

func TestRender256(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	img.SetRGBA(1, 0, color.RGBA{R: 0xff, G: 0x87, A: 0xff})
	img.SetRGBA(0, 1, color.RGBA{B: 0xff, A: 0xff})
	img.SetRGBA(1, 1, color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff})

	var buf bytes.Buffer
	r := NewRenderer(&buf, func() (int, int, error) { return 40, 2, nil })
	r.Mode = Color256
	r.Render(viewer.View{State: viewer.Paused, Canvas: img})
	got := buf.String()
	for _, want := range []string{
		"\x1b[38;5;196m", // #ff0000
		"\x1b[38;5;208m", // #ff8700
		"\x1b[48;5;21m",  // #0000ff
		"\x1b[48;5;244m", // #808080
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output %q", want, got)
		}
	}
	if strings.Contains(got, ";2;") {
		t.Errorf("unexpected 24-bit colour in output %q", got)
	}
}

func TestRenderSizeFallback(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, func() (int, int, error) { return 0, 0, ErrUnsupported })
	r.Render(viewer.View{State: viewer.Paused, Canvas: image.NewRGBA(image.Rect(0, 0, 160, 80))})
	// 80 columns by 23 rows of cells leaves an 80×40 pixel fit.
	if got := strings.Count(buf.String(), "▀"); got != 80*20 {
		t.Errorf("unexpected cell count: got:%d want:%d", got, 80*20)
	}
}

func TestKeys(t *testing.T) {
	var buf bytes.Buffer
	h := slogext.NewJSONHandler(&buf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	})
	log := slog.New(h)
	defer func() {
		if *verbose {
			t.Logf("log:\n%s\n", &buf)
		}
	}()

	var bus viewer.Bus
	var got []int
	bus.Subscribe(func(ev *viewer.KeyEvent) { got = append(got, ev.Code) })

	var quit bool
	in := strings.NewReader(" \x1b[C\x1b[Dx\x1b[A\x1b[C q ")
	err := Keys(context.Background(), in, &bus, func() { quit = true }, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{viewer.KeySpace, viewer.KeyRight, viewer.KeyLeft, viewer.KeyRight, viewer.KeySpace}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected keys:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if !quit {
		t.Error("quit not called")
	}
}

func TestKeysEOF(t *testing.T) {
	var bus viewer.Bus
	err := Keys(context.Background(), strings.NewReader("\x1b"), &bus, func() { t.Error("unexpected quit") }, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
