// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package deck mirrors playback onto an Elgato Stream Deck.
//
// The first three keys of the top row are used. The left and right keys
// step backwards and forwards through the frames and the centre key shows
// the current frame and toggles playback when pressed.
package deck

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"

	"github.com/kortschak/ardilla"
	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/text"
	"github.com/kortschak/flipbook/internal/viewer"
)

// Device is a Stream Deck.
type Device interface {
	Layout() (rows, cols int)
	Bounds() (image.Rectangle, error)
	RawImage(image.Image) (image.Image, error)
	SetImage(row, col int, img image.Image) error
	KeyStates() ([]bool, error)
	Reset() error
	Close() error
}

// hid adapts an [ardilla.Deck] to Device.
type hid struct {
	*ardilla.Deck
}

func (d hid) RawImage(img image.Image) (image.Image, error) {
	return d.Deck.RawImage(img)
}

// Key positions in the top row.
const (
	prevCol    = 0
	displayCol = 1
	nextCol    = 2
)

var keyCodes = map[int]int{
	prevCol:    viewer.KeyLeft,
	displayCol: viewer.KeySpace,
	nextCol:    viewer.KeyRight,
}

// Mirror shows the current frame on a Stream Deck key.
type Mirror struct {
	dev      Device
	cols     int
	bounds   image.Rectangle
	cache    *animation.Cache
	dispatch func(*viewer.KeyEvent) bool
	log      *slog.Logger

	pending chan shown
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

type shown struct {
	frame int
	img   image.Image
}

// Open opens the Stream Deck identified by pid and serial as interpreted
// by [ardilla.NewDeck] and returns a Mirror using it.
func Open(ctx context.Context, pid ardilla.PID, serial string, dispatch func(*viewer.KeyEvent) bool, log *slog.Logger) (*Mirror, error) {
	d, err := ardilla.NewDeck(pid, serial)
	if err != nil {
		return nil, err
	}
	if serial == "" {
		serial, err = d.Serial()
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	log.LogAttrs(ctx, slog.LevelInfo, "opened deck", slog.String("pid", fmt.Sprintf("0x%04x", uint16(d.PID()))), slog.String("model", d.PID().String()), slog.String("serial", serial))
	m, err := New(ctx, hid{d}, dispatch, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	return m, nil
}

// New returns a Mirror using dev. Key presses are sent to dispatch if
// it is not nil.
func New(ctx context.Context, dev Device, dispatch func(*viewer.KeyEvent) bool, log *slog.Logger) (*Mirror, error) {
	rows, cols := dev.Layout()
	if rows < 1 || cols < 3 {
		return nil, fmt.Errorf("deck too small: %dx%d", rows, cols)
	}
	bounds, err := dev.Bounds()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	m := &Mirror{
		dev:      dev,
		cols:     cols,
		bounds:   bounds,
		dispatch: dispatch,
		log:      log.With(slog.String("component", "deck")),
		pending:  make(chan shown, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.cache = animation.NewCache(m.convert)
	for col, label := range map[int]string{prevCol: "<", nextCol: ">"} {
		img, err := dev.RawImage(animation.Notice(label, bounds, color.White, color.Black))
		if err == nil {
			err = dev.SetImage(0, col, img)
		}
		if err != nil {
			cancel()
			return nil, fmt.Errorf("label key %d: %w", col, err)
		}
	}
	go m.draw(ctx)
	if dispatch != nil {
		go m.watch(ctx)
	}
	return m, nil
}

// convert scales img to fit a key and converts it to the device's
// internal representation.
func (m *Mirror) convert(img image.Image) (image.Image, error) {
	dst := image.NewRGBA(m.bounds)
	draw.BiLinear.Scale(dst, text.Fit(m.bounds, img.Bounds()), img, img.Bounds(), draw.Src, nil)
	return m.dev.RawImage(dst)
}

// Render shows the view's canvas on the display key. It does not block.
func (m *Mirror) Render(v viewer.View) {
	if v.Canvas == nil {
		return
	}
	m.Show(v.Frame, v.Canvas)
}

// Show queues img to be shown as the given frame, replacing any frame
// that has not yet been drawn. Frames are cached by index so img is
// only copied the first time a frame is seen.
func (m *Mirror) Show(frame int, img image.Image) {
	if !m.cache.Has(frame) {
		dst := image.NewRGBA(img.Bounds())
		draw.Copy(dst, dst.Bounds().Min, img, img.Bounds(), draw.Src, nil)
		img = dst
	} else {
		img = nil
	}
	s := shown{frame: frame, img: img}
	for {
		select {
		case m.pending <- s:
			return
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

func (m *Mirror) draw(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.pending:
			img, err := m.cache.Get(s.frame, s.img)
			if err != nil {
				m.log.LogAttrs(ctx, slog.LevelError, "make raw image", slog.Int("frame", s.frame), slog.Any("error", err))
				continue
			}
			err = m.dev.SetImage(0, displayCol, img)
			if err != nil {
				m.log.LogAttrs(ctx, slog.LevelError, "set image", slog.Int("frame", s.frame), slog.Any("error", err))
			}
		}
	}
}

// watch dispatches key presses on the control keys.
func (m *Mirror) watch(ctx context.Context) {
	log := m.log.WithGroup("watch_keys")
	log.LogAttrs(ctx, slog.LevelDebug, "start")
	var last []bool
	for {
		states, err := m.dev.KeyStates()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.LogAttrs(ctx, slog.LevelDebug, "key states closed")
				return
			}
			select {
			case <-ctx.Done():
				log.LogAttrs(ctx, slog.LevelDebug, "stop")
				return
			default:
			}
			log.LogAttrs(ctx, slog.LevelError, "failed to get states", slog.Any("error", err))
			continue
		}
		for col, code := range keyCodes {
			if col >= len(states) {
				continue
			}
			pressed := states[col] && (col >= len(last) || !last[col])
			if pressed {
				log.LogAttrs(ctx, slog.LevelDebug, "press", slog.Int("col", col), slog.Int("code", code))
				m.dispatch(&viewer.KeyEvent{Code: code})
			}
		}
		last = states
	}
}

// Close stops the mirror and resets and closes the device.
func (m *Mirror) Close() error {
	var err error
	m.once.Do(func() {
		m.cancel()
		<-m.done
		m.cache.Reset()
		m.dev.Reset()
		err = m.dev.Close()
	})
	return err
}
