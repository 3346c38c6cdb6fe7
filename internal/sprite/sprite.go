// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sprite assembles frame sequences into vertically stacked sprite
// sheets and persists them as data URIs.
package sprite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/cache"
	"github.com/kortschak/flipbook/internal/loader"
)

// DefaultKey is the cache key used when none is provided.
const DefaultKey = "spriteImage"

// Encoding formats.
const (
	JPEG = "jpeg"
	PNG  = "png"
)

// Options are optional Assembler parameters.
type Options struct {
	// Format is the sheet encoding, JPEG or PNG.
	// The default is JPEG at maximum quality.
	Format string

	// OnSprite is called with the encoded sheet
	// bytes when a new sheet is assembled.
	OnSprite func([]byte)
}

// Sheet is a decoded sprite sheet.
type Sheet struct {
	// Image is the complete sheet.
	Image image.Image
	// Size is the size of a single frame.
	Size image.Point
	// N is the number of frames.
	N int
}

// Offset returns the vertical offset of frame i in the sheet.
func (s *Sheet) Offset(i int) int {
	return s.Image.Bounds().Min.Y + i*s.Size.Y
}

// Frame returns the sub-image of the sheet holding frame i.
func (s *Sheet) Frame(i int) image.Image {
	sp := image.Point{X: s.Image.Bounds().Min.X, Y: s.Offset(i)}
	r := image.Rectangle{Min: sp, Max: sp.Add(s.Size)}
	if sub, ok := s.Image.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}
	dst := image.NewRGBA(image.Rectangle{Max: s.Size})
	draw.Copy(dst, image.Point{}, s.Image, r, draw.Src, nil)
	return dst
}

// Decode decodes a sheet of n frames from a data URI.
func Decode(uri string, n int) (*Sheet, error) {
	if n < 1 {
		return nil, errors.New("invalid frame count")
	}
	d, err := loader.ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(d.Data))
	if err != nil {
		return nil, fmt.Errorf("decode sheet: %w", err)
	}
	b := img.Bounds()
	if b.Dy()%n != 0 {
		return nil, fmt.Errorf("sheet height %d not divisible by frame count %d", b.Dy(), n)
	}
	return &Sheet{Image: img, Size: image.Point{X: b.Dx(), Y: b.Dy() / n}, N: n}, nil
}

// Assembler composes frames into a sprite sheet.
type Assembler struct {
	store cache.Store
	key   string
	n     int
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	cached  *Sheet
	surface *image.RGBA
	size    image.Point
	drawn   []bool
	draws   int
}

// New returns an Assembler for n frames persisting to store under key. If
// key is empty, DefaultKey is used. A nil store disables persistence.
func New(store cache.Store, key string, n int, opts Options, log *slog.Logger) *Assembler {
	if key == "" {
		key = DefaultKey
	}
	if opts.Format == "" {
		opts.Format = JPEG
	}
	return &Assembler{
		store: store,
		key:   key,
		n:     n,
		opts:  opts,
		log:   log.With(slog.String("component", "sprite"), slog.String("key", key)),
	}
}

// Key returns the assembler's cache key.
func (a *Assembler) Key() string { return a.key }

// Cached returns the sheet held in the cache, if it exists and is valid
// for the assembler's frame count. When a cached sheet is found, Add
// becomes a no-op.
func (a *Assembler) Cached(ctx context.Context) (*Sheet, bool) {
	if a.store == nil {
		return nil, false
	}
	val, err := a.store.Get(ctx, a.key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			a.log.LogAttrs(ctx, slog.LevelWarn, "sprite cache read failed", slog.Any("error", err))
		}
		return nil, false
	}
	sheet, err := Decode(val, a.n)
	if err != nil {
		a.log.LogAttrs(ctx, slog.LevelWarn, "invalid cached sprite", slog.Any("error", err))
		return nil, false
	}
	a.mu.Lock()
	a.cached = sheet
	a.mu.Unlock()
	a.log.LogAttrs(ctx, slog.LevelDebug, "using cached sprite", slog.Any("bounds", sheet.Image.Bounds()))
	return sheet, true
}

// Add draws frame i into the sheet. The drawing surface is allocated from
// the size of the first frame added. Add may be called in any order and
// repeated calls for the same index redraw the same region.
func (a *Assembler) Add(i int, img image.Image) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached != nil || i < 0 || i >= a.n {
		return
	}
	if a.surface == nil {
		a.alloc(img.Bounds().Size())
	}
	a.draw(i, img)
}

func (a *Assembler) alloc(size image.Point) {
	a.size = size
	a.surface = image.NewRGBA(image.Rect(0, 0, size.X, size.Y*a.n))
	a.drawn = make([]bool, a.n)
}

func (a *Assembler) draw(i int, img image.Image) {
	r := image.Rectangle{Max: a.size}.Add(image.Point{Y: i * a.size.Y})
	if img.Bounds().Size() == a.size {
		draw.Copy(a.surface, r.Min, img, img.Bounds(), draw.Src, nil)
	} else {
		draw.BiLinear.Scale(a.surface, r, img, img.Bounds(), draw.Src, nil)
	}
	a.drawn[i] = true
	a.draws++
}

// Draws returns the number of frame compositions performed.
func (a *Assembler) Draws() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draws
}

// Finish completes the sheet for the loaded set. If a valid cached sheet
// is held, it is returned. Otherwise frames not yet drawn are composed,
// the sheet is encoded and persisted, the OnSprite callback is called and
// the decoded sheet is returned. A failure to persist the sheet is logged
// and otherwise ignored.
func (a *Assembler) Finish(ctx context.Context, set *loader.Set) (*Sheet, error) {
	if len(set.Frames) != a.n {
		return nil, fmt.Errorf("frame count mismatch: %d != %d", len(set.Frames), a.n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	size := set.Bounds.Size()
	if a.cached != nil {
		if a.cached.Size == size {
			return a.cached, nil
		}
		a.log.LogAttrs(ctx, slog.LevelWarn, "stale cached sprite", slog.Any("cached_size", a.cached.Size), slog.Any("frame_size", size))
		a.cached = nil
	}
	if a.surface == nil || a.size != size {
		a.alloc(size)
	}
	for i, f := range set.Frames {
		if !a.drawn[i] {
			a.draw(i, f)
		}
	}

	var (
		buf       bytes.Buffer
		mediaType string
		err       error
	)
	switch a.opts.Format {
	case JPEG:
		mediaType = "image/jpeg"
		err = jpeg.Encode(&buf, a.surface, &jpeg.Options{Quality: 100})
	case PNG:
		mediaType = "image/png"
		err = png.Encode(&buf, a.surface)
	default:
		err = fmt.Errorf("unknown sprite format: %s", a.opts.Format)
	}
	if err != nil {
		return nil, err
	}
	uri := loader.EncodeDataURI(mediaType, buf.Bytes())
	if a.store != nil {
		err = a.store.Set(ctx, a.key, uri)
		if err != nil {
			a.log.LogAttrs(ctx, slog.LevelWarn, "sprite cache write failed", slog.Any("error", err))
		}
	}
	if a.opts.OnSprite != nil {
		a.opts.OnSprite(bytes.Clone(buf.Bytes()))
	}
	sheet, err := Decode(uri, a.n)
	if err != nil {
		return nil, err
	}
	a.log.LogAttrs(ctx, slog.LevelDebug, "assembled sprite", slog.Any("bounds", sheet.Image.Bounds()), slog.Int("draws", a.draws), slog.Int("bytes", buf.Len()))
	return sheet, nil
}
