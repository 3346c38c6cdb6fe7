// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader resolves frame image URIs into decoded images.
//
// Fetches are started concurrently and may complete in any order. Each
// decoded image is recorded at its requested index by a single collector,
// and loading completes when every index has been filled.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/animation"
)

// DefaultTimeout is the per-frame fetch timeout used when Loader.Timeout
// is zero.
const DefaultTimeout = 30 * time.Second

// ErrNoFrames is returned when there are no frames to load or when every
// frame failed under the Skip policy.
var ErrNoFrames = errors.New("no frames")

// Policy is a frame load failure policy.
type Policy int

const (
	// FailFast aborts loading on the first failed frame.
	FailFast Policy = iota
	// Skip replaces failed frames with a placeholder image.
	Skip
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Fetcher retrieves and decodes a single frame image.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (image.Image, error)
}

// FetcherFunc is a function adapter for Fetcher.
type FetcherFunc func(ctx context.Context, uri string) (image.Image, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) (image.Image, error) {
	return f(ctx, uri)
}

// Progress is the state of a load.
type Progress struct {
	TotalLoaded       int  `json:"totalLoaded"`
	TotalFramesToLoad int  `json:"totalFramesToLoad"`
	LoadingComplete   bool `json:"loadingComplete"`
}

// FrameError is a failure to load a single frame.
type FrameError struct {
	Index int
	URI   string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d (%s): %v", e.Index, e.URI, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Set is a completely loaded frame sequence.
type Set struct {
	// Frames holds the decoded frames in
	// requested order.
	Frames []image.Image

	// Bounds is the frame size, anchored at the
	// origin, shared by all frames.
	Bounds image.Rectangle

	// Missing lists the indexes of frames
	// that were replaced by a placeholder.
	Missing []int
}

// Loader loads frame sequences.
type Loader struct {
	// Fetcher retrieves individual frames.
	Fetcher Fetcher

	// Timeout is the per-frame fetch timeout.
	// If zero, DefaultTimeout is used. A negative
	// Timeout disables the timeout.
	Timeout time.Duration

	// Policy is the frame failure policy.
	Policy Policy

	// Concurrency limits the number of fetches in
	// flight. If zero, all fetches are started at once.
	Concurrency int

	// Progress is called after each frame is
	// recorded. It is called from a single goroutine.
	Progress func(Progress)

	// Frame is called with each successfully loaded
	// frame in arrival order. It is called from the
	// same goroutine as Progress.
	Frame func(index int, img image.Image)

	Log *slog.Logger
}

type result struct {
	index int
	img   image.Image
	err   error
}

// Load fetches all the frames named by uris and returns them in request
// order. Load returns when every frame has been recorded, when a frame
// fails under the FailFast policy or when ctx is cancelled.
func (l *Loader) Load(ctx context.Context, uris []string) (*Set, error) {
	n := len(uris)
	if n == 0 {
		return nil, ErrNoFrames
	}
	log := l.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "loader"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// results is buffered so that no fetch can block
	// after the collector has returned.
	results := make(chan result, n)
	var sem chan struct{}
	if l.Concurrency > 0 {
		sem = make(chan struct{}, l.Concurrency)
	}
	for i, uri := range uris {
		go func() {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results <- result{index: i, err: ctx.Err()}
					return
				}
			}
			img, err := l.fetch(ctx, uri)
			results <- result{index: i, img: img, err: err}
		}()
	}

	frames := make([]image.Image, n)
	filled := make([]bool, n)
	failed := make(map[int]error)
	var count int
	for count < n {
		var r result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r = <-results:
		}
		if filled[r.index] {
			continue
		}
		if r.err != nil {
			err := &FrameError{Index: r.index, URI: uris[r.index], Err: r.err}
			if l.Policy == FailFast {
				log.LogAttrs(ctx, slog.LevelError, "frame load failed", slog.Int("index", r.index), slog.String("uri", uris[r.index]), slog.Any("error", r.err))
				return nil, err
			}
			log.LogAttrs(ctx, slog.LevelWarn, "skipping frame", slog.Int("index", r.index), slog.String("uri", uris[r.index]), slog.Any("error", r.err))
			failed[r.index] = err
		} else {
			frames[r.index] = r.img
			if l.Frame != nil {
				l.Frame(r.index, r.img)
			}
		}
		filled[r.index] = true
		count++
		p := Progress{TotalLoaded: count, TotalFramesToLoad: n, LoadingComplete: count == n}
		log.LogAttrs(ctx, slog.LevelDebug, "progress", slog.Int("index", r.index), slog.Int("loaded", count), slog.Int("total", n))
		if l.Progress != nil {
			l.Progress(p)
		}
	}
	if len(failed) == n {
		return nil, ErrNoFrames
	}
	return complete(ctx, frames, failed, log), nil
}

func (l *Loader) fetch(ctx context.Context, uri string) (image.Image, error) {
	if l.Fetcher == nil {
		return nil, errors.New("no fetcher")
	}
	timeout := l.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	img, err := l.Fetcher.Fetch(ctx, uri)
	if err == nil && img == nil {
		err = errors.New("no image")
	}
	return img, err
}

// complete builds the final Set from the filled frame mapping. Frame
// dimensions are taken from the lowest loaded index; frames that differ
// are scaled to match and failed frames are replaced by a notice.
func complete(ctx context.Context, frames []image.Image, failed map[int]error, log *slog.Logger) *Set {
	var size image.Point
	for _, f := range frames {
		if f != nil {
			size = f.Bounds().Size()
			break
		}
	}
	set := &Set{Frames: frames, Bounds: image.Rectangle{Max: size}}
	for i, f := range frames {
		if f == nil {
			set.Missing = append(set.Missing, i)
			frames[i] = animation.ErrorImage(failed[i], set.Bounds)
			continue
		}
		if f.Bounds().Size() != size {
			log.LogAttrs(ctx, slog.LevelWarn, "scaling mismatched frame", slog.Int("index", i), slog.Any("bounds", f.Bounds()), slog.Any("want", set.Bounds))
			dst := image.NewRGBA(set.Bounds)
			draw.BiLinear.Scale(dst, dst.Bounds(), f, f.Bounds(), draw.Src, nil)
			frames[i] = dst
		}
	}
	return set
}
