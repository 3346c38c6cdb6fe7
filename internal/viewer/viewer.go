// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package viewer implements the frame-playback state machine.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/cache"
	"github.com/kortschak/flipbook/internal/clock"
	"github.com/kortschak/flipbook/internal/frames"
	"github.com/kortschak/flipbook/internal/loader"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/sprite"
)

// Defaults for unset options.
const (
	DefaultFPS    = 24
	DefaultVolume = 0.5
)

var (
	// ErrNoRender is returned by New when no render callback is provided.
	ErrNoRender = errors.New("no render callback")
	// ErrNoFrames is returned by New when the frame sequence is empty.
	ErrNoFrames = errors.New("no frames")
	// ErrInvalidVolume is returned for volumes outside [0,1].
	ErrInvalidVolume = errors.New("volume must be within [0,1]")
	// ErrFrameRange is returned for seeks outside the frame sequence.
	ErrFrameRange = errors.New("frame out of range")
)

// Options are the controller construction parameters.
type Options struct {
	// Frames is the frame URI sequence. It must not be empty.
	Frames []string

	// Audio is the optional audio source URI.
	Audio string

	// Render is called with the view on every repaint.
	// It is called with the controller's lock held and must
	// not call back into the controller synchronously.
	Render func(View)

	// Sprite enables sprite sheet assembly and caching.
	Sprite bool
	// CacheKey is the sprite cache key. If empty,
	// sprite.DefaultKey is used.
	CacheKey string
	// SpriteFormat is the sprite sheet encoding.
	SpriteFormat string
	// OnSprite is called with the encoded sprite sheet
	// when a new sheet is assembled.
	OnSprite func([]byte)

	// FPS is the initial frame rate. If zero DefaultFPS is used.
	FPS float64
	// Volume is the initial volume. If nil DefaultVolume is used.
	Volume *float64

	// Fetcher retrieves frames. If nil, a loader.Resolver is used.
	Fetcher loader.Fetcher
	// Cache holds sprite sheets. If nil, sheets are not persisted.
	Cache cache.Store
	// Keyboard is the key event source.
	Keyboard Keyboard
	// AudioTrack is the audio collaborator.
	AudioTrack AudioTrack
	// Scheduler drives the playback clock. If nil, clock.Frames
	// with its default period is used.
	Scheduler clock.Scheduler
	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time

	// LoadTimeout is the per-frame and audio load timeout.
	// If zero, loader.DefaultTimeout is used.
	LoadTimeout time.Duration
	// LoadPolicy is the frame load failure policy.
	LoadPolicy loader.Policy
	// Concurrency limits the number of concurrent frame fetches.
	Concurrency int

	Log *slog.Logger
}

// Controller is the playback state machine.
type Controller struct {
	uris   []string
	audio  string
	render func(View)
	now    func() time.Time
	track  AudioTrack
	sub    Subscription
	loader *loader.Loader
	sprite *sprite.Assembler
	clock  *clock.Clock
	log    *slog.Logger

	// audioTimeout bounds the audio load.
	audioTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  chan struct{}

	// isPlaying is written only with mu held, and
	// read by the clock without it.
	isPlaying atomic.Bool

	mu         sync.Mutex
	state      State
	err        error
	frames     *frames.Store
	progress   loader.Progress
	set        *loader.Set
	sheet      *sprite.Sheet
	canvas     *image.RGBA
	loaded     bool
	audioReady bool
	playAudio  bool
	volume     float64
	closed     bool
}

// New returns a new Controller and starts loading its frames and audio.
// The returned Controller must be closed when it is no longer needed.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Render == nil {
		return nil, ErrNoRender
	}
	if len(opts.Frames) == 0 {
		return nil, ErrNoFrames
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "viewer"))

	fps := opts.FPS
	if fps == 0 {
		fps = DefaultFPS
	}
	volume := DefaultVolume
	if opts.Volume != nil {
		volume = *opts.Volume
		if !validVolume(volume) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
		}
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = clock.Frames{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = &loader.Resolver{}
	}
	track := opts.AudioTrack
	if track == nil {
		track = nopTrack{}
	}

	c := &Controller{
		uris:      append([]string(nil), opts.Frames...),
		audio:     opts.Audio,
		render:    opts.Render,
		now:       now,
		track:     track,
		log:       log,
		ready:     make(chan struct{}),
		state:     Loading,
		frames:    frames.New(len(opts.Frames)),
		progress:  loader.Progress{TotalFramesToLoad: len(opts.Frames)},
		playAudio: true,
		volume:    volume,
	}
	c.audioTimeout = opts.LoadTimeout
	var err error
	c.clock, err = clock.New(sched, fps, c.isPlaying.Load, c.advance, log)
	if err != nil {
		return nil, err
	}
	if opts.Sprite {
		c.sprite = sprite.New(opts.Cache, opts.CacheKey, len(c.uris), sprite.Options{
			Format:   opts.SpriteFormat,
			OnSprite: opts.OnSprite,
		}, log)
	}
	c.loader = &loader.Loader{
		Fetcher:     fetcher,
		Timeout:     opts.LoadTimeout,
		Policy:      opts.LoadPolicy,
		Concurrency: opts.Concurrency,
		Progress:    c.onProgress,
		Log:         log,
	}
	if c.sprite != nil {
		c.loader.Frame = c.sprite.Add
	}
	if opts.Keyboard != nil {
		c.sub = opts.Keyboard.Subscribe(c.handleKey)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	log.LogAttrs(ctx, slog.LevelInfo, "start loading",
		slog.Int("frames", len(c.uris)),
		slog.Bool("sprite", opts.Sprite),
		slog.Bool("audio", opts.Audio != ""),
		slog.Any("policy", slogext.Stringer{Stringer: opts.LoadPolicy}),
	)
	c.mu.Lock()
	c.repaint()
	c.mu.Unlock()
	c.wg.Add(1)
	go c.load(ctx)
	if c.audio != "" {
		c.wg.Add(1)
		go c.loadAudio(ctx)
	}
	return c, nil
}

func validVolume(v float64) bool {
	return 0 <= v && v <= 1
}

func (c *Controller) load(ctx context.Context) {
	defer c.wg.Done()
	if c.sprite != nil {
		c.sprite.Cached(ctx)
	}
	set, err := c.loader.Load(ctx, c.uris)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	var sheet *sprite.Sheet
	if c.sprite != nil {
		sheet, err = c.sprite.Finish(ctx, set)
		if err != nil {
			c.log.LogAttrs(ctx, slog.LevelWarn, "sprite assembly failed: using frames", slog.Any("error", err))
			sheet = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.set = set
	c.sheet = sheet
	c.canvas = image.NewRGBA(set.Bounds)
	c.loaded = true
	c.log.LogAttrs(ctx, slog.LevelInfo, "frames loaded", slog.Any("bounds", set.Bounds), slog.Any("missing", set.Missing))
	c.maybeReady(ctx)
}

func (c *Controller) loadAudio(ctx context.Context) {
	defer c.wg.Done()
	timeout := c.audioTimeout
	if timeout <= 0 {
		timeout = loader.DefaultTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	err := c.track.Load(lctx, c.audio)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "audio unavailable", slog.String("src", c.audio), slog.Any("error", err))
		c.playAudio = false
	}
	c.audioReady = true
	c.maybeReady(ctx)
}

// maybeReady moves the controller out of Loading once the frames and
// any audio are ready. It must be called with mu held.
func (c *Controller) maybeReady(ctx context.Context) {
	if c.state != Loading || !c.loaded || (c.audio != "" && !c.audioReady) {
		return
	}
	c.state = Paused
	close(c.ready)
	c.log.LogAttrs(ctx, slog.LevelInfo, "ready")
	c.repaint()
}

func (c *Controller) fail(ctx context.Context, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.log.LogAttrs(ctx, slog.LevelError, "load failed", slog.Any("error", err))
	c.err = err
	if c.state == Loading {
		close(c.ready)
	}
	c.state = Failed
	c.isPlaying.Store(false)
	c.repaint()
}

func (c *Controller) onProgress(p loader.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = p
	if c.state == Loading {
		c.repaint()
	}
}

// Ready returns a channel that is closed when the controller leaves
// the Loading state.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the load failure, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Progress returns the loading progress.
func (c *Controller) Progress() loader.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Play starts playback. It has no effect unless the controller is paused.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.state != Paused {
		c.mu.Unlock()
		return
	}
	c.state = Playing
	c.isPlaying.Store(true)
	c.repaint()
	c.mu.Unlock()
	c.clock.Start(c.now())
}

// Pause stops playback.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause()
}

func (c *Controller) pause() {
	if c.state != Playing {
		return
	}
	c.state = Paused
	c.isPlaying.Store(false)
	c.repaint()
}

// TogglePlay toggles between playing and paused.
func (c *Controller) TogglePlay() {
	if c.isPlaying.Load() {
		c.Pause()
		return
	}
	c.Play()
}

// Next moves to the next frame, wrapping at the end of the sequence.
func (c *Controller) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Next()
	c.repaint()
}

// Prev moves to the previous frame, wrapping at the start of the sequence.
func (c *Controller) Prev() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Prev()
	c.repaint()
}

// Seek moves to frame i.
func (c *Controller) Seek(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= c.frames.Len() {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrFrameRange, i, c.frames.Len())
	}
	c.frames.Seek(i)
	c.repaint()
	return nil
}

// SetFPS sets the playback frame rate.
func (c *Controller) SetFPS(fps float64) error {
	err := c.clock.SetFPS(fps)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repaint()
	return nil
}

// SetVolume sets the audio volume.
func (c *Controller) SetVolume(v float64) error {
	if !validVolume(v) {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
	c.repaint()
	return nil
}

// ToggleAudio toggles audio playback.
func (c *Controller) ToggleAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playAudio = !c.playAudio
	c.repaint()
}

// advance is the clock's advance callback.
func (c *Controller) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing {
		return
	}
	c.frames.Next()
	c.repaint()
}

func (c *Controller) handleKey(ev *KeyEvent) {
	switch ev.Code {
	case KeyRight:
		ev.PreventDefault()
		c.Next()
	case KeyLeft:
		ev.PreventDefault()
		c.Prev()
	case KeySpace:
		ev.PreventDefault()
		c.TogglePlay()
	}
}

// Snapshot returns a copy of the current canvas. It returns nil
// before loading has completed.
func (c *Controller) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canvas == nil {
		return nil
	}
	dst := image.NewRGBA(c.canvas.Bounds())
	copy(dst.Pix, c.canvas.Pix)
	return dst
}

// repaint paints the current frame and calls the render callback. It
// must be called with mu held.
func (c *Controller) repaint() {
	if c.closed {
		return
	}
	i := c.frames.Current()
	if c.canvas != nil {
		switch {
		case c.sheet != nil:
			b := c.canvas.Bounds()
			draw.Draw(c.canvas, b, image.Transparent, image.Point{}, draw.Src)
			sp := image.Point{X: c.sheet.Image.Bounds().Min.X, Y: c.sheet.Offset(i)}
			draw.Copy(c.canvas, b.Min, c.sheet.Image, image.Rectangle{Min: sp, Max: sp.Add(b.Size())}, draw.Src, nil)
		default:
			f := c.set.Frames[i]
			draw.Copy(c.canvas, c.canvas.Bounds().Min, f, f.Bounds(), draw.Src, nil)
		}
	}
	audio := c.audioSync()
	c.render(View{
		State:       c.state,
		Progress:    c.progress,
		Frame:       i,
		Canvas:      c.canvas,
		Sprite:      c.canvas != nil && c.sheet != nil,
		Controls:    c.controls(),
		ProgressBar: c.progressBar(),
		Audio:       audio,
		Err:         c.err,
	})
	c.track.Sync(audio)
}

// Close stops playback, releases the keyboard subscription and waits
// for any outstanding loads to finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.pause()
	c.closed = true
	if c.state == Loading {
		close(c.ready)
	}
	c.mu.Unlock()

	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
	c.log.LogAttrs(context.Background(), slog.LevelDebug, "closed")
	return nil
}

// Notice returns an image of err's text with the given bounds, suitable
// for display in place of normal output. If bounds is empty a default
// size is used.
func Notice(err error, bounds image.Rectangle) image.Image {
	if bounds.Empty() {
		bounds = image.Rect(0, 0, 320, 240)
	}
	return animation.ErrorImage(err, bounds)
}
