// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clock provides a self-correcting fixed-rate playback loop.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler requests a single future callback. It is the equivalent
// of a host animation-frame request.
type Scheduler interface {
	Schedule(func(now time.Time))
}

// DefaultPeriod is the Frames callback period when none is given.
const DefaultPeriod = time.Second / 60

// Frames is a Scheduler that calls back after Period.
type Frames struct {
	Period time.Duration
}

// Schedule calls fn with the current time after the scheduler period.
func (s Frames) Schedule(fn func(now time.Time)) {
	p := s.Period
	if p <= 0 {
		p = DefaultPeriod
	}
	time.AfterFunc(p, func() { fn(time.Now()) })
}

// Manual is a Scheduler that holds callbacks until they are stepped.
type Manual struct {
	mu      sync.Mutex
	pending []func(time.Time)
}

// Schedule queues fn until the next call to Step.
func (m *Manual) Schedule(fn func(now time.Time)) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Step calls all callbacks queued before the call with now and
// returns the number of callbacks made.
func (m *Manual) Step(now time.Time) int {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn(now)
	}
	return len(pending)
}

// Pending returns the number of queued callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ErrInvalidFPS is returned for non-positive frame rates.
var ErrInvalidFPS = errors.New("fps must be positive")

// Clock calls an advance function at a target frame rate. Each callback
// from the scheduler advances at most once, and the tick boundary is
// anchored to the remainder of the elapsed time so the long-run rate
// converges on the target.
type Clock struct {
	sched   Scheduler
	playing func() bool
	advance func()
	log     *slog.Logger

	mu       sync.Mutex
	fps      float64
	interval time.Duration
	last     time.Time
	active   bool
}

// New returns a clock driven by sched that calls advance at fps while
// playing returns true.
func New(sched Scheduler, fps float64, playing func() bool, advance func(), log *slog.Logger) (*Clock, error) {
	interval, err := intervalFor(fps)
	if err != nil {
		return nil, err
	}
	return &Clock{
		sched:    sched,
		playing:  playing,
		advance:  advance,
		log:      log.With(slog.String("component", "clock")),
		fps:      fps,
		interval: interval,
	}, nil
}

func intervalFor(fps float64) (time.Duration, error) {
	if !(fps > 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFPS, fps)
	}
	interval := time.Duration(float64(time.Second) / fps)
	if interval <= 0 {
		return 0, fmt.Errorf("%w: %v too high", ErrInvalidFPS, fps)
	}
	return interval, nil
}

// SetFPS sets the target frame rate. The change is used at the next tick.
func (c *Clock) SetFPS(fps float64) error {
	interval, err := intervalFor(fps)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.fps = fps
	c.interval = interval
	c.mu.Unlock()
	return nil
}

// FPS returns the target frame rate.
func (c *Clock) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// Active returns whether a loop is running.
func (c *Clock) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start starts a loop anchored at now. If a loop is already active,
// for example when playback resumes before a paused loop has seen its
// final tick, the loop is re-anchored at now and Start returns false.
// The loop ends at the first tick that finds playing false.
func (c *Clock) Start(now time.Time) bool {
	c.mu.Lock()
	c.last = now
	if c.active {
		c.mu.Unlock()
		return false
	}
	c.active = true
	fps := c.fps
	c.mu.Unlock()
	c.log.LogAttrs(context.Background(), slog.LevelDebug, "start loop", slog.Float64("fps", fps))
	c.sched.Schedule(c.tick)
	return true
}

func (c *Clock) tick(now time.Time) {
	c.mu.Lock()
	if !c.playing() {
		c.active = false
		c.mu.Unlock()
		c.log.LogAttrs(context.Background(), slog.LevelDebug, "end loop")
		return
	}
	elapsed := now.Sub(c.last)
	advance := elapsed > c.interval
	if advance {
		c.last = now.Add(-(elapsed % c.interval))
	}
	c.mu.Unlock()

	if advance {
		c.advance()
	}
	c.sched.Schedule(c.tick)
}
