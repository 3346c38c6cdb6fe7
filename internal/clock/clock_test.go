// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clock

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kortschak/flipbook/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var logBuf bytes.Buffer
	t.Cleanup(func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}

var epoch = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

var driftTests = []struct {
	name   string
	fps    float64
	steps  int
	jitter bool
	step   time.Duration
}{
	{name: "24fps_60hz", fps: 24, steps: 600, step: time.Second / 60},
	{name: "10fps_60hz", fps: 10, steps: 1000, step: time.Second / 60},
	{name: "30fps_jitter", fps: 30, steps: 2000, jitter: true},
	{name: "12.5fps_jitter", fps: 12.5, steps: 5000, jitter: true},
	{name: "60fps_120hz", fps: 60, steps: 1200, step: time.Second / 120},
}

func TestDrift(t *testing.T) {
	for _, test := range driftTests {
		t.Run(test.name, func(t *testing.T) {
			var (
				sched   Manual
				playing atomic.Bool
				n       int
			)
			playing.Store(true)
			c, err := New(&sched, test.fps, playing.Load, func() { n++ }, newLogger(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !c.Start(epoch) {
				t.Fatal("failed to start clock")
			}
			rnd := rand.New(rand.NewSource(1))
			now := epoch
			for i := 0; i < test.steps; i++ {
				step := test.step
				if test.jitter {
					// Steps are always shorter than the frame interval.
					step = time.Duration(2+rnd.Intn(20)) * time.Millisecond
				}
				now = now.Add(step)
				if sched.Step(now) != 1 {
					t.Fatalf("unexpected number of pending callbacks at step %d", i)
				}
			}
			want := math.Floor(now.Sub(epoch).Seconds() * test.fps)
			if math.Abs(float64(n)-want) > 1 {
				t.Errorf("advance count outside bound: got:%d want:%v±1", n, want)
			}
		})
	}
}

func TestStop(t *testing.T) {
	var (
		sched   Manual
		playing atomic.Bool
		n       int
	)
	playing.Store(true)
	c, err := New(&sched, 10, playing.Load, func() { n++ }, newLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Start(epoch)
	if c.Start(epoch) {
		t.Error("second start created another loop")
	}
	if sched.Pending() != 1 {
		t.Errorf("unexpected number of loops: got:%d want:1", sched.Pending())
	}
	sched.Step(epoch.Add(150 * time.Millisecond))
	if n != 1 {
		t.Errorf("unexpected advance count before stop: got:%d want:1", n)
	}

	playing.Store(false)
	sched.Step(epoch.Add(300 * time.Millisecond))
	if n != 1 {
		t.Errorf("unexpected advance after stop: got:%d want:1", n)
	}
	if sched.Pending() != 0 {
		t.Error("loop re-armed after stop")
	}
	if c.Active() {
		t.Error("loop still active after stop")
	}

	playing.Store(true)
	if !c.Start(epoch.Add(time.Second)) {
		t.Error("failed to restart clock")
	}
}

func TestResumeReanchors(t *testing.T) {
	var (
		sched   Manual
		playing atomic.Bool
		n       int
	)
	playing.Store(true)
	c, err := New(&sched, 10, playing.Load, func() { n++ }, newLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Start(epoch)

	// Pause and resume 5s later, before the loop has ticked.
	playing.Store(false)
	playing.Store(true)
	resume := epoch.Add(5 * time.Second)
	if c.Start(resume) {
		t.Error("resume created another loop")
	}
	if sched.Pending() != 1 {
		t.Errorf("unexpected number of loops: got:%d want:1", sched.Pending())
	}

	sched.Step(resume.Add(50 * time.Millisecond))
	if n != 0 {
		t.Errorf("unexpected advance immediately after resume: got:%d want:0", n)
	}
	sched.Step(resume.Add(150 * time.Millisecond))
	if n != 1 {
		t.Errorf("unexpected advance count after one interval: got:%d want:1", n)
	}
}

func TestSetFPS(t *testing.T) {
	var (
		sched   Manual
		playing atomic.Bool
		n       int
	)
	playing.Store(true)
	c, err := New(&sched, 10, playing.Load, func() { n++ }, newLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := epoch
	c.Start(now)
	step := func(d time.Duration, count int) {
		for i := 0; i < count; i++ {
			now = now.Add(d)
			sched.Step(now)
		}
	}
	step(10*time.Millisecond, 100)
	if n < 9 || n > 10 {
		t.Errorf("unexpected advance count at 10fps: got:%d want:9 or 10", n)
	}

	for _, fps := range []float64{0, -1, math.NaN()} {
		err = c.SetFPS(fps)
		if !errors.Is(err, ErrInvalidFPS) {
			t.Errorf("unexpected error for fps=%v: got:%v want:%v", fps, err, ErrInvalidFPS)
		}
	}
	if c.FPS() != 10 {
		t.Errorf("invalid fps applied: got:%v", c.FPS())
	}

	err = c.SetFPS(50)
	if err != nil {
		t.Fatalf("unexpected error setting fps: %v", err)
	}
	n = 0
	step(10*time.Millisecond, 100)
	if n < 40 || n > 51 {
		t.Errorf("unexpected advance count at 50fps: got:%d", n)
	}
}

func TestNewInvalid(t *testing.T) {
	_, err := New(&Manual{}, 0, func() bool { return true }, func() {}, slog.New(slog.DiscardHandler))
	if !errors.Is(err, ErrInvalidFPS) {
		t.Errorf("unexpected error: got:%v want:%v", err, ErrInvalidFPS)
	}
}

func TestFrames(t *testing.T) {
	var (
		playing atomic.Bool
		n       atomic.Int64
	)
	playing.Store(true)
	done := make(chan struct{})
	c, err := New(Frames{Period: time.Millisecond}, 200, playing.Load, func() {
		if n.Add(1) == 3 {
			playing.Store(false)
			close(done)
		}
	}, newLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Start(time.Now())
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for advances")
	}
	for c.Active() {
		time.Sleep(time.Millisecond)
	}
	if got := n.Load(); got != 3 {
		t.Errorf("unexpected advance count: got:%d want:3", got)
	}
}
