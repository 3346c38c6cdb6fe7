// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inhibit

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/viewer"
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

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *recorder) Inhibit(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		r.fail = false
		return errors.New("no screen saver")
	}
	r.calls = append(r.calls, "inhibit")
	return nil
}

func (r *recorder) UnInhibit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "uninhibit")
	return nil
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func waitCalls(t *testing.T, r *recorder, n int) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for len(r.get()) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d calls: got:%v", n, r.get())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFollower(t *testing.T) {
	var rec recorder
	f := NewFollower(&rec, newLogger(t))

	f.Render(viewer.View{State: viewer.Paused})
	f.Render(viewer.View{State: viewer.Playing})
	waitCalls(t, &rec, 1)
	f.Render(viewer.View{State: viewer.Playing})
	f.Render(viewer.View{State: viewer.Paused})
	waitCalls(t, &rec, 2)
	f.Render(viewer.View{State: viewer.Playing})
	waitCalls(t, &rec, 3)
	f.Close()

	want := []string{"inhibit", "uninhibit", "inhibit", "uninhibit"}
	if got := rec.get(); !cmp.Equal(got, want) {
		t.Errorf("unexpected calls:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestFollowerRetry(t *testing.T) {
	rec := recorder{fail: true}
	f := NewFollower(&rec, newLogger(t))
	// The failed inhibition is retried on the next playing view.
	deadline := time.After(10 * time.Second)
	for len(rec.get()) == 0 {
		f.Render(viewer.View{State: viewer.Playing})
		select {
		case <-deadline:
			t.Fatal("timed out waiting for inhibition")
		case <-time.After(time.Millisecond):
		}
	}
	f.Close()
	want := []string{"inhibit", "uninhibit"}
	if got := rec.get(); !cmp.Equal(got, want) {
		t.Errorf("unexpected calls:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestSession(t *testing.T) {
	s, err := NewSession()
	if err != nil {
		t.Skipf("no session bus: %v", err)
	}
	defer s.Close()
	err = s.Inhibit("test")
	if err != nil {
		t.Skipf("no screen saver service: %v", err)
	}
	err = s.UnInhibit()
	if err != nil {
		t.Errorf("unexpected error releasing inhibition: %v", err)
	}
}
