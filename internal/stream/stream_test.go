// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/kortschak/flipbook/internal/loader"
	"github.com/kortschak/flipbook/internal/locked"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/viewer"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var logBuf locked.BytesBuffer
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

var views = []struct {
	view viewer.View
	want Event
}{
	{
		view: viewer.View{
			State:    viewer.Loading,
			Progress: loader.Progress{TotalLoaded: 1, TotalFramesToLoad: 3},
			Controls: viewer.Controls{FPS: 24, Loading: true, PlayAudio: true, Volume: 0.5},
		},
		want: Event{
			State:     viewer.Loading,
			Count:     3,
			FPS:       24,
			Volume:    0.5,
			PlayAudio: true,
			Progress:  loader.Progress{TotalLoaded: 1, TotalFramesToLoad: 3},
		},
	},
	{
		view: viewer.View{
			State:       viewer.Playing,
			Frame:       2,
			Progress:    loader.Progress{TotalLoaded: 3, TotalFramesToLoad: 3, LoadingComplete: true},
			Controls:    viewer.Controls{FPS: 12, IsPlaying: true, CurrentFrame: 2, Volume: 0.25},
			ProgressBar: viewer.ProgressBar{Max: 2, Value: 2},
		},
		want: Event{
			State:    viewer.Playing,
			Frame:    2,
			Count:    3,
			FPS:      12,
			Playing:  true,
			Volume:   0.25,
			Progress: loader.Progress{TotalLoaded: 3, TotalFramesToLoad: 3, LoadingComplete: true},
		},
	},
	{
		view: viewer.View{
			State: viewer.Failed,
			Err:   errors.New("frame 1 (missing.png): no such file"),
		},
		want: Event{
			State: viewer.Failed,
			Count: 1,
			Err:   "frame 1 (missing.png): no such file",
		},
	},
}

func TestHub(t *testing.T) {
	hub := NewHub(newLogger(t))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// The last event is sent on connection.
	hub.Render(views[0].view)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial hub: %v", err)
	}
	defer conn.Close()

	for i, v := range views {
		if i != 0 {
			hub.Render(v.view)
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var got Event
		err = conn.ReadJSON(&got)
		if err != nil {
			t.Fatalf("failed to read event %d: %v", i, err)
		}
		if !cmp.Equal(v.want, got) {
			t.Errorf("unexpected event %d:\n--- want:\n+++ got:\n%s", i, cmp.Diff(v.want, got))
		}
	}
	if n := hub.Len(); n != 1 {
		t.Errorf("unexpected number of clients: got:%d want:1", n)
	}

	err = hub.Close()
	if err != nil {
		t.Errorf("unexpected error closing hub: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("unexpected error after close: got:%v want normal closure", err)
	}
	if n := hub.Len(); n != 0 {
		t.Errorf("unexpected number of clients after close: got:%d want:0", n)
	}
}

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := newLogger(t)
	hub := NewHub(log)
	srv, err := Listen(ctx, "localhost:0", hub, log)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/status", nil)
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer conn.Close()

	// Wait for registration before rendering.
	deadline := time.Now().Add(time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not registered")
		}
		time.Sleep(time.Millisecond)
	}
	hub.Render(views[1].view)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var got Event
	err = json.Unmarshal(b, &got)
	if err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if !cmp.Equal(views[1].want, got) {
		t.Errorf("unexpected event:\n--- want:\n+++ got:\n%s", cmp.Diff(views[1].want, got))
	}

	err = srv.Close()
	if err != nil {
		t.Errorf("unexpected error closing server: %v", err)
	}
	_, _, err = websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/status", nil)
	if err == nil {
		t.Error("expected error dialing closed server")
	}
}
