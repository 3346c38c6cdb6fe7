// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inhibit prevents the screen saver from activating while
// frames are playing.
package inhibit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kortschak/flipbook/internal/viewer"
)

// Inhibitor can hold off the screen saver.
type Inhibitor interface {
	Inhibit(reason string) error
	UnInhibit() error
}

// Follower inhibits the screen saver while the viewer is playing.
type Follower struct {
	inh Inhibitor
	log *slog.Logger

	want chan bool
	done chan struct{}
	once sync.Once
}

// NewFollower returns a Follower using inh.
func NewFollower(inh Inhibitor, log *slog.Logger) *Follower {
	f := &Follower{
		inh:  inh,
		log:  log.With(slog.String("component", "inhibit")),
		want: make(chan bool, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// Render records whether the view is playing. It does not block.
func (f *Follower) Render(v viewer.View) {
	f.set(v.State == viewer.Playing)
}

func (f *Follower) set(playing bool) {
	for {
		select {
		case f.want <- playing:
			return
		default:
		}
		select {
		case <-f.want:
		default:
		}
	}
}

func (f *Follower) run() {
	defer close(f.done)
	var inhibited bool
	for playing := range f.want {
		if playing == inhibited {
			continue
		}
		var err error
		if playing {
			err = f.inh.Inhibit("playing frames")
		} else {
			err = f.inh.UnInhibit()
		}
		if err != nil {
			f.log.LogAttrs(context.Background(), slog.LevelWarn, "screen saver inhibition failed", slog.Bool("inhibit", playing), slog.Any("error", err))
			continue
		}
		inhibited = playing
		f.log.LogAttrs(context.Background(), slog.LevelDebug, "screen saver", slog.Bool("inhibited", inhibited))
	}
	if inhibited {
		err := f.inh.UnInhibit()
		if err != nil {
			f.log.LogAttrs(context.Background(), slog.LevelWarn, "screen saver release failed", slog.Any("error", err))
		}
	}
}

// Close releases any held inhibition. Render must not be called after
// Close.
func (f *Follower) Close() error {
	f.once.Do(func() {
		close(f.want)
		<-f.done
	})
	return nil
}
