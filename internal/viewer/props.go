// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import (
	"fmt"
	"image"

	"github.com/kortschak/flipbook/internal/loader"
)

// State is the controller's playback state.
type State int

const (
	Loading State = iota
	Paused
	Playing
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Loading, Paused, Playing, Failed} {
		if string(b) == v.String() {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("invalid state: %q", b)
}

// View is the state passed to the render callback.
type View struct {
	State    State
	Progress loader.Progress

	// Frame is the current frame index.
	Frame int

	// Canvas holds the painted current frame. It is
	// nil until loading has completed and is only
	// valid for the duration of the render call.
	Canvas *image.RGBA

	// Sprite indicates that Canvas was painted from
	// the sprite sheet.
	Sprite bool

	Controls    Controls
	ProgressBar ProgressBar
	Audio       AudioSync

	// Err is the load failure when State is Failed.
	Err error
}

// Controls is the transport control prop bundle.
type Controls struct {
	FPS          float64 `json:"fps"`
	Loading      bool    `json:"loading"`
	CurrentFrame int     `json:"currentFrame"`
	IsPlaying    bool    `json:"isPlaying"`
	PlayAudio    bool    `json:"playAudio"`
	Volume       float64 `json:"volume"`

	Next           func()              `json:"-"`
	Prev           func()              `json:"-"`
	Pause          func()              `json:"-"`
	TogglePlay     func()              `json:"-"`
	ToggleAudio    func()              `json:"-"`
	OnVolumeChange func(float64) error `json:"-"`
	OnFPSChange    func(float64) error `json:"-"`
}

// ProgressBar is the progress bar prop bundle.
type ProgressBar struct {
	Min      int             `json:"min"`
	Max      int             `json:"max"`
	Value    int             `json:"value"`
	OnChange func(int) error `json:"-"`
}

// AudioSync describes the state the audio track should follow.
// Times are in seconds.
type AudioSync struct {
	Src         string  `json:"src,omitempty"`
	Play        bool    `json:"play"`
	PlayAudio   bool    `json:"playAudio"`
	MaxTime     float64 `json:"maxTime"`
	CurrentTime float64 `json:"currentTime"`
	Volume      float64 `json:"volume"`
}

// Status is a snapshot of the controller state.
type Status struct {
	State     State           `json:"state"`
	Frame     int             `json:"frame"`
	Count     int             `json:"count"`
	FPS       float64         `json:"fps"`
	Volume    float64         `json:"volume"`
	PlayAudio bool            `json:"playAudio"`
	Sprite    bool            `json:"sprite"`
	Missing   []int           `json:"missing,omitempty"`
	Progress  loader.Progress `json:"progress"`
	Err       string          `json:"error,omitempty"`
}

// Controls returns the transport control props.
func (c *Controller) Controls() Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls()
}

func (c *Controller) controls() Controls {
	return Controls{
		FPS:          c.clock.FPS(),
		Loading:      c.state == Loading,
		CurrentFrame: c.frames.Current(),
		IsPlaying:    c.isPlaying.Load(),
		PlayAudio:    c.playAudio,
		Volume:       c.volume,

		Next:           c.Next,
		Prev:           c.Prev,
		Pause:          c.Pause,
		TogglePlay:     c.TogglePlay,
		ToggleAudio:    c.ToggleAudio,
		OnVolumeChange: c.SetVolume,
		OnFPSChange:    c.SetFPS,
	}
}

// ProgressBar returns the progress bar props.
func (c *Controller) ProgressBar() ProgressBar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressBar()
}

func (c *Controller) progressBar() ProgressBar {
	return ProgressBar{
		Min:      0,
		Max:      c.frames.Len() - 1,
		Value:    c.frames.Current(),
		OnChange: c.Seek,
	}
}

// AudioSync returns the audio synchronisation descriptor.
func (c *Controller) AudioSync() AudioSync {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioSync()
}

func (c *Controller) audioSync() AudioSync {
	fps := c.clock.FPS()
	return AudioSync{
		Src:         c.audio,
		Play:        c.isPlaying.Load(),
		PlayAudio:   c.playAudio,
		MaxTime:     float64(c.frames.Len()) / fps,
		CurrentTime: float64(c.frames.Current()) / fps,
		Volume:      c.volume,
	}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:     c.state,
		Frame:     c.frames.Current(),
		Count:     c.frames.Len(),
		FPS:       c.clock.FPS(),
		Volume:    c.volume,
		PlayAudio: c.playAudio,
		Sprite:    c.sheet != nil,
		Progress:  c.progress,
	}
	if c.set != nil {
		s.Missing = c.set.Missing
	}
	if c.err != nil {
		s.Err = c.err.Error()
	}
	return s
}
