// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import "context"

// AudioTrack is the audio collaborator.
type AudioTrack interface {
	// Load prepares src for playback and returns when it is
	// ready or has failed.
	Load(ctx context.Context, src string) error
	// Sync is called with the audio state on every repaint.
	// It is called with the controller's lock held.
	Sync(AudioSync)
}

type nopTrack struct{}

func (nopTrack) Load(context.Context, string) error { return nil }
func (nopTrack) Sync(AudioSync)                     {}
