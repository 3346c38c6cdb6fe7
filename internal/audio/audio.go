// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package audio provides an audio track that checks its source is
// playable and follows the viewer's audio state. Sound output is
// left to an external player.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/kortschak/flipbook/internal/viewer"
)

// Opener opens a resource by URI.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ErrNotAudio is returned when the source does not hold audio.
var ErrNotAudio = errors.New("not an audio source")

// sniffLen is the number of bytes examined to detect the media type.
const sniffLen = 512

// Track is a viewer.AudioTrack.
type Track struct {
	opener Opener
	log    *slog.Logger

	mu        sync.Mutex
	mediaType string
	state     viewer.AudioSync
	syncs     int
}

// New returns a Track using opener to fetch its source.
func New(opener Opener, log *slog.Logger) *Track {
	return &Track{
		opener: opener,
		log:    log.With(slog.String("component", "audio")),
	}
}

// Load opens src and checks that it holds audio.
func (t *Track) Load(ctx context.Context, src string) error {
	rc, err := t.opener.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer rc.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, buf)
	switch err {
	case nil, io.ErrUnexpectedEOF:
	case io.EOF:
		return fmt.Errorf("%w: empty", ErrNotAudio)
	default:
		return fmt.Errorf("read audio: %w", err)
	}
	typ := http.DetectContentType(buf[:n])
	if !isAudio(typ) {
		return fmt.Errorf("%w: %s", ErrNotAudio, typ)
	}
	t.mu.Lock()
	t.mediaType = typ
	t.mu.Unlock()
	t.log.LogAttrs(ctx, slog.LevelInfo, "audio ready", slog.String("media_type", typ))
	return nil
}

func isAudio(typ string) bool {
	typ, _, _ = strings.Cut(typ, ";")
	switch typ {
	case "application/ogg", "video/mp4", "video/webm":
		return true
	}
	return strings.HasPrefix(typ, "audio/")
}

// Sync records the audio state. Changes are logged.
func (t *Track) Sync(s viewer.AudioSync) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncs++
	if s == t.state {
		return
	}
	t.state = s
	t.log.LogAttrs(context.Background(), slog.LevelDebug, "sync",
		slog.Bool("play", s.Play && s.PlayAudio),
		slog.Float64("current_time", s.CurrentTime),
		slog.Float64("max_time", s.MaxTime),
		slog.Float64("volume", s.Volume),
	)
}

// State returns the most recent audio state.
func (t *Track) State() viewer.AudioSync {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MediaType returns the detected media type of the loaded source.
func (t *Track) MediaType() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mediaType
}
