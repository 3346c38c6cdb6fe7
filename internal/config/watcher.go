// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher. A Change
// with a nil Config and Err indicates that the file was removed.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher collects raw fsnotify.Events for a single configuration file
// and filters for semantically meaningful configuration changes.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	sum      *Sum
	log      *slog.Logger
}

// NewWatcher starts an fsnotify.Watcher for the configuration file at path,
// sending change events on the changes channel when Watch is called. The
// directory holding path is watched so that editors that replace the file
// are handled. If the directory does not exist it is created. The debounce
// parameter specifies how long to wait after an fsnotify.Event before
// reading the file to ensure that writes will be reflected in the checksum.
// If it is less than zero, FileDebounce is used.
func NewWatcher(ctx context.Context, path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	return &Watcher{
		path:     path,
		dir:      dir,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		hash:     sha1.New(),
		log:      log.With(slog.String("component", "config_watcher")),
	}, nil
}

// Watch sends changes to the configuration file until ctx is cancelled
// or the Watcher is closed. If the file exists when Watch is called, its
// contents are sent as a create event.
func (w *Watcher) Watch(ctx context.Context) error {
	_, err := os.Stat(w.path)
	if err == nil {
		w.read(ctx, fsnotify.Event{Name: w.path, Op: fsnotify.Create}, false)
	} else if !errors.Is(err, fs.ErrNotExist) {
		w.send(ctx, Change{Err: err})
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			// Renames into place are seen as a create.
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				w.read(ctx, ev, true)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				if w.sum == nil {
					continue
				}
				w.sum = nil
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.send(ctx, Change{Err: err})
		}
	}
}

// read reads and sends the configuration file if it has changed since
// the last read.
func (w *Watcher) read(ctx context.Context, ev fsnotify.Event, debounce bool) {
	if debounce {
		time.Sleep(w.debounce)
	}
	b, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removed while we were waiting, the remove
			// event will follow.
			return
		}
		w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
		w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
		return
	}
	cfg, sum, err := unmarshalConfig(w.hash, b)
	if cfg != nil {
		if w.sum.Equal(&sum) {
			w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", &sum))
			return
		}
		w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.Any("sum", &sum), slog.Any("previous", w.sum))
		w.sum = &sum
	}
	w.send(ctx, Change{Event: []fsnotify.Event{ev}, Config: cfg, Err: err})
}

func (w *Watcher) send(ctx context.Context, c Change) {
	w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}

// Close stops the underlying fsnotify.Watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
