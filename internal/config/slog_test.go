// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
)

func TestChangeValue(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	log.Info("change", slog.Any("change", changeValue{Change{
		Event: []fsnotify.Event{
			{Name: "a.toml", Op: fsnotify.Create},
			{Name: "b.toml", Op: fsnotify.Write},
		},
		Config: &Config{FPS: ptr(12.5), Network: "tcp", LogLevel: ptr(slog.LevelWarn)},
		Err:    errors.New("invalid config"),
	}}))

	var got struct {
		Change map[string]any `json:"change"`
	}
	err := json.Unmarshal(buf.Bytes(), &got)
	if err != nil {
		t.Fatalf("failed to unmarshal log: %v", err)
	}
	want := map[string]any{
		"op":    "CREATE|WRITE",
		"files": "a.toml,b.toml",
		"config": map[string]any{
			"fps":       12.5,
			"network":   "tcp",
			"log_level": "WARN",
		},
		"err": "invalid config",
	}
	if !cmp.Equal(want, got.Change) {
		t.Errorf("unexpected change log:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got.Change))
	}
}
