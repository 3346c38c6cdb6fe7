// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"strings"
)

// changeValue logs a Change as a group holding the aggregated
// operation, the names of the files involved and the settings that
// were read.
type changeValue struct {
	Change
}

func (v changeValue) LogValue() slog.Value {
	names := make([]string, 0, len(v.Event))
	for _, e := range v.Event {
		names = append(names, e.Name)
	}
	attrs := []slog.Attr{
		slog.String("op", v.Op().String()),
		slog.String("files", strings.Join(names, ",")),
	}
	if v.Config != nil {
		attrs = append(attrs, slog.Any("config", settings(v.Config)))
	}
	if v.Err != nil {
		attrs = append(attrs, slog.String("err", v.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// settings returns the non-zero fields of cfg as a group.
func settings(cfg *Config) slog.Value {
	var attrs []slog.Attr
	if cfg.FPS != nil {
		attrs = append(attrs, slog.Float64("fps", *cfg.FPS))
	}
	if cfg.Volume != nil {
		attrs = append(attrs, slog.Float64("volume", *cfg.Volume))
	}
	if cfg.Sprite != nil {
		attrs = append(attrs, slog.Bool("sprite", *cfg.Sprite))
	}
	if cfg.Cache != nil {
		attrs = append(attrs, slog.String("cache", *cfg.Cache))
	}
	if cfg.Network != "" {
		attrs = append(attrs, slog.String("network", cfg.Network))
	}
	if cfg.Deck != nil {
		attrs = append(attrs, slog.Any("deck", *cfg.Deck))
	}
	if cfg.LogLevel != nil {
		attrs = append(attrs, slog.Any("log_level", *cfg.LogLevel))
	}
	if cfg.AddSource != nil {
		attrs = append(attrs, slog.Bool("log_add_source", *cfg.AddSource))
	}
	return slog.GroupValue(attrs...)
}
