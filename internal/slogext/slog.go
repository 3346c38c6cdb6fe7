// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slogext provides slog handlers and log values used by flipbook.
package slogext

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/kortschak/goroutine"
	"github.com/kortschak/jsonrpc2"
)

// HandlerOptions are options for a Handler. They mirror
// slog.HandlerOptions, but AddSource may be changed after the handler
// has been constructed.
type HandlerOptions struct {
	// AddSource adds the source position of the log call
	// to records while it is true. A nil AddSource is false.
	AddSource *atomic.Bool

	// Level is the minimum record level that will be logged.
	Level slog.Leveler

	// ReplaceAttr rewrites each non-group attribute before
	// it is logged.
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
}

// Handler is a slog.Handler that switches between source and sourceless
// output according to its AddSource option.
type Handler struct {
	addSource *atomic.Bool
	with      slog.Handler
	without   slog.Handler
}

// NewJSONHandler returns a Handler writing line-delimited JSON records
// to w. If opts is nil, the default options are used.
func NewJSONHandler(w io.Writer, opts *HandlerOptions) *Handler {
	return newHandler(opts, func(o *slog.HandlerOptions) slog.Handler {
		return slog.NewJSONHandler(w, o)
	})
}

// NewTextHandler returns a Handler writing key=value records to w. If
// opts is nil, the default options are used.
func NewTextHandler(w io.Writer, opts *HandlerOptions) *Handler {
	return newHandler(opts, func(o *slog.HandlerOptions) slog.Handler {
		return slog.NewTextHandler(w, o)
	})
}

func newHandler(opts *HandlerOptions, handler func(*slog.HandlerOptions) slog.Handler) *Handler {
	var o HandlerOptions
	if opts != nil {
		o = *opts
	}
	if o.AddSource == nil {
		o.AddSource = &atomic.Bool{}
	}
	return &Handler{
		addSource: o.AddSource,
		with:      handler(&slog.HandlerOptions{AddSource: true, Level: o.Level, ReplaceAttr: o.ReplaceAttr}),
		without:   handler(&slog.HandlerOptions{AddSource: false, Level: o.Level, ReplaceAttr: o.ReplaceAttr}),
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.without.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.addSource.Load() {
		return h.with.Handle(ctx, r)
	}
	return h.without.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		addSource: h.addSource,
		with:      h.with.WithAttrs(attrs),
		without:   h.without.WithAttrs(attrs),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		addSource: h.addSource,
		with:      h.with.WithGroup(name),
		without:   h.without.WithGroup(name),
	}
}

// NewAtomicBool returns an atomic.Bool holding t.
func NewAtomicBool(t bool) *atomic.Bool {
	var b atomic.Bool
	b.Store(t)
	return &b
}

// GoID is a slog.Handler that adds the calling goroutine's id to records.
type GoID struct {
	slog.Handler
}

func (h GoID) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.Int64("goid", goroutine.ID()))
	return h.Handler.Handle(ctx, r)
}

func (h GoID) WithAttrs(attrs []slog.Attr) slog.Handler {
	return GoID{h.Handler.WithAttrs(attrs)}
}

func (h GoID) WithGroup(name string) slog.Handler {
	return GoID{h.Handler.WithGroup(name)}
}

// Stringer is a slog.LogValuer that logs a fmt.Stringer as its string.
type Stringer struct {
	fmt.Stringer
}

func (v Stringer) LogValue() slog.Value {
	if v.Stringer == nil {
		return slog.StringValue("<nil>")
	}
	return slog.StringValue(v.String())
}

// Request is a slog.LogValuer for control requests.
type Request struct {
	*jsonrpc2.Request
}

func (v Request) LogValue() slog.Value {
	if v.Request == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{slog.String("method", v.Method)}
	if v.ID.IsValid() {
		attrs = append(attrs, slog.Any("id", v.ID.Raw()))
	}
	if len(v.Params) != 0 {
		attrs = append(attrs, slog.Any("params", json.RawMessage(v.Params)))
	}
	return slog.GroupValue(attrs...)
}
