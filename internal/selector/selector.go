// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package selector chooses and orders frames using CEL expressions.
//
// The expression is evaluated with two variables:
//
//	frames: list of {"index": int, "uri": string, "name": string, "ext": string}
//	count:  int
//
// and must return a list. Each element of the list selects a frame: an
// int is an index into frames, a string is a frame URI and a map is
// taken to be a frame and its "uri" field is used. Elements may be
// repeated.
//
// Examples:
//
//	frames.filter(f, f.index % 2 == 0)      // every second frame
//	frames.filter(f, f.ext == ".png")       // only PNG frames
//	[count-1, 0]                            // last then first
//	frames.map(f, count-1-f.index)          // reversed
//
// In addition to the standard library, the following functions are
// available:
//
//	basename(<string>) -> <string>  // also <string>.basename()
//	ext(<string>) -> <string>       // also <string>.ext()
//	debug(<string>, <dyn>) -> <dyn>
//
// debug returns its second argument unaltered and logs it with the
// first argument as a tag.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrEmpty is returned when a selection holds no frames.
var ErrEmpty = errors.New("empty selection")

// Selector is a compiled frame selection expression.
type Selector struct {
	src string
	prg cel.Program
	log *slog.Logger
}

// Compile compiles the CEL expression in src.
func Compile(src string, log *slog.Logger) (*Selector, error) {
	log = log.With(slog.String("component", "selector"))
	env, err := cel.NewEnv(
		cel.Lib(lib{log: log}),
		cel.Variable("frames", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create env: %v", err)
	}

	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed compilation: %v", iss.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed program instantiation: %v", err)
	}
	return &Selector{src: src, prg: prg, log: log}, nil
}

// String returns the selector's source expression.
func (s *Selector) String() string { return s.src }

// Select returns the frames chosen by the expression from uris.
func (s *Selector) Select(uris []string) ([]string, error) {
	frames := make([]any, len(uris))
	for i, u := range uris {
		frames[i] = map[string]any{
			"index": i,
			"uri":   u,
			"name":  path.Base(u),
			"ext":   path.Ext(u),
		}
	}
	out, _, err := s.prg.Eval(map[string]any{
		"frames": frames,
		"count":  len(uris),
	})
	if err != nil {
		return nil, fmt.Errorf("failed eval: %v", err)
	}
	v, err := out.ConvertToNative(reflect.TypeOf((*structpb.Value)(nil)))
	if err != nil {
		return nil, fmt.Errorf("failed proto conversion: %v", err)
	}
	val := v.(*structpb.Value)
	list := val.GetListValue()
	if list == nil {
		b, _ := protojson.MarshalOptions{}.Marshal(val)
		return nil, fmt.Errorf("selection is not a list: %s", b)
	}

	sel := make([]string, 0, len(list.Values))
	for i, e := range list.Values {
		switch k := e.Kind.(type) {
		case *structpb.Value_NumberValue:
			f := k.NumberValue
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("selection element %d: non-integer index %v", i, f)
			}
			if f < 0 || int(f) >= len(uris) {
				return nil, fmt.Errorf("selection element %d: index %v out of range", i, f)
			}
			sel = append(sel, uris[int(f)])
		case *structpb.Value_StringValue:
			sel = append(sel, k.StringValue)
		case *structpb.Value_StructValue:
			u, ok := k.StructValue.GetFields()["uri"]
			if !ok || u.GetStringValue() == "" {
				return nil, fmt.Errorf("selection element %d: frame has no uri", i)
			}
			sel = append(sel, u.GetStringValue())
		default:
			b, _ := protojson.MarshalOptions{}.Marshal(e)
			return nil, fmt.Errorf("selection element %d: invalid type: %s", i, b)
		}
	}
	if len(sel) == 0 {
		return nil, ErrEmpty
	}
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "selected frames", slog.Int("from", len(uris)), slog.Int("selected", len(sel)))
	return sel, nil
}

type lib struct {
	log *slog.Logger
}

func (l lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("basename",
			cel.Overload(
				"basename_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(stringFunc(path.Base)),
			),
			cel.MemberOverload(
				"string_basename",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(stringFunc(path.Base)),
			),
		),
		cel.Function("ext",
			cel.Overload(
				"ext_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(stringFunc(path.Ext)),
			),
			cel.MemberOverload(
				"string_ext",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(stringFunc(path.Ext)),
			),
		),
		cel.Function("debug",
			cel.Overload(
				"debug_string_dyn",
				[]*cel.Type{cel.StringType, cel.DynType},
				cel.DynType,
				cel.BinaryBinding(l.logDebug),
				cel.OverloadIsNonStrict(),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption { return nil }

func stringFunc(fn func(string) string) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		s, ok := arg.(types.String)
		if !ok {
			return types.ValOrErr(s, "no such overload")
		}
		return types.String(fn(string(s)))
	}
}

func (l lib) logDebug(arg0, arg1 ref.Val) ref.Val {
	tag, ok := arg0.(types.String)
	if !ok {
		return types.ValOrErr(tag, "no such overload")
	}
	val, err := arg1.ConvertToNative(reflect.TypeOf((*structpb.Value)(nil)))
	if err != nil {
		l.log.LogAttrs(context.Background(), slog.LevelError, "cel debug log error", slog.String("tag", string(tag)), slog.Any("error", err))
	} else {
		l.log.LogAttrs(context.Background(), slog.LevelDebug, "cel debug log", slog.String("tag", string(tag)), slog.Any("value", val))
	}
	return arg1
}
