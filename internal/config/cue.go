// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"golang.org/x/exp/constraints"

	"github.com/kortschak/flipbook/config"
)

// Validator checks configuration values against a compiled CUE schema.
// It is safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	schema cue.Value
	codec  *gocodec.Codec
}

// NewValidator compiles the CUE schema in src.
func NewValidator(src string) (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &Validator{schema: v, codec: gocodec.New(ctx, nil)}, nil
}

// flipbookSchema is the validator for config.Schema.
var flipbookSchema = sync.OnceValues(func() (*Validator, error) {
	return NewValidator(config.Schema)
})

// Validate validates cfg against config.Schema. See Validator.Validate.
func Validate(cfg any) (paths [][]string, err error) {
	v, err := flipbookSchema()
	if err != nil {
		return nil, err
	}
	return v.Validate(cfg)
}

// Validate returns the sorted list of field paths of cfg that do not
// satisfy the schema and a CUE errors.Error describing them. Errors
// that are not associated with a field are reported in err without a
// path.
func (v *Validator) Validate(cfg any) (paths [][]string, err error) {
	// The CUE runtime is not safe for concurrent use.
	v.mu.Lock()
	defer v.mu.Unlock()

	w, err := v.codec.Decode(cfg)
	if err != nil {
		return nil, err
	}
	err = v.schema.Unify(w).Validate(cue.Concrete(true), cue.Final())
	errs := cerrors.Errors(err)
	if len(errs) == 0 {
		return nil, nil
	}
	paths = make([][]string, 0, len(errs))
	for _, e := range errs {
		if p := cerrors.Path(e); len(p) != 0 {
			paths = append(paths, p)
		}
	}
	return unique(paths), cerrors.Promote(err, "invalid config")
}

// unique returns paths lexically sorted in ascending order with repeated
// and empty elements omitted.
func unique(paths [][]string) [][]string {
	paths = slices.DeleteFunc(paths, func(p []string) bool { return len(p) == 0 })
	if len(paths) == 0 {
		return nil
	}
	slices.SortFunc(paths, compare[string])
	return slices.CompactFunc(paths, func(a, b []string) bool {
		return compare(a, b) == 0
	})
}

// compare returns the lexical order of a and b.
func compare[T constraints.Ordered](a, b []T) int {
	for i := range min(len(a), len(b)) {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return +1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return +1
	}
	return 0
}
