// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frames provides frame index navigation.
package frames

// Store holds the current frame index of a sequence of n frames.
// The zero value is not usable; construct with New.
type Store struct {
	current int
	n       int
}

// New returns a Store for n frames positioned at frame zero. New panics
// if n is less than one.
func New(n int) *Store {
	if n < 1 {
		panic("frames: empty sequence")
	}
	return &Store{n: n}
}

// Next advances the current frame, wrapping to zero after the last
// frame, and returns the new index.
func (s *Store) Next() int {
	s.current = (s.current + 1) % s.n
	return s.current
}

// Prev steps back one frame, wrapping to the last frame before zero,
// and returns the new index.
func (s *Store) Prev() int {
	s.current = (s.current - 1 + s.n) % s.n
	return s.current
}

// Seek sets the current frame to i. The index is not wrapped; callers
// are expected to provide an index in [0, Len()).
func (s *Store) Seek(i int) int {
	s.current = i
	return s.current
}

// Current returns the current frame index.
func (s *Store) Current() int { return s.current }

// Len returns the number of frames.
func (s *Store) Len() int { return s.n }
