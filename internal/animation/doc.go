// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides helpers for frame sequences: expansion of
// animated GIFs into composited frames, rendered text notices and a
// per-frame conversion cache.
package animation
