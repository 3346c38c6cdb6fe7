// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package term

func MakeRaw(fd int) (restore func() error, err error) { return nil, ErrUnsupported }

func Size(fd int) (cols, rows int, err error) { return 0, 0, ErrUnsupported }

func IsTerminal(fd int) bool { return false }
