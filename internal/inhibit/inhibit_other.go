// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package inhibit

// Session is a no-op screen saver inhibitor.
type Session struct{}

// NewSession returns a Session.
func NewSession() (*Session, error) {
	return &Session{}, nil
}

// Inhibit is a no-op.
func (*Session) Inhibit(string) error { return nil }

// UnInhibit is a no-op.
func (*Session) UnInhibit() error { return nil }

// Close is a no-op.
func (*Session) Close() error { return nil }
