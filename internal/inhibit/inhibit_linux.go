// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package inhibit

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	dest = "org.freedesktop.ScreenSaver"
	path = "/org/freedesktop/ScreenSaver"
)

// Session inhibits the screen saver via the session DBus. It is safe for
// concurrent use.
type Session struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	cookie uint32
	held   bool
}

// NewSession returns a Session connected to the session DBus.
func NewSession() (*Session, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}

// Inhibit inhibits the screen saver. It is a no-op if the screen saver
// is already inhibited by the Session.
func (s *Session) Inhibit(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("closed")
	}
	if s.held {
		return nil
	}
	cookie, err := dbusCall[uint32](s.conn, dest, path, dest+".Inhibit", "flipbook", reason)
	if err != nil {
		return err
	}
	s.cookie = cookie
	s.held = true
	return nil
}

// UnInhibit releases an inhibition held by the Session.
func (s *Session) UnInhibit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}

func (s *Session) release() error {
	if s.conn == nil {
		return errors.New("closed")
	}
	if !s.held {
		return nil
	}
	err := s.conn.Object(dest, dbus.ObjectPath(path)).Call(dest+".UnInhibit", 0, s.cookie).Err
	if err != nil {
		return err
	}
	s.held = false
	return nil
}

// Close releases any inhibition and the connection to the session DBus.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := errors.Join(s.release(), s.conn.Close())
	s.conn = nil
	return err
}

func dbusCall[T any](conn *dbus.Conn, dest, path, method string, args ...any) (T, error) {
	var v T
	c := conn.Object(dest, dbus.ObjectPath(path)).Call(method, 0, args...)
	err := c.Store(&v)
	if err != nil {
		return v, err
	}
	return v, nil
}
