// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/kortschak/jsonrpc2"
)

// ctlListener is a jsonrpc2.Listener for the control server. Unix
// sockets are placed in a private directory that is removed when the
// listener is closed.
type ctlListener struct {
	net net.Listener
	dir string
	log *slog.Logger
}

// listen returns a listener on network. Unix sockets are created in a
// new directory within dir, and tcp listeners are bound to an ephemeral
// loopback port.
func listen(ctx context.Context, network, dir string, options jsonrpc2.NetListenOptions, log *slog.Logger) (*ctlListener, error) {
	l := &ctlListener{log: log}
	var addr string
	switch network {
	case "tcp":
		addr = "localhost:0"
	case "unix":
		var err error
		l.dir, err = os.MkdirTemp(dir, fmt.Sprintf("sock-%d-*", os.Getpid()))
		if err != nil {
			return nil, err
		}
		addr = filepath.Join(l.dir, "ctl")
		log.LogAttrs(ctx, slog.LevelDebug, "control socket", slog.String("path", addr))
	default:
		return nil, fmt.Errorf("invalid network: %q", network)
	}
	var err error
	l.net, err = options.NetListenConfig.Listen(ctx, network, addr)
	if err != nil {
		l.removeDir()
		return nil, err
	}
	return l, nil
}

// Addr returns the listener's network address.
func (l *ctlListener) Addr() net.Addr {
	return l.net.Addr()
}

// Accept blocks waiting for an incoming connection to the listener.
func (l *ctlListener) Accept(context.Context) (io.ReadWriteCloser, error) {
	return l.net.Accept()
}

// Close stops listening and removes any socket directory. Connections
// that have already been accepted are not closed.
func (l *ctlListener) Close() error {
	err := l.net.Close()
	l.removeDir()
	return err
}

func (l *ctlListener) removeDir() {
	if l.dir == "" {
		return
	}
	l.log.LogAttrs(context.Background(), slog.LevelDebug, "remove socket dir", slog.String("dir", l.dir))
	err := os.RemoveAll(l.dir)
	if err != nil {
		l.log.LogAttrs(context.Background(), slog.LevelWarn, "failed to remove socket dir", slog.Any("error", err))
	}
	l.dir = ""
}

// Dialer returns a nil jsonrpc2.Dialer.
func (l *ctlListener) Dialer() jsonrpc2.Dialer {
	return nil
}
