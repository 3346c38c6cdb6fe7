// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/loader"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/viewer"
)

// Player is the playback control surface exposed by a Server.
type Player interface {
	Play()
	Pause()
	TogglePlay()
	Next()
	Prev()
	Seek(int) error
	SetFPS(float64) error
	SetVolume(float64) error
	ToggleAudio()
	Status() viewer.Status
	Progress() loader.Progress
	Snapshot() *image.RGBA
}

// Server is a JSON RPC 2 playback control server.
type Server struct {
	listener *ctlListener
	server   *jsonrpc2.Server
	network  string

	player Player
	stop   func()

	log *slog.Logger
}

// serverName is the sender name of server messages.
const serverName = "flipbook.rpc"

// NewServer returns a new Server controlling player over the provided
// network which may be either "unix" or "tcp". Unix sockets are created
// in a temporary directory within dir. The stop function is called when
// a stop request is received.
func NewServer(ctx context.Context, network, dir string, player Player, stop func(), options jsonrpc2.NetListenOptions, log *slog.Logger) (*Server, error) {
	s := Server{
		network: network,
		player:  player,
		stop:    stop,
		log:     log.With(slog.String("component", serverName)),
	}

	var err error
	s.listener, err = listen(ctx, network, dir, options, s.log)
	if err != nil {
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelDebug, "new server", slog.String("network", s.network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))

	res, err := s.handle(ctx, req)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
		return nil, err
	}
	if !req.IsCall() {
		if res != nil {
			s.log.LogAttrs(ctx, slog.LevelDebug, "dropping notify result", slog.String("method", req.Method))
		}
		return nil, nil
	}
	return res, nil
}

func (s *Server) handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case Who:
		_, err := unmarshal[None](req)
		if err != nil {
			return nil, err
		}
		v, err := version.String()
		if err != nil {
			v = err.Error()
		}
		return NewMessage(serverName, v), nil

	case Play, Pause, Toggle, Next, Prev, Audio, State:
		_, err := unmarshal[None](req)
		if err != nil {
			return nil, err
		}
		switch req.Method {
		case Play:
			s.player.Play()
		case Pause:
			s.player.Pause()
		case Toggle:
			s.player.TogglePlay()
		case Next:
			s.player.Next()
		case Prev:
			s.player.Prev()
		case Audio:
			s.player.ToggleAudio()
		}
		return NewMessage(serverName, s.player.Status()), nil

	case Seek:
		m, err := unmarshal[int](req)
		if err != nil {
			return nil, err
		}
		err = s.player.Seek(m.Body)
		if err != nil {
			return nil, playerError(req.Method, err)
		}
		return NewMessage(serverName, s.player.Status()), nil

	case FPS, Volume:
		m, err := unmarshal[float64](req)
		if err != nil {
			return nil, err
		}
		if req.Method == FPS {
			err = s.player.SetFPS(m.Body)
		} else {
			err = s.player.SetVolume(m.Body)
		}
		if err != nil {
			return nil, playerError(req.Method, err)
		}
		return NewMessage(serverName, s.player.Status()), nil

	case Progress:
		_, err := unmarshal[None](req)
		if err != nil {
			return nil, err
		}
		return NewMessage(serverName, s.player.Progress()), nil

	case Snapshot:
		_, err := unmarshal[None](req)
		if err != nil {
			return nil, err
		}
		img := s.player.Snapshot()
		if img == nil {
			return nil, NewError(ErrCodeInvalidData, "frames not loaded", ErrorData{Type: ErrCodeNotReady, Method: req.Method})
		}
		var buf bytes.Buffer
		err = png.Encode(&buf, img)
		if err != nil {
			return nil, NewError(ErrCodeInternal, err.Error(), ErrorData{Type: ErrCodeImage, Method: req.Method})
		}
		return NewMessage(serverName, loader.EncodeDataURI("image/png", buf.Bytes())), nil

	case Stop:
		s.log.LogAttrs(ctx, slog.LevelInfo, "stop requested")
		if s.stop != nil {
			go s.stop()
		}
		return NewMessage(serverName, "ok"), nil

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
}

// unmarshal strictly decodes the parameters of req.
func unmarshal[T any](req *jsonrpc2.Request) (Message[T], error) {
	var m Message[T]
	err := UnmarshalMessage(req.Params, &m)
	return m, err
}

// playerError converts an error returned by a Player into an RPC error.
func playerError(method string, err error) error {
	typ := ErrCodeParameters
	if errors.Is(err, viewer.ErrFrameRange) {
		typ = ErrCodeBounds
	}
	return NewError(ErrCodeInvalidData, err.Error(), ErrorData{Type: typ, Method: method})
}

// Close closes the server.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	return s.server.Wait()
}
