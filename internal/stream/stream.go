// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stream publishes playback state to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kortschak/flipbook/internal/loader"
	"github.com/kortschak/flipbook/internal/viewer"
)

// Event is the state sent to clients on each repaint.
type Event struct {
	State     viewer.State    `json:"state"`
	Frame     int             `json:"frame"`
	Count     int             `json:"count"`
	FPS       float64         `json:"fps"`
	Playing   bool            `json:"playing"`
	Volume    float64         `json:"volume"`
	PlayAudio bool            `json:"playAudio"`
	Progress  loader.Progress `json:"progress"`
	Err       string          `json:"error,omitempty"`
}

// NewEvent returns the event describing v.
func NewEvent(v viewer.View) Event {
	e := Event{
		State:     v.State,
		Frame:     v.Frame,
		Count:     v.ProgressBar.Max + 1,
		FPS:       v.Controls.FPS,
		Playing:   v.Controls.IsPlaying,
		Volume:    v.Controls.Volume,
		PlayAudio: v.Controls.PlayAudio,
		Progress:  v.Progress,
	}
	if v.State == viewer.Loading {
		e.Count = v.Progress.TotalFramesToLoad
	}
	if v.Err != nil {
		e.Err = v.Err.Error()
	}
	return e
}

const (
	// queueLen is the number of events held for a slow
	// client before events are dropped.
	queueLen = 16

	writeWait = 5 * time.Second
)

// Hub is an http.Handler that upgrades requests to websocket connections
// and sends an Event to every connection when Render is called.
type Hub struct {
	log *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a new Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log.With(slog.String("component", "stream")),
		clients: make(map[*client]struct{}),
	}
}

// Render sends the view's event to all connected clients. It does not
// block; clients that are not keeping up miss events.
func (h *Hub) Render(v viewer.View) {
	b, err := json.Marshal(NewEvent(v))
	if err != nil {
		h.log.LogAttrs(context.Background(), slog.LevelError, "marshal event", slog.Any("error", err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = b
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.log.LogAttrs(context.Background(), slog.LevelDebug, "drop event", slog.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.LogAttrs(ctx, slog.LevelWarn, "upgrade", slog.Any("error", err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, queueLen)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()
	h.log.LogAttrs(ctx, slog.LevelInfo, "client connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.write(c)
	// Clients are not expected to send anything, but reading
	// is needed to see control frames and disconnection.
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
	h.remove(c)
	h.log.LogAttrs(ctx, slog.LevelInfo, "client disconnected", slog.String("remote", conn.RemoteAddr().String()))
}

func (h *Hub) write(c *client) {
	defer c.conn.Close()
	for b := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, b)
		if err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close disconnects all clients. Connections made after Close are
// refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

// Server is an HTTP server providing a Hub at /status.
type Server struct {
	hub *Hub
	lis net.Listener
	srv *http.Server
	log *slog.Logger
}

// Listen starts a Server for hub on the TCP address addr.
func Listen(ctx context.Context, addr string, hub *Hub, log *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/status", hub)
	s := &Server{
		hub: hub,
		lis: lis,
		srv: &http.Server{
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
		log: log.With(slog.String("component", "stream")),
	}
	go func() {
		err := s.srv.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.LogAttrs(ctx, slog.LevelError, "serve", slog.Any("error", err))
		}
	}()
	return s, nil
}

// Addr returns the server's network address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Close stops the server and disconnects all clients.
func (s *Server) Close() error {
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
