// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that unix sockets,
// the control endpoint and the pid lock are created in.
const RuntimeDir = "flipbook"

// EndpointFile is the name of the file within the runtime directory
// that holds the control server's address.
const EndpointFile = "endpoint.json"

// Dir returns the runtime directory, creating it if necessary. If no
// XDG runtime directory is available, a per-user directory in the
// system temporary directory is used.
func Dir() (string, error) {
	dir, err := xdg.RuntimeDir.Ensure(RuntimeDir, 0o700)
	if err == nil {
		return dir, nil
	}
	tmp := xdg.Base{Default: os.TempDir()}
	return tmp.Ensure(fmt.Sprintf("%s-%d", RuntimeDir, os.Getuid()), 0o700)
}

// Endpoint is the address of a control server.
type Endpoint struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
}

// WriteEndpoint writes the address of a server to the endpoint file
// in dir.
func WriteEndpoint(dir string, addr net.Addr) error {
	b, err := json.Marshal(Endpoint{Network: addr.Network(), Addr: addr.String()})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, EndpointFile), b, 0o600)
}

// ReadEndpoint reads the address of a server from the endpoint file
// in dir.
func ReadEndpoint(dir string) (Endpoint, error) {
	var e Endpoint
	b, err := os.ReadFile(filepath.Join(dir, EndpointFile))
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(b, &e)
	return e, err
}

// Client is a control client.
type Client struct {
	from string
	conn *jsonrpc2.Connection
}

// Dial returns a new Client connected to the server at the given address.
func Dial(ctx context.Context, network, addr string, dialer net.Dialer) (*Client, error) {
	conn, err := jsonrpc2.Dial(ctx, jsonrpc2.NetDialer(network, addr, dialer), jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	return &Client{from: "flipbook.ctl", conn: conn}, nil
}

// Call invokes the method on the server with the provided body and
// returns the body of the response.
func Call[T any](ctx context.Context, c *Client, method string, body any) (T, error) {
	var resp Message[T]
	err := c.conn.Call(ctx, method, NewMessage(c.from, body)).Await(ctx, &resp)
	return resp.Body, err
}

// Notify invokes the method on the server but does not wait for a
// response.
func (c *Client) Notify(ctx context.Context, method string, body any) error {
	return c.conn.Notify(ctx, method, NewMessage(c.from, body))
}

// Close closes the client's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ParseCommand parses a command of the form method[=arg] into a method
// and message body suitable for Call.
func ParseCommand(cmd string) (method string, body any, err error) {
	method, arg, hasArg := strings.Cut(cmd, "=")
	switch method {
	case Seek:
		if !hasArg {
			return "", nil, errors.New("seek requires a frame index")
		}
		i, err := strconv.Atoi(arg)
		if err != nil {
			return "", nil, fmt.Errorf("invalid frame index: %w", err)
		}
		return method, i, nil
	case FPS, Volume:
		if !hasArg {
			return "", nil, fmt.Errorf("%s requires a value", method)
		}
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid %s value: %w", method, err)
		}
		return method, f, nil
	case Who, Play, Pause, Toggle, Next, Prev, Audio, State, Progress, Snapshot, Stop:
		if hasArg {
			return "", nil, fmt.Errorf("%s does not take a value", method)
		}
		return method, None{}, nil
	default:
		return "", nil, fmt.Errorf("unknown method: %q", method)
	}
}
