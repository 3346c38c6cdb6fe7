// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Resolver is the default Fetcher. It resolves
//
//   - data URIs with an image media type in base64 or percent encoding,
//   - data:text/filename URIs naming a local file,
//   - http and https URLs,
//   - file URLs and
//   - local paths.
//
// Relative paths are resolved against Dir and a leading "~/" is expanded
// to the user's home directory.
type Resolver struct {
	// Dir is the base directory for relative paths.
	Dir string

	// Client is used for http and https requests.
	// If nil, http.DefaultClient is used.
	Client *http.Client
}

// Fetch opens and decodes the image at uri.
func (r *Resolver) Fetch(ctx context.Context, uri string) (image.Image, error) {
	rc, err := r.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// Open returns a reader for the resource at uri.
func (r *Resolver) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		d, err := ParseDataURI(uri)
		if err != nil {
			return nil, err
		}
		switch d.MediaType {
		case "text/filename":
			return r.openFile(string(d.Data))
		default:
			if !strings.HasPrefix(d.MediaType, "image/") && !strings.HasPrefix(d.MediaType, "audio/") {
				return nil, fmt.Errorf("unsupported media type: %s", d.MediaType)
			}
			return io.NopCloser(bytes.NewReader(d.Data)), nil
		}
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return r.get(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, err
		}
		return r.openFile(u.Path)
	default:
		return r.openFile(uri)
	}
}

func (r *Resolver) get(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	cli := r.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: %s", uri, resp.Status)
	}
	return resp.Body, nil
}

func (r *Resolver) openFile(path string) (io.ReadCloser, error) {
	path, ok := strings.CutPrefix(path, "~/")
	if ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("file: %w", err)
		}
		path = filepath.Join(home, path)
	}
	if !filepath.IsAbs(path) && r.Dir != "" {
		path = filepath.Join(r.Dir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}
	return f, nil
}

// DataURI is a parsed RFC 2397 data URI.
type DataURI struct {
	MediaType string
	Params    map[string]string
	Data      []byte
}

// ParseDataURI parses a data URI of the form
//
//	data:[<mediatype>][;<param>=<value>]*[;base64],<data>
//
// An empty media type is text/plain.
func ParseDataURI(uri string) (*DataURI, error) {
	u, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("invalid scheme: %s", trunc(uri))
	}
	head, val, ok := strings.Cut(u, ",")
	if !ok {
		return nil, fmt.Errorf("invalid data uri: %s", trunc(uri))
	}
	head, isBase64 := cutSuffix(head, ";base64")
	mtyp, par, _ := strings.Cut(head, ";")
	if mtyp == "" {
		mtyp = "text/plain"
	}
	params, err := getParams(par)
	if err != nil {
		return nil, err
	}
	d := &DataURI{MediaType: strings.ToLower(strings.TrimSpace(mtyp)), Params: params}
	if isBase64 {
		d.Data, err = base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
	} else {
		s, err := url.PathUnescape(val)
		if err != nil {
			return nil, err
		}
		d.Data = []byte(s)
	}
	return d, nil
}

// EncodeDataURI returns a base64 data URI holding data.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func cutSuffix(s, suffix string) (string, bool) {
	if strings.HasSuffix(strings.ToLower(s), suffix) {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}

func getParams(par string) (map[string]string, error) {
	if par == "" {
		return nil, nil
	}
	param := make(map[string]string)
	for _, kv := range strings.Split(par, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return nil, fmt.Errorf("invalid params: %s", par)
		}
		var err error
		param[strings.TrimSpace(k)], err = url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
	}
	return param, nil
}

func trunc(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
