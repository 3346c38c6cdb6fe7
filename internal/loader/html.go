// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loader

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ImageSources returns the src attributes of the img elements in the HTML
// document read from r, in document order. Relative references are
// resolved against base if it is not nil. Elements with an empty src are
// ignored.
func ImageSources(r io.Reader, base *url.URL) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var (
		srcs []string
		walk func(*html.Node) error
	)
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for _, a := range n.Attr {
				if a.Key != "src" {
					continue
				}
				src := strings.TrimSpace(a.Val)
				if src == "" {
					break
				}
				if base != nil && !strings.HasPrefix(src, "data:") {
					ref, err := url.Parse(src)
					if err != nil {
						return err
					}
					src = base.ResolveReference(ref).String()
				}
				srcs = append(srcs, src)
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			err := walk(c)
			if err != nil {
				return err
			}
		}
		return nil
	}
	err = walk(doc)
	if err != nil {
		return nil, err
	}
	return srcs, nil
}
