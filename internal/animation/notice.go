// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/kortschak/flipbook/internal/text"
)

// Notice returns an image with the bounds of rect showing msg centred in
// the foreground color on the background color. Text that does not fit is
// truncated.
func Notice(msg string, rect image.Rectangle, fg, bg color.Color) *image.Paletted {
	pal := color.Palette{bg, fg}
	dst := image.NewPaletted(rect, pal)
	draw.Draw(dst, rect, &image.Uniform{bg}, image.Point{}, draw.Src)
	text.Draw(dst, msg, fg, basicfont.Face7x13, 0.5, 0.5)
	return dst
}

// ErrorImage returns a notice image describing err. If err is nil, the
// returned image is blank.
func ErrorImage(err error, rect image.Rectangle) *image.Paletted {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	return Notice(msg, rect, color.White, color.Black)
}
