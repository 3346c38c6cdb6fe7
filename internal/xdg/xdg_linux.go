// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package xdg

// https://specifications.freedesktop.org/basedir-spec/basedir-spec-0.8.html
var (
	// ConfigHome is $XDG_CONFIG_HOME or $HOME/.config.
	ConfigHome = Base{Env: "XDG_CONFIG_HOME", Default: ".config"}
	// ConfigDirs is $XDG_CONFIG_DIRS or /etc/xdg.
	ConfigDirs = Base{Env: "XDG_CONFIG_DIRS", Default: "/etc/xdg"}
	// CacheHome is $XDG_CACHE_HOME or $HOME/.cache.
	CacheHome = Base{Env: "XDG_CACHE_HOME", Default: ".cache"}
	// RuntimeDir is $XDG_RUNTIME_DIR. It is not
	// constructed when unset.
	RuntimeDir = Base{Env: "XDG_RUNTIME_DIR"}
)
