// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdg locates per-user configuration, cache and runtime
// directories following the XDG base directory conventions.
package xdg

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Base is a base directory.
type Base struct {
	// Env is the environment variable that overrides
	// Default. It is empty if the platform has none.
	Env string
	// Default is used when Env is not set. A relative
	// Default is relative to $HOME. An empty Default
	// means there is no fallback.
	Default string
}

// Path returns the path or path list of the base directory and whether
// it is available. An empty environment variable is treated as unset.
func (b Base) Path() (string, bool) {
	if b.Env != "" {
		val := os.Getenv(b.Env)
		if val != "" {
			return val, true
		}
	}
	switch {
	case b.Default == "":
		return "", false
	case filepath.IsAbs(b.Default):
		return b.Default, true
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", false
	}
	return filepath.Join(home, b.Default), true
}

// Ensure returns the path to the named directory within the base
// directory, creating it with perm if it does not exist.
func (b Base) Ensure(name string, perm fs.FileMode) (string, error) {
	base, ok := b.Path()
	if !ok {
		return "", fmt.Errorf("no base directory for %s", name)
	}
	path := filepath.Join(base, name)
	err := os.MkdirAll(path, perm)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Find returns the path to the named file in the first of bases that
// holds it. A base may hold a path list. If no file is found, the
// returned error wraps fs.ErrNotExist.
func Find(name string, bases ...Base) (string, error) {
	for _, b := range bases {
		list, ok := b.Path()
		if !ok {
			continue
		}
		for _, dir := range filepath.SplitList(list) {
			path := filepath.Join(dir, name)
			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}
	}
	return "", &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
}
