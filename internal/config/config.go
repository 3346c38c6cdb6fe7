// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration file loading, validation and
// live reloading.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"hash"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/flipbook/config"
)

// Alias the publicly visible types.
type (
	Config = config.Config
	Deck   = config.Deck
	Sum    = config.Sum
)

// FileName is the name of the configuration file within the flipbook
// configuration directory.
const FileName = "flipbook.toml"

// Read returns the configuration held in the file at path. Invalid
// fields are removed from the returned configuration and reported in
// the returned error. If the file cannot be read or parsed, the returned
// configuration is nil.
func Read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := unmarshalConfig(sha1.New(), b)
	return cfg, err
}

// unmarshalConfig returns a, potentially partial, configuration and its
// semantic hash from the provided raw data.
func unmarshalConfig(h hash.Hash, b []byte) (cfg *Config, sum Sum, _ error) {
	c := &Config{}
	err := toml.Unmarshal(b, c)
	if err != nil {
		return nil, sum, err
	}
	c.Sum = nil

	paths, deferredErr := Validate(c)
	if deferredErr != nil {
		remove(c, paths)
	}

	err = json.NewEncoder(h).Encode(c)
	if err != nil {
		return nil, sum, err
	}
	sum = ([sha1.Size]byte)(h.Sum(nil))
	h.Reset()
	c.Sum = &sum
	return c, sum, deferredErr
}

// remove clears the top-level fields of cfg that correspond to invalid
// field paths identified by Validate.
func remove(cfg *Config, paths [][]string) {
	for _, p := range paths {
		if len(p) == 0 {
			// Not all cue Errors will have a path.
			continue
		}
		switch p[0] {
		case "fps":
			cfg.FPS = nil
		case "volume":
			cfg.Volume = nil
		case "sprite":
			cfg.Sprite = nil
		case "cache":
			cfg.Cache = nil
		case "network":
			cfg.Network = ""
		case "deck":
			cfg.Deck = nil
		case "log_level":
			cfg.LogLevel = nil
		case "log_add_source":
			cfg.AddSource = nil
		}
	}
}
