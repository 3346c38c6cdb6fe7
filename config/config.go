// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides flipbook configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/kortschak/ardilla"
)

// Config is a flipbook configuration file.
//
// Fields that are nil were not set in the file and leave the
// command's defaults or flags in place.
type Config struct {
	// FPS is the playback frame rate.
	FPS *float64 `json:"fps,omitempty" toml:"fps"`
	// Volume is the initial audio volume in [0, 1].
	Volume *float64 `json:"volume,omitempty" toml:"volume"`
	// Sprite indicates that frames should be assembled
	// into a sprite sheet.
	Sprite *bool `json:"sprite,omitempty" toml:"sprite"`
	// Cache is the sprite cache location. It is either a
	// path to an SQLite database or a postgres:// DSN.
	Cache *string `json:"cache,omitempty" toml:"cache"`
	// Network is the network the control server listens on.
	Network string `json:"network,omitempty" toml:"network"`
	// Deck is the Stream Deck that playback is mirrored to.
	Deck *Deck `json:"deck,omitempty" toml:"deck"`

	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`

	Sum *Sum `json:"sum,omitempty"`
}

// Deck identifies a Stream Deck device.
type Deck struct {
	// PID is the product ID of the device. Zero
	// selects the first available device.
	PID ardilla.PID `json:"pid,omitempty" toml:"pid"`
	// Serial is the device serial number.
	Serial *string `json:"serial,omitempty" toml:"serial"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	fps?:            number & >0 & <=240
	volume?:         number & >=0 & <=1
	sprite?:         bool
	cache?:          !=""
	network?:        "tcp" | "unix"
	deck?:           _#deck
	log_level?:      _#log_level
	log_add_source?: bool
	sum?:            =~"^[0-9a-f]{40}$"
}

_#deck: {
	pid:     *0 | uint16
	serial?: string
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	return err
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
