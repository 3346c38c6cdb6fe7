// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc provides the flipbook JSON RPC 2 control protocol.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kortschak/jsonrpc2"
)

// Control methods. All methods are calls that take a Message and
// return a Message, except stop which may also be sent as a notification.
const (
	Who      = "who"      // call Message[None] → Message[string] (version)
	Play     = "play"     // call Message[None] → Message[viewer.Status]
	Pause    = "pause"    // call Message[None] → Message[viewer.Status]
	Toggle   = "toggle"   // call Message[None] → Message[viewer.Status]
	Next     = "next"     // call Message[None] → Message[viewer.Status]
	Prev     = "prev"     // call Message[None] → Message[viewer.Status]
	Seek     = "seek"     // call Message[int] → Message[viewer.Status]
	FPS      = "fps"      // call Message[float64] → Message[viewer.Status]
	Volume   = "volume"   // call Message[float64] → Message[viewer.Status]
	Audio    = "audio"    // call Message[None] → Message[viewer.Status]
	State    = "state"    // call Message[None] → Message[viewer.Status]
	Progress = "progress" // call Message[None] → Message[loader.Progress]
	Snapshot = "snapshot" // call Message[None] → Message[string] (PNG data URI)
	Stop     = "stop"     // call or notify Message[None] → Message[string]
)

// JSON RPC error codes.
const (
	ErrCodeInvalidMessage = 1 // an RPC message is invalid
	// Invalid message sub-codes:
	ErrCodeMessageSyntax       = 11 // syntax
	ErrCodeMessageUnknownField = 12 // unknown field
	ErrCodeShortMessage        = 13 // truncation
	ErrCodeMessageType         = 14 // type mismatch
	ErrCodeMethod              = 15 // method mismatch
	ErrCodeParameters          = 16 // invalid parameters

	ErrCodeInvalidData = 3 // data sent in a call was invalid
	// Invalid data sub-codes:
	ErrCodeNotReady = 31 // frames are not loaded
	ErrCodeBounds   = 35 // out of bounds
	ErrCodeImage    = 36 // image data

	ErrCodeInternal = 4 // an internal error happened
)

// Message is the envelope for call parameters and results.
type Message[T any] struct {
	Time time.Time `json:"time"`
	From string    `json:"from,omitempty"`
	Body T         `json:"body,omitempty"`
}

// NewMessage returns a Message from the named sender holding body,
// stamped with the current time.
func NewMessage[T any](from string, body T) *Message[T] {
	return &Message[T]{
		Time: time.Now(),
		From: from,
		Body: body,
	}
}

// UnmarshalMessage decodes data into v, rejecting unknown fields and
// trailing data. Decoding failures are returned as *jsonrpc2.WireError
// with ErrorData describing the failure.
func UnmarshalMessage[T any](data []byte, v *Message[T]) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return decodeError(err, data)
	}
	if dec.More() {
		off := dec.InputOffset()
		return NewError(ErrCodeInvalidMessage,
			fmt.Sprintf("trailing data after message at offset %d", off),
			ErrorData{Type: ErrCodeMessageSyntax, Offset: off, Msg: data},
		)
	}
	return nil
}

// decodeError classifies a JSON decoding error.
func decodeError(err error, data []byte) error {
	d := ErrorData{Msg: data}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr):
		d.Type = ErrCodeMessageSyntax
		d.Offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		d.Type = ErrCodeMessageType
		d.Offset = typeErr.Offset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		d.Type = ErrCodeShortMessage
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		d.Type = ErrCodeMessageUnknownField
	}
	return NewError(ErrCodeInvalidMessage, err.Error(), d)
}

// ErrorData is the data held by RPC errors.
type ErrorData struct {
	// Type is the error sub-code.
	Type int `json:"type,omitempty"`
	// Method is the method that failed.
	Method string `json:"method,omitempty"`
	// Offset is the position of a decoding
	// failure in Msg.
	Offset int64  `json:"offset,omitempty"`
	Msg    []byte `json:"msg,omitempty"`
}

// NewError returns an error that will be encoded correctly in the RPC protocol.
func NewError(code int64, message string, data ErrorData) error {
	b, err := json.Marshal(data)
	if err != nil {
		b, _ = json.Marshal("!" + err.Error())
	}
	return &jsonrpc2.WireError{
		Code:    code,
		Message: message,
		Data:    b,
	}
}

// None is an empty parameter or response slot.
type None struct{}
