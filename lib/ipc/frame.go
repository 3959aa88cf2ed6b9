// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/tracecathq/executor/lib/schema"
)

// MaxFrameSize bounds a single frame. A length prefix above this is
// treated as corruption rather than an allocation request.
const MaxFrameSize = 64 << 20

// lengthPrefixSize is the size of the big-endian length header.
const lengthPrefixSize = 4

// WriteFrame writes payload as one frame. The header and payload are
// written in a single call so a frame is never interleaved on a shared
// writer.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return &ProtocolError{Op: "write", Err: fmt.Errorf("frame of %d bytes exceeds maximum %d", len(payload), MaxFrameSize)}
	}
	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)
	if _, err := w.Write(frame); err != nil {
		return &ProtocolError{Op: "write", Err: err}
	}
	return nil
}

// ReadFrame reads one frame. Short reads loop until the declared
// length is consumed. A clean EOF before any header byte is returned
// as io.EOF (wrapped) so servers can tell an idle disconnect from a
// truncated frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Op: "read-length", Err: fmt.Errorf("truncated length prefix: %w", err)}
		}
		return nil, &ProtocolError{Op: "read-length", Err: err}
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, &ProtocolError{Op: "read-length", Err: fmt.Errorf("declared frame length %d exceeds maximum %d", length, MaxFrameSize)}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &ProtocolError{Op: "read-body", Err: err}
	}
	return payload, nil
}

// WriteMessage JSON-encodes value and writes it as one frame.
func WriteMessage(w io.Writer, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return &ProtocolError{Op: "encode", Err: err}
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and JSON-decodes it into value.
func ReadMessage(r io.Reader, value any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := schema.DecodeJSON(payload, value); err != nil {
		return &ProtocolError{Op: "decode", Err: err}
	}
	return nil
}

// WriteRequest writes a framed request.
func WriteRequest(w io.Writer, request *Request) error {
	return WriteMessage(w, request)
}

// ReadRequest reads a framed request.
func ReadRequest(r io.Reader) (*Request, error) {
	var request Request
	if err := ReadMessage(r, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

// WriteResult writes a framed executor result.
func WriteResult(w io.Writer, result schema.ExecutorResult) error {
	return WriteMessage(w, result)
}

// ReadResult reads a framed executor result.
func ReadResult(r io.Reader) (schema.ExecutorResult, error) {
	var result schema.ExecutorResult
	if err := ReadMessage(r, &result); err != nil {
		return schema.ExecutorResult{}, err
	}
	return result, nil
}
