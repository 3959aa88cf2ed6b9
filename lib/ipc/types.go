// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"

	"github.com/tracecathq/executor/lib/schema"
)

// Request is the payload of a request frame: the run input, the
// caller's role, and the pre-resolved context the worker executes
// against.
type Request struct {
	Input           schema.RunActionInput   `json:"input"`
	Role            schema.Role             `json:"role"`
	ResolvedContext *schema.ResolvedContext `json:"resolved_context"`
}

// Validate checks that a request carries what a worker needs. Workers
// never resolve context themselves.
func (r *Request) Validate() error {
	if err := r.Input.Validate(); err != nil {
		return err
	}
	if r.ResolvedContext == nil {
		return fmt.Errorf("resolved_context is required")
	}
	return r.ResolvedContext.ActionImpl.Validate()
}

// ProtocolError reports a transport or framing failure. It is never
// produced by action code.
type ProtocolError struct {
	// Op names the protocol step that failed: "dial", "write",
	// "read-length", "read-body", "decode", "encode".
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ipc %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var protocolError *ProtocolError
	return errors.As(err, &protocolError)
}
