// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tracecathq/executor/lib/schema"
)

// dialTimeout bounds only the connect phase. The full round trip is
// bounded by the caller's context.
const dialTimeout = 5 * time.Second

// Call sends request to the worker listening on socketPath and returns
// its result. Each call opens a new connection.
//
// Cancelling ctx (or reaching its deadline) closes the connection,
// which unblocks any pending read or write. The close only runs once
// the context is done, so the returned error then wraps ctx.Err() and
// callers can tell a timeout from a broken worker. All other transport
// failures are *ProtocolError.
func Call(ctx context.Context, socketPath string, request *Request) (schema.ExecutorResult, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		if ctx.Err() != nil {
			return schema.ExecutorResult{}, fmt.Errorf("connecting to %s: %w", socketPath, ctx.Err())
		}
		return schema.ExecutorResult{}, &ProtocolError{Op: "dial", Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := WriteRequest(conn, request); err != nil {
		return schema.ExecutorResult{}, contextOr(ctx, err)
	}
	// No half-close after the request: the worker treats any read
	// completion on an active connection as a disconnect.

	result, err := ReadResult(conn)
	if err != nil {
		return schema.ExecutorResult{}, contextOr(ctx, err)
	}
	return result, nil
}

// contextOr prefers the context error when the context ended, since
// the transport error is then only a symptom of the closed connection.
func contextOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%v: %w", err, ctx.Err())
	}
	return err
}
