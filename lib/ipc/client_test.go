// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracecathq/executor/lib/schema"
	"github.com/tracecathq/executor/lib/testutil"
)

// listen starts a one-connection-at-a-time server that hands each
// connection to handle.
func listen(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "worker.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return socketPath
}

func testRequest() *Request {
	return &Request{
		Input: schema.RunActionInput{
			Task:       schema.ActionStatement{Action: "core.transform.reshape"},
			RunContext: schema.RunContext{WorkflowID: testutil.UniqueID("wf")},
		},
		ResolvedContext: &schema.ResolvedContext{
			ActionImpl: schema.ActionImpl{Type: schema.ActionImplUDF, Module: "core.transform", Name: "reshape"},
		},
	}
}

func TestCallRoundTrip(t *testing.T) {
	socketPath := listen(t, func(conn net.Conn) {
		request, err := ReadRequest(conn)
		if err != nil {
			return
		}
		WriteResult(conn, schema.Success(request.Input.Task.Action))
	})

	result, err := Call(context.Background(), socketPath, testRequest())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !result.IsSuccess() || result.Result != "core.transform.reshape" {
		t.Errorf("result = %+v", result)
	}
}

func TestCallTimeoutWrapsDeadline(t *testing.T) {
	socketPath := listen(t, func(conn net.Conn) {
		ReadRequest(conn)
		time.Sleep(2 * time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := Call(ctx, socketPath, testRequest())
	elapsed := time.Since(started)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if elapsed > time.Second {
		t.Errorf("Call returned after %v, want ~100ms", elapsed)
	}
}

func TestCallBrokenWorkerIsProtocolError(t *testing.T) {
	socketPath := listen(t, func(conn net.Conn) {
		ReadRequest(conn)
		conn.Write([]byte{0, 0, 0, 9, '{'})
	})

	_, err := Call(context.Background(), socketPath, testRequest())
	if !IsProtocolError(err) {
		t.Fatalf("error = %v, want protocol error", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		t.Errorf("protocol error should not wrap a context error: %v", err)
	}
}

func TestCallMissingSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "absent.sock")
	_, err := Call(context.Background(), socketPath, testRequest())
	var protocolError *ProtocolError
	if !errors.As(err, &protocolError) || protocolError.Op != "dial" {
		t.Fatalf("error = %v, want dial protocol error", err)
	}
}
