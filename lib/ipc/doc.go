// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the length-prefixed JSON protocol spoken
// between the executor and its worker processes over Unix domain
// sockets (and over stdin/stdout for one-shot subprocesses).
//
// Every message is a frame: a 4-byte big-endian length followed by
// that many bytes of UTF-8 JSON. The protocol is symmetric: requests
// ([Request]) and responses ([schema.ExecutorResult]) use the same
// framing. There is no multiplexing: a connection carries exactly one
// request and one response, and the client opens a new connection per
// task.
//
// Socket failures, malformed length prefixes, oversized frames, and
// JSON decode failures are reported as [*ProtocolError], which callers
// keep distinct from application-level failure results.
package ipc
