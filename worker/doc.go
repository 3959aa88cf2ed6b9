// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the process side of action execution. A [Server]
// listens on a Unix socket inside the worker's (usually sandboxed) work
// directory and answers framed requests from the pool, one request per
// connection, up to MaxConcurrent at a time. [RunOneshot] answers a
// single request over arbitrary streams for one-shot subprocess
// backends.
//
// A worker never exits because an action failed: application errors
// and panics become failure results. Only a broken socket or a fatal
// process error ends it.
package worker
