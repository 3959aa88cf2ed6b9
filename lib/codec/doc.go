// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for the executor's
// on-disk state, currently the registry extraction index.
//
// JSON is the format for everything that crosses a process boundary
// (worker IPC, request files, CLI output). CBOR is used only for files
// the executor writes for itself. Encoding is Core Deterministic
// (RFC 8949 §4.2) so identical state always produces identical bytes
// and index rewrites that change nothing are byte-for-byte no-ops.
//
// Types stored with this package use `cbor` struct tags.
package codec
