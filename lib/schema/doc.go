// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the data model exchanged between the workflow
// engine, the executor backends, and sandboxed worker processes.
//
// [RunActionInput] identifies one unit of work. It is produced by the
// calling workflow engine, is immutable once constructed, and is
// consumed exactly once by a backend. [ResolvedContext] carries
// everything a worker needs to run the action without database
// access: secrets, workspace variables, the concrete [ActionImpl], and
// the registry bundles to load code from. It is the privilege boundary
// between the trusted executor and untrusted worker processes. Whatever
// is not in the bundle is unreachable from sandboxed code.
//
// [ExecutorResult] is the tagged union returned for every execution
// attempt: either a success carrying an arbitrary JSON value or a
// failure carrying an [ActionErrorInfo]. Results are never mutated
// after creation and are serialized across the IPC boundary with an
// explicit "type" discriminator.
//
// All types use `json` tags: they cross the worker IPC boundary as
// JSON and are read from request files by the CLI.
//
// This package depends on no other packages in this module.
package schema
