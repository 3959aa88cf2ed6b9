// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs actions through one of four backends that
// share the [Backend] contract:
//
//   - [Direct] runs a one-shot worker subprocess with no sandbox. For
//     local development.
//   - [Ephemeral] runs a one-shot worker inside a fresh bubblewrap
//     sandbox per call. Full isolation at a startup cost.
//   - [Pool] dispatches to warm sandboxed workers owned by a
//     [pool.Pool].
//   - [Test] calls an in-process action runner. For tests only.
//
// Context resolution (secrets, variables, registry bundles) always
// happens on the trusted side, before anything reaches a worker.
//
// [Resolve] picks a backend type from configuration and filesystem probes.
// [Holder] owns the one backend of a process, creating and starting it
// on first use and tearing it down on Shutdown.
package executor
