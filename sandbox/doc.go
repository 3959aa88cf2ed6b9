// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox isolates worker processes that run untrusted action
// code, using bubblewrap (bwrap) Linux namespaces.
//
// A sandbox is described by a [Spec]: namespaces to unshare, security
// flags, an explicit mount list, a cleared environment with the
// variables to set, a working directory, and the command. Specs are
// assembled through a [Builder] and checked by [Spec.Validate] before
// [Spec.Args] serializes them to bwrap arguments, so no path, variable
// name, or value with a NUL or control character ever reaches the
// command line. Callers never concatenate argument strings by hand.
//
// [WorkerSpec] and [EphemeralSpec] produce the two standard profiles:
// a long-lived pool worker listening on a socket in its work
// directory, and a one-shot worker that executes a single request read
// from stdin. Both see the sandbox rootfs read-only at /, their work
// directory read-write at /work, and registry bundles read-only under
// /registry.
//
// Memory and task limits are enforced with a systemd transient scope
// ([Scope]) wrapped around the bwrap command, so limits apply to the
// whole sandboxed process tree. [DetectCapabilities] and [Check]
// probe the host for bwrap, user namespaces, and systemd.
package sandbox
