// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree and logging setup of the
// tracecat-executor binary. Commands are pflag-based: each node owns a
// lazily built flag set, dispatch is by the first positional argument,
// and typos get an edit-distance suggestion.
package cli
