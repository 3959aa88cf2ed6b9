// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for executor packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets: sun_path is limited to 108 bytes, and t.TempDir() paths
// under deeply nested TMPDIRs exceed it.
//
// [RequireReceive], [RequireClosed], and [Eventually] are the only
// places tests wait on the wall clock. Everything else that involves
// time goes through an injected clock or through the synchronization
// these helpers provide.
//
// [UniqueID] returns monotonically increasing identifiers for
// disambiguating workflow and run IDs across tests.
//
// All helpers fail the test with t.Fatalf rather than returning errors.
package testutil
