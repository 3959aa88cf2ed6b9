// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds decrypted secret material outside the Go heap.
//
// The secret store decrypts into a [Buffer] and parses from it, and
// the age identity that unlocks the store is read into one. A Buffer
// is an anonymous mmap region excluded from core dumps, locked into
// RAM where RLIMIT_MEMLOCK allows, and zeroed on Close. The garbage
// collector never sees it, so no stray copy of the plaintext outlives
// Close.
package secret
