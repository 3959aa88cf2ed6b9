// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// TB is the subset of testing.TB the helpers use.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}

// SocketDir creates a directory under /tmp with a short name, removed
// when the test completes.
func SocketDir(t TB) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "tcx-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or the channel is closed.
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", what)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	panic("unreachable")
}

// RequireClosed fails the test unless ch is closed within timeout.
func RequireClosed[T any](t TB, ch <-chan T, timeout time.Duration, what string) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("%s: received a value instead of close", what)
		}
	case <-timer.C:
		t.Fatalf("%s: not closed within %v", what, timeout)
	}
}

// Eventually polls condition every few milliseconds until it returns
// true, failing the test if it has not within timeout.
func Eventually(t TB, timeout time.Duration, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: condition not met within %v", what, timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the process.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
