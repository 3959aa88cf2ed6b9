// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source injected into the worker
// pool and the registry catalog.
//
// The pool reads time for slot-acquisition deadlines, task start
// stamps, stuck-task durations, and the metrics ticker. The catalog
// reads it for cache expiry. Production wiring passes [Real]; tests
// pass a [FakeClock] and move time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go pool.Execute(ctx, ...)   // blocks polling for a slot
//	fake.WaitForWaiters(1)      // the poll has registered
//	fake.Advance(31 * time.Second)
//
// WaitForWaiters removes the race between a goroutine registering a
// wait and the test advancing past it.
package clock
