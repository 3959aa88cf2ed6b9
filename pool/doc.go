// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool keeps a fixed set of warm worker processes and
// dispatches actions to them over the framed socket protocol.
//
// Selection picks the least-loaded live worker below its concurrency
// limit, breaking ties with an advancing round-robin index so
// sustained equal load cycles across workers instead of piling onto
// the first. When every worker is full, callers poll until a slot
// frees or the acquisition timeout elapses and then get
// [ErrNoAvailableWorker], which is backpressure rather than an action
// failure.
//
// All shared state (the worker list, per-worker counters, and
// lifetime counters) is guarded by one mutex whose contention is
// measured and reported. Slow process work (spawning, terminating)
// never happens under it: a worker that reached its task limit, or
// died, is flagged under the lock and replaced outside it, reusing
// its slot ID. A failed respawn drops the slot and counts a spawn
// failure.
//
// A task that exceeds its timeout yields an ExecutionTimeout failure
// but leaves the worker alone, since it may be serving other tasks.
// The slot is released exactly once per acquisition, in a deferred
// call that context cancellation cannot skip.
package pool
