// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Factory constructs an unstarted backend.
type Factory func(ctx context.Context) (Backend, error)

// Holder owns the process's single backend. The first Get creates and
// starts it; later calls return the same instance without locking.
// Shutdown tears it down and clears the holder, so the next Get builds
// a fresh one.
type Holder struct {
	factory Factory

	mu      sync.Mutex
	current atomic.Pointer[holderEntry]
}

type holderEntry struct {
	backend Backend
}

// NewHolder returns a Holder that builds backends with factory.
func NewHolder(factory Factory) *Holder {
	return &Holder{factory: factory}
}

// Get returns the started backend, creating it on first use. A failed
// creation or start leaves the holder empty so a later Get retries.
func (h *Holder) Get(ctx context.Context) (Backend, error) {
	if entry := h.current.Load(); entry != nil {
		return entry.backend, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if entry := h.current.Load(); entry != nil {
		return entry.backend, nil
	}

	backend, err := h.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating executor backend: %w", err)
	}
	if err := backend.Start(ctx); err != nil {
		backend.Shutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("starting %s backend: %w", backend.Name(), err)
	}
	h.current.Store(&holderEntry{backend: backend})
	return backend, nil
}

// Shutdown shuts down the current backend, if any, and clears the
// holder.
func (h *Holder) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.current.Swap(nil)
	if entry == nil {
		return nil
	}
	return entry.backend.Shutdown(ctx)
}
