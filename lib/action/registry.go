// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"sync"
)

// Registry holds builtin actions keyed by "module.name".
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]registered
}

type registered struct {
	fn         Func
	provenance Provenance
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]registered)}
}

// Register adds fn under key. Keys are unique.
func (r *Registry) Register(key string, fn Func) error {
	if key == "" || fn == nil {
		return fmt.Errorf("register: key and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[key]; exists {
		return fmt.Errorf("register: action %q is already registered", key)
	}
	r.funcs[key] = registered{fn: fn, provenance: funcProvenance(fn)}
	return nil
}

// MustRegister is Register for package initialization; it panics on
// a duplicate key.
func (r *Registry) MustRegister(key string, fn Func) {
	if err := r.Register(key, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under key.
func (r *Registry) Lookup(key string) (Func, Provenance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.funcs[key]
	return entry.fn, entry.provenance, ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.funcs))
	for key := range r.funcs {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// funcProvenance reports where fn is defined.
func funcProvenance(fn Func) Provenance {
	pc := reflect.ValueOf(fn).Pointer()
	function := runtime.FuncForPC(pc)
	if function == nil {
		return Provenance{}
	}
	file, line := function.FileLine(function.Entry())
	return Provenance{Filename: file, Function: function.Name(), Lineno: line}
}
