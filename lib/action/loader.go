// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tracecathq/executor/lib/schema"
)

// ErrNotFound is returned by Loader.Resolve when no builtin or bundle
// provides the implementation.
var ErrNotFound = errors.New("action not found")

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Registry holds the builtin actions. Nil means Builtins().
	Registry *Registry

	// Root is the registry cache root that BundleRef.Dir values are
	// relative to. Inside a sandbox this is the mount point.
	Root string

	// SearchPath lists extra directories searched for
	// actions/<module> after the bundles, in order.
	SearchPath []string

	Logger *slog.Logger
}

// Loader turns an ActionImpl into a callable. Resolutions are
// memoized per implementation and bundle set, so a long-lived worker
// pays the lookup once.
type Loader struct {
	registry   *Registry
	root       string
	searchPath []string
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]Resolution
}

// Resolution is a resolved action.
type Resolution struct {
	Func       Func
	Provenance Provenance
}

// NewLoader returns a Loader for config.
func NewLoader(config LoaderConfig) *Loader {
	registry := config.Registry
	if registry == nil {
		registry = Builtins()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		registry:   registry,
		root:       config.Root,
		searchPath: config.SearchPath,
		logger:     logger,
		cache:      make(map[string]Resolution),
	}
}

// SearchPathFromEnv splits an ACTION_PATH style value.
func SearchPathFromEnv(value string) []string {
	var paths []string
	for _, entry := range filepath.SplitList(value) {
		if entry != "" {
			paths = append(paths, entry)
		}
	}
	return paths
}

// Resolve returns the callable for impl. Builtin-origin actions come
// from the registry; everything else is an executable named after
// the module inside one of the bundles.
func (l *Loader) Resolve(impl schema.ActionImpl, bundles []schema.BundleRef) (Resolution, error) {
	if impl.Type != schema.ActionImplUDF {
		return Resolution{}, fmt.Errorf("resolving %s: implementation type %q is not callable", impl.Key(), impl.Type)
	}
	cacheKey := resolutionKey(impl, bundles)

	l.mu.Lock()
	cached, ok := l.cache[cacheKey]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	resolution, err := l.resolve(impl, bundles)
	if err != nil {
		return Resolution{}, err
	}

	l.mu.Lock()
	l.cache[cacheKey] = resolution
	l.mu.Unlock()
	return resolution, nil
}

func (l *Loader) resolve(impl schema.ActionImpl, bundles []schema.BundleRef) (Resolution, error) {
	if impl.Origin == "" || impl.Origin == schema.BuiltinOrigin {
		fn, provenance, ok := l.registry.Lookup(impl.Key())
		if !ok {
			return Resolution{}, fmt.Errorf("builtin %s: %w", impl.Key(), ErrNotFound)
		}
		return Resolution{Func: fn, Provenance: provenance}, nil
	}

	if strings.ContainsAny(impl.Module, `/\`) || impl.Module == "" || impl.Module == "." || impl.Module == ".." {
		return Resolution{}, fmt.Errorf("action %s: invalid module name %q", impl.Key(), impl.Module)
	}

	var candidates []string
	for _, bundle := range bundles {
		if bundle.Origin != impl.Origin {
			continue
		}
		candidates = append(candidates, filepath.Join(l.root, bundle.Dir, "actions", impl.Module))
	}
	for _, dir := range l.searchPath {
		candidates = append(candidates, filepath.Join(dir, "actions", impl.Module))
	}

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		l.logger.Debug("resolved bundle action",
			"action", impl.Key(),
			"origin", impl.Origin,
			"path", path,
		)
		return Resolution{
			Func:       executable(path, impl.Name),
			Provenance: Provenance{Filename: path, Function: impl.Name},
		}, nil
	}
	return Resolution{}, fmt.Errorf("action %s from origin %s (searched %d locations): %w",
		impl.Key(), impl.Origin, len(candidates), ErrNotFound)
}

func resolutionKey(impl schema.ActionImpl, bundles []schema.BundleRef) string {
	var builder strings.Builder
	builder.WriteString(impl.Origin)
	builder.WriteByte('|')
	builder.WriteString(impl.Key())
	for _, bundle := range bundles {
		builder.WriteByte('|')
		builder.WriteString(bundle.Origin)
		builder.WriteByte('=')
		builder.WriteString(bundle.Dir)
	}
	return builder.String()
}
