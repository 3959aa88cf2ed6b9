// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/registry"
	"github.com/tracecathq/executor/lib/schema"
)

// DirectConfig configures a Direct backend.
type DirectConfig struct {
	// WorkerBinary is the tracecat-worker executable.
	WorkerBinary string

	// RegistryRoot is the host registry cache root that bundle
	// references are relative to.
	RegistryRoot string

	// Resolver builds contexts for calls that arrive without one.
	Resolver Resolver

	// Env is added to the worker environment.
	Env map[string]string

	Logger *slog.Logger
}

// Direct runs each call in a local one-shot worker process with no
// sandbox. It is trusted: the worker sees the host filesystem.
type Direct struct {
	Base
	config DirectConfig
	logger *slog.Logger
}

// NewDirect returns a Direct backend.
func NewDirect(config DirectConfig) (*Direct, error) {
	if config.WorkerBinary == "" {
		return nil, fmt.Errorf("direct backend requires a worker binary")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Direct{config: config, logger: logger.With("backend", "direct")}, nil
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Execute(ctx context.Context, input schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext, timeout time.Duration) (schema.ExecutorResult, error) {
	resolved, failure, err := contextFor(ctx, d.config.Resolver, &input, role, resolved)
	if err != nil || failure != nil {
		return derefResult(failure), err
	}

	command := []string{d.config.WorkerBinary, "--oneshot"}
	if d.config.RegistryRoot != "" {
		command = append(command, "--registry-root", d.config.RegistryRoot)
	}
	return oneshot{
		command:     command,
		env:         d.environment(resolved.Bundles),
		timeout:     timeout,
		failureType: schema.ErrorTypeProtocol,
		logger:      d.logger,
	}.run(ctx, &ipc.Request{Input: input, Role: role, ResolvedContext: resolved})
}

// environment is the worker's environment: a minimal base plus
// ACTION_PATH listing the bundle directories in import order.
func (d *Direct) environment(bundles []schema.BundleRef) []string {
	env := map[string]string{
		"PATH": os.Getenv("PATH"),
		"HOME": os.Getenv("HOME"),
		"LANG": "C.UTF-8",
	}
	if value := os.Getenv("TRACECAT_DEBUG"); value != "" {
		env["TRACECAT_DEBUG"] = value
	}
	if path := actionPath(d.config.RegistryRoot, bundles); path != "" {
		env["ACTION_PATH"] = path
	}
	for key, value := range d.config.Env {
		env[key] = value
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+env[key])
	}
	return pairs
}

// actionPath joins the absolute bundle directories in import order:
// builtin origin first, then by origin.
func actionPath(root string, bundles []schema.BundleRef) string {
	if root == "" || len(bundles) == 0 {
		return ""
	}
	ordered := slices.Clone(bundles)
	registry.SortBundles(ordered)
	dirs := make([]string, 0, len(ordered))
	for _, bundle := range ordered {
		dirs = append(dirs, filepath.Join(root, bundle.Dir))
	}
	return strings.Join(dirs, string(filepath.ListSeparator))
}

func derefResult(result *schema.ExecutorResult) schema.ExecutorResult {
	if result == nil {
		return schema.ExecutorResult{}
	}
	return *result
}
