// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
	"github.com/tracecathq/executor/sandbox"
)

// DefaultKillBuffer is how long an ephemeral sandbox may outlive the
// logical timeout before it is killed.
const DefaultKillBuffer = 10 * time.Second

// EphemeralConfig configures an Ephemeral backend.
type EphemeralConfig struct {
	// SandboxBinary is the bwrap executable.
	SandboxBinary string
	RootfsPath    string
	WorkerBinary  string

	// RegistryRoot is the host registry cache root. Each call mounts
	// only its own bundles from it.
	RegistryRoot string

	// WorkRoot holds the per-call work directories.
	WorkRoot string

	Network     bool
	MemoryLimit string
	TasksMax    int

	// KillBuffer defaults to DefaultKillBuffer.
	KillBuffer time.Duration

	Resolver Resolver
	Logger   *slog.Logger
}

// Ephemeral runs each call in a fresh sandbox. Context is always
// resolved on the host; the sandboxed worker only ever sees the
// resolved context and the bundles it names.
type Ephemeral struct {
	Base
	config EphemeralConfig
	logger *slog.Logger
}

// NewEphemeral returns an Ephemeral backend.
func NewEphemeral(config EphemeralConfig) (*Ephemeral, error) {
	switch {
	case config.SandboxBinary == "":
		return nil, fmt.Errorf("ephemeral backend requires a sandbox binary")
	case config.RootfsPath == "":
		return nil, fmt.Errorf("ephemeral backend requires a sandbox rootfs")
	case config.WorkerBinary == "":
		return nil, fmt.Errorf("ephemeral backend requires a worker binary")
	}
	if config.KillBuffer == 0 {
		config.KillBuffer = DefaultKillBuffer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ephemeral{config: config, logger: logger.With("backend", "ephemeral")}, nil
}

func (e *Ephemeral) Name() string { return "ephemeral" }

func (e *Ephemeral) Execute(ctx context.Context, input schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext, timeout time.Duration) (schema.ExecutorResult, error) {
	resolved, failure, err := contextFor(ctx, e.config.Resolver, &input, role, resolved)
	if err != nil || failure != nil {
		return derefResult(failure), err
	}

	if e.config.WorkRoot != "" {
		if err := os.MkdirAll(e.config.WorkRoot, 0o700); err != nil {
			return schema.ExecutorResult{}, fmt.Errorf("creating ephemeral work root: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(e.config.WorkRoot, "call-")
	if err != nil {
		return schema.ExecutorResult{}, fmt.Errorf("creating call directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	command, err := e.command(workDir, resolved.Bundles)
	if err != nil {
		return schema.NewFailure(input.ActionName(), schema.ErrorTypeSandbox, err.Error()), nil
	}

	return oneshot{
		command:     command,
		env:         e.environment(),
		dir:         workDir,
		timeout:     timeout,
		killAfter:   e.config.KillBuffer,
		failureType: schema.ErrorTypeSandbox,
		logger:      e.logger,
	}.run(ctx, &ipc.Request{Input: input, Role: role, ResolvedContext: resolved})
}

// command builds the sandboxed one-shot worker invocation for one call.
func (e *Ephemeral) command(workDir string, bundles []schema.BundleRef) ([]string, error) {
	var env map[string]string
	if value := os.Getenv("TRACECAT_DEBUG"); value != "" {
		env = map[string]string{"TRACECAT_DEBUG": value}
	}
	spec, err := sandbox.EphemeralSpec(sandbox.Options{
		RootfsPath:   e.config.RootfsPath,
		WorkDir:      workDir,
		WorkerBinary: e.config.WorkerBinary,
		RegistryRoot: e.config.RegistryRoot,
		Network:      e.config.Network,
		Env:          env,
	}, bundles)
	if err != nil {
		return nil, err
	}
	args, err := spec.Args()
	if err != nil {
		return nil, err
	}
	command := append([]string{e.config.SandboxBinary}, args...)

	scope := sandbox.NewScope("tracecat-call-"+uuid.NewString()[:8], sandbox.Resources{
		MemoryMax: e.config.MemoryLimit,
		TasksMax:  e.config.TasksMax,
	})
	return scope.Wrap(command), nil
}

// environment is what bwrap itself runs with. The sandbox clears it
// before starting the worker.
func (e *Ephemeral) environment() []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	if value, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok {
		env = append(env, "XDG_RUNTIME_DIR="+value)
	}
	return env
}
