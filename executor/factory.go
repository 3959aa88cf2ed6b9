// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/pool"
)

// Dependencies are the collaborators New wires into a backend.
type Dependencies struct {
	// Resolver builds contexts for calls that arrive without one.
	Resolver Resolver

	// Probe defaults to sandbox.Available.
	Probe Probe

	// Clock defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// New selects a backend for cfg and constructs it. The backend is not
// started.
func New(cfg *config.Config, deps Dependencies) (Backend, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	selection := Resolve(cfg, deps.Probe)
	if selection.Warning != "" {
		logger.Warn(selection.Warning)
	}
	logger.Info("executor backend selected",
		"configured", cfg.Backend,
		"backend", selection.Backend,
	)

	workerBinary, err := cfg.WorkerBinaryPath()
	if err != nil {
		return nil, fmt.Errorf("locating worker binary: %w", err)
	}

	switch selection.Backend {
	case config.BackendDirect:
		return NewDirect(DirectConfig{
			WorkerBinary: workerBinary,
			RegistryRoot: cfg.Registry.CacheDir,
			Resolver:     deps.Resolver,
			Logger:       logger,
		})

	case config.BackendEphemeral:
		return NewEphemeral(EphemeralConfig{
			SandboxBinary: cfg.Sandbox.Binary,
			RootfsPath:    cfg.Sandbox.RootfsPath,
			WorkerBinary:  workerBinary,
			RegistryRoot:  cfg.Registry.CacheDir,
			WorkRoot:      filepath.Join(cfg.Paths.WorkRoot, "ephemeral"),
			Network:       cfg.Sandbox.Network,
			MemoryLimit:   cfg.Sandbox.MemoryLimit,
			TasksMax:      cfg.Sandbox.TasksMax,
			Resolver:      deps.Resolver,
			Logger:        logger,
		})

	case config.BackendSandboxedPool:
		workers, err := pool.New(pool.Config{
			Size:                   cfg.PoolSize(),
			MaxConcurrentPerWorker: cfg.Pool.MaxConcurrentPerWorker,
			MaxTasksPerWorker:      cfg.Pool.MaxTasksPerWorker,
			StartupTimeout:         cfg.Pool.StartupTimeout,
			AcquireTimeout:         cfg.Pool.AcquireTimeout,
			MetricsInterval:        cfg.Pool.MetricsInterval,
			StuckThreshold:         cfg.Pool.StuckThreshold,
			Watchdog:               cfg.Pool.Watchdog,
			WorkRoot:               filepath.Join(cfg.Paths.WorkRoot, "pool"),
			Spawner: &pool.ProcessSpawner{
				WorkerBinary:  workerBinary,
				MaxConcurrent: cfg.Pool.MaxConcurrentPerWorker,
				RegistryRoot:  cfg.Registry.CacheDir,
				Sandbox: &pool.SandboxConfig{
					Binary:      cfg.Sandbox.Binary,
					RootfsPath:  cfg.Sandbox.RootfsPath,
					Network:     cfg.Sandbox.Network,
					MemoryLimit: cfg.Sandbox.MemoryLimit,
					TasksMax:    cfg.Sandbox.TasksMax,
				},
				Logger: logger,
			},
			Clock:  deps.Clock,
			Logger: logger.With("component", "pool"),
		})
		if err != nil {
			return nil, err
		}
		return NewPool(workers, deps.Resolver, logger), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", selection.Backend)
}
