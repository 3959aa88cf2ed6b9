// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracecathq/executor/executor"
	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/lib/registry"
	"github.com/tracecathq/executor/lib/resolve"
	"github.com/tracecathq/executor/lib/secretstore"
)

// newResolver builds the host-side context resolver from the registry
// manifest, the registry cache, and the secret store. It returns nil
// when no manifest is configured; backends then require callers to
// send a resolved context with every request.
func newResolver(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (executor.Resolver, error) {
	if cfg.Registry.Manifest == "" {
		logger.Info("no registry manifest configured, requests must carry a resolved context")
		return nil, nil
	}

	manifest, err := registry.LoadManifest(cfg.Registry.Manifest, clk, cfg.Registry.CacheTTL)
	if err != nil {
		return nil, err
	}
	environment, err := registry.NewEnvironment(registry.EnvironmentConfig{
		Root:   cfg.Registry.CacheDir,
		Clock:  clk,
		Logger: logger.With("component", "registry"),
	})
	if err != nil {
		return nil, err
	}

	resolverConfig := resolve.Config{
		Catalog:   manifest,
		Artifacts: manifest,
		Bundles:   environment,
		Logger:    logger.With("component", "resolver"),
	}
	if cfg.Secrets.File != "" {
		store, err := secretstore.Open(cfg.Secrets.File, cfg.Secrets.IdentityFile)
		if err != nil {
			return nil, err
		}
		resolverConfig.Secrets = store
		logger.Info("secret store loaded",
			"path", cfg.Secrets.File,
			"environments", store.Environments(),
		)
	}

	resolver, err := resolve.New(resolverConfig)
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}
	return resolver, nil
}

// newHolder returns a holder whose backend is built from cfg on first
// use.
func newHolder(cfg *config.Config, logger *slog.Logger) (*executor.Holder, error) {
	clk := clock.Real()
	resolver, err := newResolver(cfg, clk, logger)
	if err != nil {
		return nil, err
	}
	return executor.NewHolder(func(context.Context) (executor.Backend, error) {
		return executor.New(cfg, executor.Dependencies{
			Resolver: resolver,
			Clock:    clk,
			Logger:   logger,
		})
	}), nil
}
