// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve builds the [schema.ResolvedContext] for an action on
// the trusted side: it looks the action up in the registry catalog,
// fetches exactly the secrets the call needs, loads workspace
// variables, and materializes the registry bundles the action may
// import. Nothing a sandboxed worker sees comes from anywhere else.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tracecathq/executor/lib/action"
	"github.com/tracecathq/executor/lib/registry"
	"github.com/tracecathq/executor/lib/schema"
)

// Catalog maps action names to implementations.
type Catalog interface {
	// Lookup returns the implementation and the secret names the
	// action declares.
	Lookup(ctx context.Context, action string) (schema.ActionImpl, []string, error)
}

// SecretSource provides environment-scoped secrets and variables.
// *secretstore.Store implements it.
type SecretSource interface {
	Secrets(ctx context.Context, environment string, names []string) (map[string]map[string]string, error)
	Variables(ctx context.Context, environment string) (map[string]map[string]string, error)
}

// BundleSource materializes artifacts. *registry.Environment
// implements it.
type BundleSource interface {
	Bundles(ctx context.Context, artifacts []registry.Artifact) ([]schema.BundleRef, error)
}

// Config wires a Resolver. Catalog is required. A nil Secrets means
// the deployment has no secrets; a nil Artifacts or Bundles means only
// builtin actions are available.
type Config struct {
	Catalog   Catalog
	Secrets   SecretSource
	Artifacts registry.ArtifactSource
	Bundles   BundleSource
	Logger    *slog.Logger
}

// Resolver builds resolved contexts.
type Resolver struct {
	catalog   Catalog
	secrets   SecretSource
	artifacts registry.ArtifactSource
	bundles   BundleSource
	logger    *slog.Logger
}

// New returns a Resolver for config.
func New(config Config) (*Resolver, error) {
	if config.Catalog == nil {
		return nil, fmt.Errorf("resolver requires a catalog")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		catalog:   config.Catalog,
		secrets:   config.Secrets,
		artifacts: config.Artifacts,
		bundles:   config.Bundles,
		logger:    logger,
	}, nil
}

// Resolve returns the context input needs to run. Errors wrap
// registry.ErrActionNotFound when the action is unknown.
func (r *Resolver) Resolve(ctx context.Context, input *schema.RunActionInput, role schema.Role) (*schema.ResolvedContext, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	actionName := input.ActionName()

	impl, declared, err := r.catalog.Lookup(ctx, actionName)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", actionName, err)
	}

	environment := input.RunContext.SecretsEnvironment()
	names := mergeNames(declared, action.SecretNames(input.Task.Args))
	resolved := &schema.ResolvedContext{ActionImpl: impl}

	if len(names) > 0 {
		if r.secrets == nil {
			return nil, fmt.Errorf("resolving %s: action needs secrets %v but no secret source is configured", actionName, names)
		}
		resolved.Secrets, err = r.secrets.Secrets(ctx, environment, names)
		if err != nil {
			return nil, fmt.Errorf("resolving secrets for %s: %w", actionName, err)
		}
	}
	if r.secrets != nil {
		resolved.Variables, err = r.secrets.Variables(ctx, environment)
		if err != nil {
			return nil, fmt.Errorf("resolving variables for %s: %w", actionName, err)
		}
	}

	if r.artifacts != nil && r.bundles != nil {
		var artifacts []registry.Artifact
		if input.RegistryLock != nil {
			artifacts, err = r.artifacts.ArtifactsForLock(ctx, input.RegistryLock)
		} else {
			artifacts, err = r.artifacts.ArtifactsCached(ctx, role)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving registry artifacts for %s: %w", actionName, err)
		}
		resolved.Bundles, err = r.bundles.Bundles(ctx, artifacts)
		if err != nil {
			return nil, fmt.Errorf("materializing registry bundles for %s: %w", actionName, err)
		}
	}

	r.logger.Debug("resolved action context",
		"action", actionName,
		"origin", impl.Origin,
		"environment", environment,
		"secrets", len(resolved.Secrets),
		"bundles", len(resolved.Bundles),
	)
	return resolved, nil
}

// Failure converts a resolution error into the result a backend
// returns for it.
func Failure(actionName string, err error) schema.ExecutorResult {
	errorType := schema.ErrorTypeResolution
	if errors.Is(err, registry.ErrActionNotFound) {
		errorType = schema.ErrorTypeActionNotFound
	}
	return schema.NewFailure(actionName, errorType, err.Error())
}

func mergeNames(declared, referenced []string) []string {
	names := slices.Concat(declared, referenced)
	slices.Sort(names)
	return slices.Compact(names)
}
