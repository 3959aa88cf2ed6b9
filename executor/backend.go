// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"time"

	"github.com/tracecathq/executor/lib/resolve"
	"github.com/tracecathq/executor/lib/schema"
)

// ErrContextRequired is returned when a call carries no resolved
// context and the backend has no resolver to build one.
var ErrContextRequired = errors.New("resolved context is required: backend has no resolver")

// Backend executes actions. Execute returns an error only for
// programming errors, unrecoverable backend states, and caller
// cancellation; every execution outcome, including timeouts and
// worker failures, is a result.
type Backend interface {
	Name() string
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// Execute runs input. A nil resolved context is built by the
	// backend's resolver. A positive timeout bounds the execution.
	Execute(ctx context.Context, input schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext, timeout time.Duration) (schema.ExecutorResult, error)
}

// Base provides no-op lifecycle hooks for backends without startup or
// teardown work.
type Base struct{}

func (Base) Start(context.Context) error    { return nil }
func (Base) Shutdown(context.Context) error { return nil }

// Resolver builds resolved contexts. *resolve.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, input *schema.RunActionInput, role schema.Role) (*schema.ResolvedContext, error)
}

// contextFor returns resolved, or resolves the input when resolved is
// nil. A resolution failure comes back as a result for the caller to
// return as is.
func contextFor(ctx context.Context, resolver Resolver, input *schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext) (*schema.ResolvedContext, *schema.ExecutorResult, error) {
	if resolved != nil {
		return resolved, nil, nil
	}
	if resolver == nil {
		return nil, nil, ErrContextRequired
	}
	resolved, err := resolver.Resolve(ctx, input, role)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		failure := resolve.Failure(input.ActionName(), err)
		return nil, &failure, nil
	}
	return resolved, nil, nil
}
