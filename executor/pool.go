// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tracecathq/executor/lib/schema"
	"github.com/tracecathq/executor/pool"
)

// Pool dispatches calls to a warm worker pool. Workers never resolve
// context, so calls without one need a resolver.
type Pool struct {
	pool     *pool.Pool
	resolver Resolver
	logger   *slog.Logger
}

// NewPool wraps workers. resolver may be nil when every caller
// supplies a resolved context.
func NewPool(workers *pool.Pool, resolver Resolver, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{pool: workers, resolver: resolver, logger: logger.With("backend", "sandboxed_pool")}
}

func (p *Pool) Name() string { return "sandboxed_pool" }

func (p *Pool) Start(ctx context.Context) error { return p.pool.Start(ctx) }

func (p *Pool) Shutdown(ctx context.Context) error { return p.pool.Shutdown(ctx) }

// Workers returns the underlying pool.
func (p *Pool) Workers() *pool.Pool { return p.pool }

// Execute runs input on a pooled worker. Pool exhaustion becomes a
// PoolExhausted failure so callers can retry it apart from action
// failures.
func (p *Pool) Execute(ctx context.Context, input schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext, timeout time.Duration) (schema.ExecutorResult, error) {
	resolved, failure, err := contextFor(ctx, p.resolver, &input, role, resolved)
	if err != nil || failure != nil {
		return derefResult(failure), err
	}

	result, err := p.pool.Execute(ctx, input, role, resolved, timeout)
	if errors.Is(err, pool.ErrNoAvailableWorker) {
		p.logger.Warn("worker pool exhausted", "action", input.ActionName(), "error", err)
		return schema.NewFailure(input.ActionName(), schema.ErrorTypePoolExhausted, err.Error()), nil
	}
	return result, err
}
