// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"strings"
	"time"

	"github.com/tracecathq/executor/lib/action"
	"github.com/tracecathq/executor/lib/schema"
)

// Test runs actions in process with no subprocess, sandbox, or
// database. Calls without a resolved context get one naming the
// builtin implementation of the action, with no secrets.
type Test struct {
	Base
	runner   *action.Runner
	resolver Resolver
}

// NewTest returns a Test backend over runner. resolver is optional.
func NewTest(runner *action.Runner, resolver Resolver) *Test {
	return &Test{runner: runner, resolver: resolver}
}

func (t *Test) Name() string { return "test" }

func (t *Test) Execute(ctx context.Context, input schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext, timeout time.Duration) (schema.ExecutorResult, error) {
	if resolved == nil && t.resolver == nil {
		resolved = builtinContext(input.ActionName())
	}
	resolved, failure, err := contextFor(ctx, t.resolver, &input, role, resolved)
	if err != nil || failure != nil {
		return derefResult(failure), err
	}

	if resolved.ActionImpl.Type == schema.ActionImplTemplate {
		return schema.NewFailure(input.ActionName(), schema.ErrorTypeTemplateNotSupported,
			"templates must be orchestrated at the service layer, not executed by a backend"), nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result := t.runner.Run(ctx, &input, resolved)
	if ctx.Err() != nil && result.ErrorType() == schema.ErrorTypeCancelled {
		return schema.ExecutorResult{}, ctx.Err()
	}
	return result, nil
}

// builtinContext maps "core.transform.reshape" to module
// "core.transform", name "reshape" in the builtin origin.
func builtinContext(actionName string) *schema.ResolvedContext {
	module, name := "", actionName
	if dot := strings.LastIndexByte(actionName, '.'); dot >= 0 {
		module, name = actionName[:dot], actionName[dot+1:]
	}
	return &schema.ResolvedContext{
		ActionImpl: schema.ActionImpl{
			Type:   schema.ActionImplUDF,
			Module: module,
			Name:   name,
			Origin: schema.BuiltinOrigin,
		},
	}
}
