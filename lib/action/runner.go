// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tracecathq/executor/lib/schema"
)

// Runner executes one RunActionInput against a resolved context. It is
// the single entry point shared by the in-process backend, the worker
// server, and one-shot workers, so every backend reports identical
// results for the same input.
type Runner struct {
	loader *Loader
	logger *slog.Logger
}

// NewRunner returns a Runner that resolves actions through loader.
func NewRunner(loader *Loader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{loader: loader, logger: logger}
}

// Run executes the action. It never returns a Go error: every outcome,
// including panics in action code, is a schema.ExecutorResult.
func (r *Runner) Run(ctx context.Context, input *schema.RunActionInput, resolved *schema.ResolvedContext) (result schema.ExecutorResult) {
	actionName := input.ActionName()
	defer func() {
		if recovered := recover(); recovered != nil {
			provenance := panicProvenance()
			r.logger.Error("action panicked",
				"action", actionName,
				"panic", fmt.Sprint(recovered),
				"function", provenance.Function,
			)
			result = r.failure(input, schema.ActionErrorInfo{
				ActionName: actionName,
				Type:       schema.ErrorTypePanic,
				Message:    fmt.Sprint(recovered),
				Filename:   provenance.Filename,
				Function:   provenance.Function,
				Lineno:     provenance.Lineno,
			})
		}
	}()

	if resolved == nil {
		return r.failure(input, schema.ActionErrorInfo{
			ActionName: actionName,
			Type:       schema.ErrorTypeResolution,
			Message:    "no resolved context for action",
		})
	}
	impl := resolved.ActionImpl
	if impl.Type == schema.ActionImplTemplate {
		return r.failure(input, schema.ActionErrorInfo{
			ActionName: actionName,
			Type:       schema.ErrorTypeTemplateNotSupported,
			Message:    "template actions must be orchestrated at the service layer",
		})
	}
	if err := impl.Validate(); err != nil {
		return r.failure(input, schema.ActionErrorInfo{
			ActionName: actionName,
			Type:       schema.ErrorTypeResolution,
			Message:    err.Error(),
		})
	}

	resolution, err := r.loader.Resolve(impl, resolved.Bundles)
	if err != nil {
		errorType := schema.ErrorTypeResolution
		if errors.Is(err, ErrNotFound) {
			errorType = schema.ErrorTypeActionNotFound
		}
		return r.failure(input, schema.ActionErrorInfo{
			ActionName: actionName,
			Type:       errorType,
			Message:    err.Error(),
		})
	}

	args := resolved.EvaluatedArgs
	if args == nil {
		args, err = EvaluateArgs(input.Task.Args, resolved)
	}
	if err != nil {
		return r.failure(input, schema.ActionErrorInfo{
			ActionName: actionName,
			Type:       schema.ErrorTypeResolution,
			Message:    err.Error(),
		})
	}

	call := &Call{
		Action:   actionName,
		Args:     args,
		Logger:   r.logger.With("action", actionName),
		resolved: resolved,
	}
	value, err := resolution.Func(ctx, call)
	if err != nil {
		return r.failure(input, r.errorInfo(ctx, actionName, resolution.Provenance, err))
	}

	normalized, err := normalize(value)
	if err != nil {
		return r.failure(input, schema.ActionErrorInfo{
			ActionName: actionName,
			Type:       "TypeError",
			Message:    fmt.Sprintf("action result is not JSON serializable: %v", err),
			Filename:   resolution.Provenance.Filename,
			Function:   resolution.Provenance.Function,
			Lineno:     resolution.Provenance.Lineno,
		})
	}
	return schema.Success(normalized)
}

func (r *Runner) errorInfo(ctx context.Context, actionName string, provenance Provenance, err error) schema.ActionErrorInfo {
	info := schema.ActionErrorInfo{
		ActionName: actionName,
		Filename:   provenance.Filename,
		Function:   provenance.Function,
		Lineno:     provenance.Lineno,
	}
	var external *ExternalError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		info.Type = schema.ErrorTypeTimeout
		info.Message = "action exceeded its execution timeout"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		info.Type = schema.ErrorTypeCancelled
		info.Message = "action execution was cancelled"
	case errors.As(err, &external):
		info.Type = external.Type
		info.Message = external.Message
		if external.Provenance.Filename != "" {
			info.Filename = external.Provenance.Filename
			info.Function = external.Provenance.Function
			info.Lineno = external.Provenance.Lineno
		}
	default:
		info.Type = errorType(err)
		info.Message = errorMessage(err)
	}
	return info
}

func (r *Runner) failure(input *schema.RunActionInput, info schema.ActionErrorInfo) schema.ExecutorResult {
	info = info.WithLoop(input.Loop)
	r.logger.Debug("action failed",
		"action", info.ActionName,
		"type", info.Type,
		"message", info.Message,
	)
	return schema.Failure(info)
}

// normalize converts value to the plain JSON shape (maps, slices,
// json.Number, string, bool, nil) a caller would see after transport, so
// in-process and out-of-process backends return identical results.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := schema.DecodeJSON(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// panicProvenance returns the frame that panicked: the first frame
// below the runtime's panic machinery.
func panicProvenance() Provenance {
	pcs := make([]uintptr, 32)
	count := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:count])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") && !strings.HasPrefix(frame.Function, "internal/runtime/") {
			return Provenance{Filename: frame.File, Function: frame.Function, Lineno: frame.Line}
		}
		if !more {
			return Provenance{}
		}
	}
}
