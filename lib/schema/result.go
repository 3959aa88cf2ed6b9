// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Result type discriminators.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Error types produced by the executor itself (as opposed to types
// raised by action code). Callers use these to tell backpressure and
// timeouts apart from action failures.
const (
	ErrorTypeTimeout              = "ExecutionTimeout"
	ErrorTypeCancelled            = "ExecutionCancelled"
	ErrorTypeProtocol             = "ProtocolError"
	ErrorTypePoolExhausted        = "PoolExhausted"
	ErrorTypeTemplateNotSupported = "TemplateNotSupported"
	ErrorTypeActionNotFound       = "ActionNotFound"
	ErrorTypeSandbox              = "SandboxError"
	ErrorTypeResolution           = "ResolutionError"
	ErrorTypePanic                = "Panic"
)

// ExecutorResult is the tagged union returned for every execution
// attempt. Exactly one of Result (success) or Error (failure) is
// meaningful, selected by Type.
type ExecutorResult struct {
	Type   string
	Result any
	Error  *ActionErrorInfo
}

// Success returns a success result carrying value.
func Success(value any) ExecutorResult {
	return ExecutorResult{Type: ResultSuccess, Result: value}
}

// Failure returns a failure result carrying info.
func Failure(info ActionErrorInfo) ExecutorResult {
	return ExecutorResult{Type: ResultFailure, Error: &info}
}

// NewFailure builds a failure for an executor-originated error type.
func NewFailure(actionName, errorType, message string) ExecutorResult {
	return Failure(ActionErrorInfo{
		ActionName: actionName,
		Type:       errorType,
		Message:    message,
	})
}

// IsSuccess reports whether the result is a success.
func (r ExecutorResult) IsSuccess() bool {
	return r.Type == ResultSuccess
}

// ErrorType returns the failure's error type, or "" for successes.
func (r ExecutorResult) ErrorType() string {
	if r.Type != ResultFailure || r.Error == nil {
		return ""
	}
	return r.Error.Type
}

type successWire struct {
	Type   string `json:"type"`
	Result any    `json:"result"`
}

type failureWire struct {
	Type  string           `json:"type"`
	Error *ActionErrorInfo `json:"error"`
}

// MarshalJSON encodes the union with an explicit "type" field.
func (r ExecutorResult) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case ResultSuccess:
		return json.Marshal(successWire{Type: ResultSuccess, Result: r.Result})
	case ResultFailure:
		if r.Error == nil {
			return nil, fmt.Errorf("failure result has no error info")
		}
		return json.Marshal(failureWire{Type: ResultFailure, Error: r.Error})
	default:
		return nil, fmt.Errorf("invalid executor result type %q", r.Type)
	}
}

// UnmarshalJSON decodes the union and rejects unknown discriminators.
func (r *ExecutorResult) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type   string           `json:"type"`
		Result json.RawMessage  `json:"result"`
		Error  *ActionErrorInfo `json:"error"`
	}
	if err := DecodeJSON(data, &envelope); err != nil {
		return err
	}
	switch envelope.Type {
	case ResultSuccess:
		var value any
		if len(envelope.Result) > 0 {
			if err := DecodeJSON(envelope.Result, &value); err != nil {
				return fmt.Errorf("decoding success result: %w", err)
			}
		}
		*r = ExecutorResult{Type: ResultSuccess, Result: value}
		return nil
	case ResultFailure:
		if envelope.Error == nil {
			return fmt.Errorf("failure result is missing error info")
		}
		*r = ExecutorResult{Type: ResultFailure, Error: envelope.Error}
		return nil
	default:
		return fmt.Errorf("invalid executor result type %q", envelope.Type)
	}
}

// ActionErrorInfo describes a failed execution with enough context to
// localize it without worker-internal logs.
type ActionErrorInfo struct {
	ActionName string `json:"action_name"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Filename   string `json:"filename,omitempty"`
	Function   string `json:"function,omitempty"`
	Lineno     int    `json:"lineno,omitempty"`

	// LoopIteration and LoopVars are set for failures inside a
	// for_each expansion.
	LoopIteration *int           `json:"loop_iteration,omitempty"`
	LoopVars      map[string]any `json:"loop_vars,omitempty"`
}

// Error renders the failure for callers and logs.
func (info *ActionErrorInfo) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "action %s failed: %s: %s", info.ActionName, info.Type, info.Message)
	if info.Function != "" || info.Filename != "" {
		fmt.Fprintf(&builder, " (in %s at %s:%d)", info.Function, info.Filename, info.Lineno)
	}
	if info.LoopIteration != nil {
		fmt.Fprintf(&builder, " [loop iteration %d", *info.LoopIteration)
		if len(info.LoopVars) > 0 {
			keys := make([]string, 0, len(info.LoopVars))
			for key := range info.LoopVars {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			builder.WriteString(" with")
			for _, key := range keys {
				fmt.Fprintf(&builder, " %s=%v", key, info.LoopVars[key])
			}
		}
		builder.WriteString("]")
	}
	return builder.String()
}

// WithLoop copies loop diagnostics from the input onto the failure.
func (info ActionErrorInfo) WithLoop(loop *LoopContext) ActionErrorInfo {
	if loop == nil {
		return info
	}
	iteration := loop.Iteration
	info.LoopIteration = &iteration
	info.LoopVars = loop.Variables
	return info
}
