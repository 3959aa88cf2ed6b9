// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/tracecathq/executor/lib/schema"
)

// Func is a builtin action. It returns a JSON-serializable value.
type Func func(ctx context.Context, call *Call) (any, error)

// Call is the per-invocation view an action has of its inputs. It is
// only valid for the duration of the call.
type Call struct {
	// Action is the fully qualified action name.
	Action string

	// Args are the evaluated arguments.
	Args map[string]any

	Logger *slog.Logger

	resolved *schema.ResolvedContext
}

// Secret returns a key of a resolved secret.
func (c *Call) Secret(name, key string) (string, bool) {
	return c.resolved.Secret(name, key)
}

// Variable returns a key of a workspace variable.
func (c *Call) Variable(name, key string) (string, bool) {
	return c.resolved.Variable(name, key)
}

// String returns a string argument. A missing argument yields
// fallback; a non-string argument is an error.
func (c *Call) String(name, fallback string) (string, error) {
	value, ok := c.Args[name]
	if !ok || value == nil {
		return fallback, nil
	}
	text, ok := value.(string)
	if !ok {
		return "", Errorf("TypeError", "argument %q must be a string, got %T", name, value)
	}
	return text, nil
}

// Float returns a numeric argument.
func (c *Call) Float(name string, fallback float64) (float64, error) {
	value, ok := c.Args[name]
	if !ok || value == nil {
		return fallback, nil
	}
	switch number := value.(type) {
	case json.Number:
		parsed, err := number.Float64()
		if err != nil {
			return 0, Errorf("TypeError", "argument %q: %v", name, err)
		}
		return parsed, nil
	case float64:
		return number, nil
	case int:
		return float64(number), nil
	case int64:
		return float64(number), nil
	}
	return 0, Errorf("TypeError", "argument %q must be a number, got %T", name, value)
}

// Error is an action failure with an explicit error type.
type Error struct {
	Type    string
	Message string
}

func (e *Error) Error() string {
	return e.Type + ": " + e.Message
}

// Errorf returns an *Error of the given type.
func Errorf(errorType, format string, args ...any) error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// errorType returns the reported type of err: the Type of an *Error
// in its chain, otherwise "Error".
func errorType(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return "Error"
}

// errorMessage returns the message without the type prefix for *Error.
func errorMessage(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed == err {
		return typed.Message
	}
	return err.Error()
}

// Provenance locates an action's implementation.
type Provenance struct {
	Filename string
	Function string
	Lineno   int
}
