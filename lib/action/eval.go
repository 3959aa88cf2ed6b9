// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/tracecathq/executor/lib/schema"
)

// expressionPattern matches ${{ SECRETS.name.key }} and
// ${{ VARS.name.key }}.
var expressionPattern = regexp.MustCompile(`\$\{\{\s*(SECRETS|VARS)\.([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\s*\}\}`)

// ResolutionError reports an expression whose target is not in the
// resolved context.
type ResolutionError struct {
	Expression string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unresolved expression %s", e.Expression)
}

// EvaluateArgs returns a deep copy of args with every expression
// replaced. A string that is exactly one expression becomes the
// referenced value; embedded expressions are interpolated.
func EvaluateArgs(args map[string]any, resolved *schema.ResolvedContext) (map[string]any, error) {
	evaluated, err := evaluate(args, resolved)
	if err != nil {
		return nil, err
	}
	result, _ := evaluated.(map[string]any)
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

func evaluate(value any, resolved *schema.ResolvedContext) (any, error) {
	switch typed := value.(type) {
	case string:
		return substitute(typed, resolved)
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, item := range typed {
			evaluated, err := evaluate(item, resolved)
			if err != nil {
				return nil, err
			}
			copied[key] = evaluated
		}
		return copied, nil
	case []any:
		copied := make([]any, len(typed))
		for index, item := range typed {
			evaluated, err := evaluate(item, resolved)
			if err != nil {
				return nil, err
			}
			copied[index] = evaluated
		}
		return copied, nil
	default:
		return value, nil
	}
}

func substitute(text string, resolved *schema.ResolvedContext) (any, error) {
	if !strings.Contains(text, "${{") {
		return text, nil
	}
	var failure error
	replaced := expressionPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := expressionPattern.FindStringSubmatch(match)
		value, ok := lookupExpression(parts[1], parts[2], parts[3], resolved)
		if !ok && failure == nil {
			failure = &ResolutionError{Expression: strings.TrimSpace(match)}
		}
		return value
	})
	if failure != nil {
		return nil, failure
	}
	return replaced, nil
}

func lookupExpression(namespace, name, key string, resolved *schema.ResolvedContext) (string, bool) {
	if namespace == "SECRETS" {
		return resolved.Secret(name, key)
	}
	return resolved.Variable(name, key)
}

// SecretNames returns the distinct secret names referenced anywhere in
// args, sorted.
func SecretNames(args map[string]any) []string {
	seen := make(map[string]struct{})
	var walk func(any)
	walk = func(value any) {
		switch typed := value.(type) {
		case string:
			for _, parts := range expressionPattern.FindAllStringSubmatch(typed, -1) {
				if parts[1] == "SECRETS" {
					seen[parts[2]] = struct{}{}
				}
			}
		case map[string]any:
			for _, item := range typed {
				walk(item)
			}
		case []any:
			for _, item := range typed {
				walk(item)
			}
		}
	}
	walk(args)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
