// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// ResolvedContext is the pre-resolved bundle handed to a worker. It
// is constructed on the trusted side; a sandboxed worker can reach
// nothing outside it.
type ResolvedContext struct {
	// Secrets maps secret name to its key/value pairs.
	Secrets map[string]map[string]string `json:"secrets,omitempty"`

	// Variables maps workspace variable name to its key/value pairs.
	Variables map[string]map[string]string `json:"variables,omitempty"`

	// ActionImpl is the implementation to execute.
	ActionImpl ActionImpl `json:"action_impl"`

	// Bundles lists the extracted registry bundles available to the
	// action, in import resolution order.
	Bundles []BundleRef `json:"bundles,omitempty"`

	// EvaluatedArgs, when set, are the action arguments with every
	// expression already substituted on the trusted side. Workers use
	// them in place of Task.Args and skip their own evaluation.
	EvaluatedArgs map[string]any `json:"evaluated_args,omitempty"`
}

// BundleRef names an extracted registry bundle. Dir is relative to the
// registry cache root so the same reference is valid on the host and
// inside a sandbox that mounts the root elsewhere.
type BundleRef struct {
	Origin string `json:"origin"`
	Dir    string `json:"dir"`
}

// Secret returns the value of key within the named secret.
func (rc *ResolvedContext) Secret(name, key string) (string, bool) {
	if rc == nil {
		return "", false
	}
	values, ok := rc.Secrets[name]
	if !ok {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}

// Variable returns the value of key within the named variable.
func (rc *ResolvedContext) Variable(name, key string) (string, bool) {
	if rc == nil {
		return "", false
	}
	values, ok := rc.Variables[name]
	if !ok {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}
