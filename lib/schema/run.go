// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"
)

// RunActionInput identifies one unit of work submitted by the workflow
// engine. Backends must not modify it.
type RunActionInput struct {
	Task         ActionStatement `json:"task"`
	ExecContext  map[string]any  `json:"exec_context,omitempty"`
	RunContext   RunContext      `json:"run_context"`
	RegistryLock *RegistryLock   `json:"registry_lock,omitempty"`
	Loop         *LoopContext    `json:"loop,omitempty"`
	Interaction  map[string]any  `json:"interaction_context,omitempty"`
}

// ActionName returns the fully qualified action name of the task.
func (input *RunActionInput) ActionName() string {
	return input.Task.Action
}

// Validate checks that the input names an action and carries a run
// context. It is a programming-error check, not an execution outcome.
func (input *RunActionInput) Validate() error {
	if input == nil {
		return fmt.Errorf("run action input is required")
	}
	if input.Task.Action == "" {
		return fmt.Errorf("task action is required")
	}
	if input.RunContext.WorkflowID == "" {
		return fmt.Errorf("run context workflow_id is required")
	}
	return nil
}

// RunContext identifies the workflow execution that owns the task.
type RunContext struct {
	WorkflowID  string    `json:"wf_id"`
	ExecutionID string    `json:"wf_exec_id"`
	RunID       string    `json:"wf_run_id"`
	Environment string    `json:"environment"`
	LogicalTime time.Time `json:"logical_time"`
}

// DefaultEnvironment is the secrets environment used when the run
// context does not name one.
const DefaultEnvironment = "default"

// SecretsEnvironment returns the environment secrets and variables are
// resolved from.
func (rc RunContext) SecretsEnvironment() string {
	if rc.Environment == "" {
		return DefaultEnvironment
	}
	return rc.Environment
}

// RegistryLock pins action origins to specific versions so a workflow
// run executes reproducibly.
type RegistryLock struct {
	// Origins maps origin name to pinned version.
	Origins map[string]string `json:"origins"`

	// Actions maps action name to the origin that provides it.
	Actions map[string]string `json:"actions,omitempty"`
}

// LoopContext carries for_each iteration diagnostics.
type LoopContext struct {
	Iteration int            `json:"iteration"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Role is the caller identity. This subsystem passes it through to
// the resolver and never interprets scopes.
type Role struct {
	Type        string   `json:"type"`
	WorkspaceID string   `json:"workspace_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	ServiceID   string   `json:"service_id"`
	Scopes      []string `json:"scopes,omitempty"`
}
