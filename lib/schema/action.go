// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// Action implementation types. A UDF is a single callable; a template
// is a declarative composition of other actions and is only ever
// expanded by the trusted service layer.
const (
	ActionImplUDF      = "udf"
	ActionImplTemplate = "template"
)

// BuiltinOrigin is the registry origin of the actions compiled into
// the worker binary. It always sorts first in import resolution order.
const BuiltinOrigin = "tracecat_registry"

// ActionImpl describes the concrete implementation of an action.
type ActionImpl struct {
	// Type is ActionImplUDF or ActionImplTemplate.
	Type string `json:"type"`

	// Module and Name locate a UDF within its origin. For builtin
	// actions Module is the dotted namespace ("core.transform") and
	// Name the function ("reshape"). For bundle actions Module names
	// the executable under the bundle's actions directory.
	Module string `json:"module,omitempty"`
	Name   string `json:"name,omitempty"`

	// Origin is the registry origin that provides the implementation.
	Origin string `json:"origin,omitempty"`

	// TemplateAction is set only for template implementations.
	TemplateAction *TemplateAction `json:"template_action,omitempty"`
}

// Key returns the "module.name" key used to register and memoize
// UDF resolutions.
func (impl ActionImpl) Key() string {
	if impl.Module == "" {
		return impl.Name
	}
	return impl.Module + "." + impl.Name
}

// Validate checks the fields required for the implementation type.
func (impl ActionImpl) Validate() error {
	switch impl.Type {
	case ActionImplUDF:
		if impl.Name == "" {
			return fmt.Errorf("udf action implementation requires a name")
		}
		return nil
	case ActionImplTemplate:
		if impl.TemplateAction == nil {
			return fmt.Errorf("template action implementation requires a template definition")
		}
		return nil
	case "":
		return fmt.Errorf("action implementation type is required")
	default:
		return fmt.Errorf("unknown action implementation type %q", impl.Type)
	}
}

// TemplateAction is an inline template definition.
type TemplateAction struct {
	Name  string         `json:"name"`
	Steps []TemplateStep `json:"steps"`
}

// TemplateStep is one step of a template action.
type TemplateStep struct {
	Ref    string         `json:"ref"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// ActionStatement is the task half of a run request: which action to
// run and with which (already templated) arguments.
type ActionStatement struct {
	Ref    string         `json:"ref"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}
