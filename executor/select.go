// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"

	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/sandbox"
)

// Probe reports whether a sandbox can be built from binary and rootfs.
// sandbox.Available is the real probe.
type Probe func(binary, rootfs string) bool

// Selection is the outcome of backend selection.
type Selection struct {
	Backend config.BackendType

	// Warning is set when auto selection fell back to an unsandboxed
	// backend because the sandbox is missing.
	Warning string
}

// Resolve maps the configured backend type to a concrete one. Explicit
// types are returned unchanged. Auto selects direct when sandboxing is
// disabled, the sandboxed pool when the sandbox binary and rootfs both
// exist, and otherwise falls back to direct with a warning. A nil
// probe means sandbox.Available.
func Resolve(cfg *config.Config, probe Probe) Selection {
	if cfg.Backend != config.BackendAuto {
		return Selection{Backend: cfg.Backend}
	}
	if cfg.Sandbox.Disabled {
		return Selection{Backend: config.BackendDirect}
	}
	if probe == nil {
		probe = sandbox.Available
	}
	if probe(cfg.Sandbox.Binary, cfg.Sandbox.RootfsPath) {
		return Selection{Backend: config.BackendSandboxedPool}
	}
	return Selection{
		Backend: config.BackendDirect,
		Warning: fmt.Sprintf("sandbox not available (binary %s, rootfs %s): running actions without isolation",
			cfg.Sandbox.Binary, cfg.Sandbox.RootfsPath),
	}
}
