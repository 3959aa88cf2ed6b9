// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads executor configuration.
//
// Configuration has three layers, applied in order:
//
//  1. [Default] values.
//  2. One optional YAML file, named by the --config flag or the
//     TRACECAT_EXECUTOR_CONFIG environment variable. There is no file
//     discovery.
//  3. The TRACECAT__* deployment variables (backend selection, sandbox
//     paths, pool sizing). These are how the executor is configured in
//     containers, so they win over the file.
//
// After layering, ${VAR} and ${VAR:-default} patterns in path fields
// are expanded and the result is validated. A pool size of zero means
// auto: the CPUs this process may use, honouring container quotas.
package config
