// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the process-level helpers shared by the
// executor binaries and the backends that spawn worker processes:
//
//   - [Fatal] reports an error from main() before or after the
//     structured logger exists.
//   - [Child] wraps a started command in its own process group and
//     terminates it with SIGTERM, escalating to SIGKILL after a grace
//     period.
//   - [EffectiveCPUCount] sizes worker pools from the CPUs the process
//     may actually use: its scheduler affinity mask bounded by the
//     cgroup v2 CPU quota, not the host CPU count.
package process
