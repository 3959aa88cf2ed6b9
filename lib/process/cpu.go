// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// cgroupCPUMaxPath is the cgroup v2 CPU quota file for the current
// cgroup namespace.
const cgroupCPUMaxPath = "/sys/fs/cgroup/cpu.max"

// EffectiveCPUCount returns the number of CPUs this process can use:
// the size of its affinity mask, further limited by a cgroup v2 CPU
// quota when one is set. The result is at least 1.
func EffectiveCPUCount() int {
	affinity := runtime.NumCPU()
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if count := set.Count(); count > 0 {
			affinity = count
		}
	}
	return boundByQuota(affinity, cgroupCPUMaxPath)
}

// boundByQuota limits cpus by the quota in the cpu.max file at path.
// A missing or unlimited quota leaves cpus unchanged.
func boundByQuota(cpus int, path string) int {
	data, err := os.ReadFile(path)
	if err == nil {
		if quota, err := ParseCPUMax(string(data)); err == nil && quota > 0 {
			cpus = min(cpus, int(math.Ceil(quota)))
		}
	}
	return max(cpus, 1)
}

// ParseCPUMax parses cgroup v2 cpu.max content ("<quota> <period>" or
// "max <period>") and returns the quota in cores. Unlimited is 0.
func ParseCPUMax(content string) (float64, error) {
	fields := strings.Fields(content)
	if len(fields) != 2 {
		return 0, fmt.Errorf("unexpected cpu.max format %q", content)
	}
	period, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || period <= 0 {
		return 0, fmt.Errorf("invalid cpu.max period %q", fields[1])
	}
	if fields[0] == "max" {
		return 0, nil
	}
	quota, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu.max quota %q", fields[0])
	}
	return float64(quota) / float64(period), nil
}
