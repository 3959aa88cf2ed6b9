// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Resources are cgroup limits applied through a systemd scope.
type Resources struct {
	// MemoryMax is a systemd size such as "512M" or "2G".
	MemoryMax string
	TasksMax  int
	CPUQuota  string
}

// HasLimits reports whether any limit is set.
func (r Resources) HasLimits() bool {
	return r.MemoryMax != "" || r.TasksMax > 0 || r.CPUQuota != ""
}

// Scope wraps a command in a systemd transient scope.
type Scope struct {
	// Name becomes the unit name, for example "tracecat-worker-3".
	Name      string
	Resources Resources

	// User runs the scope under the user manager (--user).
	User bool

	lookPath func(string) (string, error)
}

// NewScope returns a user scope with the given limits.
func NewScope(name string, resources Resources) *Scope {
	return &Scope{Name: name, Resources: resources, User: true, lookPath: exec.LookPath}
}

// Available reports whether systemd-run is on PATH.
func (s *Scope) Available() bool {
	lookPath := s.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath("systemd-run")
	return err == nil
}

// Wrap prefixes command with systemd-run. The command is returned
// unchanged when systemd is missing or no limit is set.
func (s *Scope) Wrap(command []string) []string {
	if !s.Resources.HasLimits() || !s.Available() {
		return command
	}
	args := []string{"systemd-run"}
	if s.User {
		args = append(args, "--user")
	}
	args = append(args, "--scope", "--quiet", "--collect")
	if s.Name != "" {
		args = append(args, "--unit="+s.Name)
	}
	if s.Resources.MemoryMax != "" {
		args = append(args, "--property=MemoryMax="+s.Resources.MemoryMax)
	}
	if s.Resources.TasksMax > 0 {
		args = append(args, fmt.Sprintf("--property=TasksMax=%d", s.Resources.TasksMax))
	}
	if s.Resources.CPUQuota != "" {
		args = append(args, "--property=CPUQuota="+s.Resources.CPUQuota)
	}
	args = append(args, "--")
	return append(args, command...)
}

// ParseMemoryLimit parses a systemd size ("512M", "2G", "1048576").
// Empty and "infinity" mean unlimited and return 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" || limit == "infinity" {
		return 0, nil
	}
	multiplier := uint64(1)
	number := limit
	switch limit[len(limit)-1] {
	case 'K', 'k':
		multiplier = 1 << 10
	case 'M', 'm':
		multiplier = 1 << 20
	case 'G', 'g':
		multiplier = 1 << 30
	case 'T', 't':
		multiplier = 1 << 40
	}
	if multiplier != 1 {
		number = limit[:len(limit)-1]
	}
	value, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", limit, err)
	}
	if value > ^uint64(0)/multiplier {
		return 0, fmt.Errorf("memory limit %q overflows", limit)
	}
	return value * multiplier, nil
}
