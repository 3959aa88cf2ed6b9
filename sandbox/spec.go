// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// MountType selects how a Mount is materialized.
type MountType string

const (
	MountBind  MountType = ""      // bind mount from the host
	MountTmpfs MountType = "tmpfs" // empty tmpfs
	MountProc  MountType = "proc"  // new /proc for the PID namespace
	MountDev   MountType = "dev"   // minimal /dev
	MountDir   MountType = "dir"   // empty directory on the sandbox root
)

// Mount is one filesystem entry in the sandbox.
type Mount struct {
	Type     MountType
	Source   string
	Dest     string
	ReadOnly bool
}

// NamespaceConfig selects the namespaces to unshare.
type NamespaceConfig struct {
	PID    bool
	Net    bool
	IPC    bool
	UTS    bool
	Cgroup bool
	User   bool
}

// SecurityConfig holds process-level options. bwrap always drops
// capabilities and sets no_new_privs.
type SecurityConfig struct {
	NewSession    bool
	DieWithParent bool
}

// Spec is a complete sandbox description.
type Spec struct {
	Namespaces NamespaceConfig
	Security   SecurityConfig
	Mounts     []Mount

	// Env is the entire environment of the sandboxed process; the
	// host environment is always cleared.
	Env map[string]string

	// Chdir is the working directory inside the sandbox.
	Chdir string

	// Command is the program and its arguments. Command[0] is an
	// absolute path inside the sandbox.
	Command []string
}

// Validate reports every problem with the spec.
func (s *Spec) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if len(s.Command) == 0 {
		add("command is required")
	} else if err := checkPath(s.Command[0]); err != nil {
		add("command: %w", err)
	}
	for index, arg := range s.Command {
		if hasControl(arg) {
			add("command[%d]: contains a control character", index)
		}
	}

	for index, mount := range s.Mounts {
		if err := checkPath(mount.Dest); err != nil {
			add("mounts[%d] dest: %w", index, err)
		}
		switch mount.Type {
		case MountBind:
			if err := checkPath(mount.Source); err != nil {
				add("mounts[%d] source: %w", index, err)
			}
		case MountTmpfs, MountProc, MountDev, MountDir:
			if mount.Source != "" {
				add("mounts[%d]: %s mount takes no source", index, mount.Type)
			}
		default:
			add("mounts[%d]: unknown mount type %q", index, mount.Type)
		}
	}

	for key, value := range s.Env {
		if key == "" || strings.ContainsRune(key, '=') || hasControl(key) {
			add("env key %q is invalid", key)
		}
		if hasControl(value) {
			add("env %s: value contains a control character", key)
		}
	}

	if s.Chdir != "" {
		if err := checkPath(s.Chdir); err != nil {
			add("chdir: %w", err)
		}
	}

	return errors.Join(problems...)
}

// Args validates the spec and serializes it to bwrap arguments, ending
// with "--" and the command.
func (s *Spec) Args() ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox spec: %w", err)
	}

	var args []string
	flag := func(enabled bool, name string) {
		if enabled {
			args = append(args, name)
		}
	}
	flag(s.Namespaces.PID, "--unshare-pid")
	flag(s.Namespaces.Net, "--unshare-net")
	flag(s.Namespaces.IPC, "--unshare-ipc")
	flag(s.Namespaces.UTS, "--unshare-uts")
	flag(s.Namespaces.Cgroup, "--unshare-cgroup")
	flag(s.Namespaces.User, "--unshare-user")
	flag(s.Security.NewSession, "--new-session")
	flag(s.Security.DieWithParent, "--die-with-parent")

	for _, mount := range s.Mounts {
		switch mount.Type {
		case MountTmpfs:
			args = append(args, "--tmpfs", mount.Dest)
		case MountProc:
			args = append(args, "--proc", mount.Dest)
		case MountDev:
			args = append(args, "--dev", mount.Dest)
		case MountDir:
			args = append(args, "--dir", mount.Dest)
		default:
			if mount.ReadOnly {
				args = append(args, "--ro-bind", mount.Source, mount.Dest)
			} else {
				args = append(args, "--bind", mount.Source, mount.Dest)
			}
		}
	}

	args = append(args, "--clearenv")
	keys := make([]string, 0, len(s.Env))
	for key := range s.Env {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		args = append(args, "--setenv", key, s.Env[key])
	}

	if s.Chdir != "" {
		args = append(args, "--chdir", s.Chdir)
	}

	args = append(args, "--")
	return append(args, s.Command...), nil
}

// checkPath requires an absolute, clean-enough path with no ".."
// components and no control characters.
func checkPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("path is empty")
	case hasControl(path):
		return fmt.Errorf("path %q contains a control character", path)
	case !filepath.IsAbs(path):
		return fmt.Errorf("path %q is not absolute", path)
	}
	if slices.Contains(strings.Split(path, "/"), "..") {
		return fmt.Errorf("path %q contains a .. component", path)
	}
	return nil
}

// hasControl reports whether text contains NUL or another ASCII
// control character.
func hasControl(text string) bool {
	for _, r := range text {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
