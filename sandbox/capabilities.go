// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes the sandbox features of this host.
type Capabilities struct {
	BwrapAvailable bool
	BwrapPath      string
	BwrapVersion   string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool

	SystemdRunAvailable   bool
	SystemdUserScopesWork bool
}

// DetectCapabilities probes the host. It runs bwrap and systemd-run,
// so it costs a few process spawns.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}
	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
		caps.UserNamespacesEnabled = checkUserNamespaces(path)
	}
	if _, err := exec.LookPath("systemd-run"); err == nil {
		caps.SystemdRunAvailable = true
		if exec.Command("systemd-run", "--user", "--scope", "--quiet", "--", "true").Run() == nil {
			caps.SystemdUserScopesWork = true
		}
	}
	return caps
}

// CanRunSandbox reports whether bwrap can create a sandbox here.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason explains why sandboxing is unavailable, or returns "".
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}

func checkUserNamespaces(bwrap string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	return exec.Command(bwrap, "--unshare-user", "--ro-bind", "/", "/", "--", "true").Run() == nil
}

// BwrapPath returns the first bwrap found in the standard locations or
// on PATH.
func BwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if isExecutable(path) {
			return path, nil
		}
	}
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("bwrap not found in standard locations or PATH")
}

// Available reports whether the configured sandbox binary is
// executable and the rootfs directory exists. This is the cheap
// filesystem check backend selection uses; it does not run bwrap.
func Available(binary, rootfs string) bool {
	if !isExecutable(binary) {
		return false
	}
	info, err := os.Stat(rootfs)
	return err == nil && info.IsDir()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
