// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// CheckResult is one pre-flight check.
type CheckResult struct {
	Name    string
	Passed  bool
	Warning bool
	Message string
}

// Report collects pre-flight checks for a sandbox configuration.
type Report struct {
	Results []CheckResult
	errors  int
}

func (r *Report) pass(name, message string) {
	r.Results = append(r.Results, CheckResult{Name: name, Passed: true, Message: message})
}

func (r *Report) warn(name, message string) {
	r.Results = append(r.Results, CheckResult{Name: name, Passed: true, Warning: true, Message: message})
}

func (r *Report) fail(name, message string) {
	r.Results = append(r.Results, CheckResult{Name: name, Message: message})
	r.errors++
}

// HasErrors reports whether any check failed.
func (r *Report) HasErrors() bool {
	return r.errors > 0
}

// CheckConfig names what Check inspects.
type CheckConfig struct {
	Binary       string
	RootfsPath   string
	WorkerBinary string
	MemoryLimit  string
}

// Check verifies that a sandboxed worker can be started with config.
func Check(config CheckConfig) *Report {
	report := &Report{}
	report.checkBinary(config.Binary)
	report.checkUserNamespaces()
	report.checkDirectory("rootfs", config.RootfsPath)
	report.checkWorker(config.WorkerBinary)
	report.checkSystemd(config.MemoryLimit)
	return report
}

func (r *Report) checkBinary(binary string) {
	if binary == "" {
		path, err := BwrapPath()
		if err != nil {
			r.fail("bwrap", err.Error())
			return
		}
		binary = path
	}
	if !isExecutable(binary) {
		r.fail("bwrap", fmt.Sprintf("%s is missing or not executable", binary))
		return
	}
	output, err := exec.Command(binary, "--version").Output()
	if err != nil {
		r.warn("bwrap", fmt.Sprintf("found at %s but --version failed", binary))
		return
	}
	r.pass("bwrap", fmt.Sprintf("available: %s (%s)", binary, strings.TrimSpace(string(output))))
}

func (r *Report) checkUserNamespaces() {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	switch {
	case os.IsNotExist(err):
		r.pass("userns", "user namespaces supported (no clone restriction)")
	case err != nil:
		r.warn("userns", fmt.Sprintf("cannot check user namespace support: %v", err))
	case strings.TrimSpace(string(data)) == "0":
		r.fail("userns", "unprivileged user namespaces are disabled (set kernel.unprivileged_userns_clone=1)")
	default:
		r.pass("userns", "user namespaces enabled")
	}
}

func (r *Report) checkDirectory(name, path string) {
	if path == "" {
		r.fail(name, "path is not configured")
		return
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		r.fail(name, fmt.Sprintf("cannot access %s: %v", path, err))
	case !info.IsDir():
		r.fail(name, fmt.Sprintf("not a directory: %s", path))
	default:
		r.pass(name, fmt.Sprintf("exists: %s", path))
	}
}

func (r *Report) checkWorker(path string) {
	if path == "" {
		r.fail("worker", "worker binary is not configured")
		return
	}
	if !isExecutable(path) {
		r.fail("worker", fmt.Sprintf("%s is missing or not executable", path))
		return
	}
	r.pass("worker", fmt.Sprintf("executable: %s", path))
}

func (r *Report) checkSystemd(memoryLimit string) {
	if _, err := ParseMemoryLimit(memoryLimit); err != nil {
		r.fail("memory_limit", err.Error())
		return
	}
	path, err := exec.LookPath("systemd-run")
	if err != nil {
		if memoryLimit != "" {
			r.warn("systemd", "systemd-run not found (memory limit will not be enforced)")
		} else {
			r.warn("systemd", "systemd-run not found (resource limits unavailable)")
		}
		return
	}
	r.pass("systemd", fmt.Sprintf("available: %s", path))
}

// Print writes one line per check and a summary.
func (r *Report) Print(w io.Writer) {
	for _, result := range r.Results {
		prefix := "✓"
		switch {
		case !result.Passed:
			prefix = "✗"
		case result.Warning:
			prefix = "⚠"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, result.Name, result.Message)
	}
	fmt.Fprintln(w)
	if r.HasErrors() {
		fmt.Fprintf(w, "Sandbox unavailable: %d check(s) failed\n", r.errors)
	} else {
		fmt.Fprintln(w, "Sandbox ready")
	}
}
