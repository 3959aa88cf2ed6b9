// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tracecathq/executor/lib/process"
	"github.com/tracecathq/executor/sandbox"
)

// SocketName is the worker socket's file name inside its work
// directory.
const SocketName = "worker.sock"

// Process is a running worker. *process.Child implements it.
type Process interface {
	PID() int

	// Exited reports whether the process has exited. It must not
	// block.
	Exited() bool

	// Terminate stops the process: SIGTERM, then SIGKILL after grace.
	Terminate(ctx context.Context, grace time.Duration) error
}

// Spawner starts workers. The worker must create its socket at
// filepath.Join(workDir, SocketName) once it accepts connections.
type Spawner interface {
	Spawn(ctx context.Context, workerID int, workDir string) (Process, error)
}

// SandboxConfig selects a bwrap sandbox for spawned workers.
type SandboxConfig struct {
	// Binary is the bwrap executable.
	Binary     string
	RootfsPath string
	Network    bool

	// MemoryLimit and TasksMax are enforced with a systemd scope when
	// systemd-run is available.
	MemoryLimit string
	TasksMax    int
}

// ProcessSpawner starts tracecat-worker processes, optionally inside a
// sandbox.
type ProcessSpawner struct {
	WorkerBinary  string
	MaxConcurrent int

	// RegistryRoot is the host registry cache root.
	RegistryRoot string

	// Sandbox is nil for unsandboxed workers.
	Sandbox *SandboxConfig

	// Stderr receives worker logs. Nil means os.Stderr.
	Stderr io.Writer

	Logger *slog.Logger
}

// Spawn starts one worker. The process is not tied to ctx: it lives
// until terminated.
func (s *ProcessSpawner) Spawn(_ context.Context, workerID int, workDir string) (Process, error) {
	command, err := s.command(workerID, workDir)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workDir
	cmd.Env = s.environment(workDir)
	cmd.Stdout = s.stderr()
	cmd.Stderr = s.stderr()
	child, err := process.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawning worker %d: %w", workerID, err)
	}
	if s.Logger != nil {
		s.Logger.Debug("worker spawned",
			"worker_id", workerID,
			"pid", child.PID(),
			"sandboxed", s.Sandbox != nil,
		)
	}
	return child, nil
}

// command returns the argv for one worker.
func (s *ProcessSpawner) command(workerID int, workDir string) ([]string, error) {
	if s.WorkerBinary == "" {
		return nil, fmt.Errorf("worker binary is not configured")
	}
	if s.Sandbox == nil {
		command := []string{s.WorkerBinary,
			"--socket", filepath.Join(workDir, SocketName),
			"--max-concurrent", strconv.Itoa(s.MaxConcurrent),
		}
		if s.RegistryRoot != "" {
			command = append(command, "--registry-root", s.RegistryRoot)
		}
		return command, nil
	}

	spec, err := sandbox.WorkerSpec(sandbox.Options{
		RootfsPath:   s.Sandbox.RootfsPath,
		WorkDir:      workDir,
		WorkerBinary: s.WorkerBinary,
		RegistryRoot: s.RegistryRoot,
		Network:      s.Sandbox.Network,
		Env:          debugEnv(),
	}, SocketName, s.MaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("worker %d sandbox: %w", workerID, err)
	}
	args, err := spec.Args()
	if err != nil {
		return nil, fmt.Errorf("worker %d sandbox: %w", workerID, err)
	}
	command := append([]string{s.Sandbox.Binary}, args...)

	scope := sandbox.NewScope(
		fmt.Sprintf("tracecat-worker-%d-%s", workerID, uuid.NewString()[:8]),
		sandbox.Resources{MemoryMax: s.Sandbox.MemoryLimit, TasksMax: s.Sandbox.TasksMax},
	)
	return scope.Wrap(command), nil
}

// environment is the unsandboxed worker environment. Sandboxed
// workers get theirs from the sandbox spec.
func (s *ProcessSpawner) environment(workDir string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"LANG=C.UTF-8",
	}
	for key, value := range debugEnv() {
		env = append(env, key+"="+value)
	}
	// systemd-run --user needs the session bus.
	if value, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok {
		env = append(env, "XDG_RUNTIME_DIR="+value)
	}
	return env
}

func (s *ProcessSpawner) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return os.Stderr
}

func debugEnv() map[string]string {
	if value := os.Getenv("TRACECAT_DEBUG"); value != "" {
		return map[string]string{"TRACECAT_DEBUG": value}
	}
	return nil
}
