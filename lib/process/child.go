// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

// Child is a started command running in its own process group. Wait
// is called exactly once in a background goroutine; callers observe
// exit through Done, Exited, and Err.
type Child struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	killed atomic.Bool
}

// Start starts cmd in a new process group and begins reaping it.
func Start(cmd *exec.Cmd) (*Child, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	child := &Child{cmd: cmd, done: make(chan struct{})}
	go func() {
		child.err = cmd.Wait()
		close(child.done)
	}()
	return child, nil
}

// PID returns the process ID of the group leader.
func (c *Child) PID() int {
	return c.cmd.Process.Pid
}

// Done is closed once the process has been reaped.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Exited reports whether the process has exited. It never blocks.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the Wait error. Only meaningful after Done is closed.
func (c *Child) Err() error {
	<-c.done
	return c.err
}

// ExitCode returns the exit code, or -1 if the process has not exited
// or was killed by a signal.
func (c *Child) ExitCode() int {
	if !c.Exited() {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// Killed reports whether Terminate had to escalate to SIGKILL.
func (c *Child) Killed() bool {
	return c.killed.Load()
}

// Terminate sends SIGTERM to the process group and waits up to grace
// for exit, then sends SIGKILL. A zero grace kills immediately. If ctx
// ends first the group is killed and ctx.Err() returned.
func (c *Child) Terminate(ctx context.Context, grace time.Duration) error {
	if c.Exited() {
		return nil
	}
	group := -c.cmd.Process.Pid
	if grace > 0 {
		if err := syscall.Kill(group, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			return c.kill(group)
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-c.done:
			return nil
		case <-timer.C:
		case <-ctx.Done():
			c.kill(group)
			return ctx.Err()
		}
	}
	return c.kill(group)
}

func (c *Child) kill(group int) error {
	c.killed.Store(true)
	if err := syscall.Kill(group, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", -group, err)
	}
	<-c.done
	return nil
}
