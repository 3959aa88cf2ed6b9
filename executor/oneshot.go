// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/process"
	"github.com/tracecathq/executor/lib/schema"
)

// stderrLimit bounds the worker stderr kept for failure messages.
const stderrLimit = 4096

// oneshot runs one request through a `tracecat-worker --oneshot`
// process: the framed request on stdin, the framed result on stdout.
type oneshot struct {
	command []string
	env     []string
	dir     string

	// timeout is the logical timeout returned to the caller. Zero
	// means none.
	timeout time.Duration

	// killAfter is how long past the logical timeout the process may
	// keep running before it is killed.
	killAfter time.Duration

	// failureType classifies a process that exits without a result.
	failureType string

	logger *slog.Logger
}

func (o oneshot) run(ctx context.Context, request *ipc.Request) (schema.ExecutorResult, error) {
	actionName := request.Input.ActionName()

	var stdin bytes.Buffer
	if err := ipc.WriteRequest(&stdin, request); err != nil {
		return schema.ExecutorResult{}, fmt.Errorf("encoding request for %s: %w", actionName, err)
	}
	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrLimit}

	cmd := exec.Command(o.command[0], o.command[1:]...)
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.Env = o.env
	cmd.Dir = o.dir

	started := time.Now()
	child, err := process.Start(cmd)
	if err != nil {
		return schema.NewFailure(actionName, o.failureType, err.Error()), nil
	}

	var expired <-chan time.Time
	if o.timeout > 0 {
		timer := time.NewTimer(o.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-child.Done():
	case <-ctx.Done():
		child.Terminate(context.Background(), 0)
		return schema.ExecutorResult{}, ctx.Err()
	case <-expired:
		go reap(child, o.killAfter, o.logger)
		o.logger.Warn("action timed out",
			"action", actionName,
			"pid", child.PID(),
			"timeout", o.timeout,
		)
		return schema.NewFailure(actionName, schema.ErrorTypeTimeout,
			fmt.Sprintf("action did not complete within %s", o.timeout)), nil
	}

	result, err := ipc.ReadResult(&stdout)
	if err != nil {
		message := fmt.Sprintf("worker exited with code %d and no result", child.ExitCode())
		if text := stderr.String(); text != "" {
			message += ": " + text
		}
		o.logger.Warn("one-shot worker failed",
			"action", actionName,
			"exit_code", child.ExitCode(),
			"error", err,
		)
		return schema.NewFailure(actionName, o.failureType, message), nil
	}
	o.logger.Debug("one-shot worker finished",
		"action", actionName,
		"result", result.Type,
		"duration", time.Since(started),
	)
	return result, nil
}

// reap kills child if it is still running after grace.
func reap(child *process.Child, grace time.Duration, logger *slog.Logger) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-child.Done():
	case <-timer.C:
		if err := child.Terminate(context.Background(), 0); err != nil {
			logger.Warn("failed to kill timed-out worker", "pid", child.PID(), "error", err)
		}
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int

	mu        sync.Mutex
	data      []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if excess := len(b.data) - b.limit; excess > 0 {
		b.data = append(b.data[:0], b.data[excess:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := string(bytes.TrimSpace(b.data))
	if b.truncated {
		return "..." + text
	}
	return text
}
