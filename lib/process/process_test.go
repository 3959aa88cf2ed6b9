// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestParseCPUMax(t *testing.T) {
	tests := []struct {
		content string
		want    float64
		wantErr bool
	}{
		{"max 100000\n", 0, false},
		{"200000 100000\n", 2, false},
		{"150000 100000", 1.5, false},
		{"50000 100000", 0.5, false},
		{"", 0, true},
		{"max", 0, true},
		{"abc 100000", 0, true},
		{"100000 0", 0, true},
	}
	for _, test := range tests {
		got, err := ParseCPUMax(test.content)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseCPUMax(%q) error = %v, wantErr %v", test.content, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseCPUMax(%q) = %v, want %v", test.content, got, test.want)
		}
	}
}

func TestBoundByQuota(t *testing.T) {
	directory := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(directory, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name string
		cpus int
		path string
		want int
	}{
		{"no cgroup file", 8, filepath.Join(directory, "absent"), 8},
		{"unlimited", 8, write("unlimited", "max 100000"), 8},
		{"quota below affinity", 8, write("two", "200000 100000"), 2},
		{"fractional quota rounds up", 8, write("fraction", "150000 100000"), 2},
		{"quota above affinity", 4, write("sixteen", "1600000 100000"), 4},
		{"tiny quota still one", 8, write("tiny", "1000 100000"), 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := boundByQuota(test.cpus, test.path); got != test.want {
				t.Errorf("boundByQuota = %d, want %d", got, test.want)
			}
		})
	}
}

func TestEffectiveCPUCountPositive(t *testing.T) {
	if got := EffectiveCPUCount(); got < 1 {
		t.Fatalf("EffectiveCPUCount() = %d", got)
	}
}

func TestTerminateGraceful(t *testing.T) {
	child, err := Start(exec.Command("sleep", "30"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if child.Exited() {
		t.Fatal("child exited immediately")
	}
	if err := child.Terminate(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !child.Exited() {
		t.Fatal("child not reaped after Terminate")
	}
	if child.Killed() {
		t.Error("sleep should exit on SIGTERM without escalation")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	child, err := Start(exec.Command("sh", "-c", "trap '' TERM; sleep 30 & wait"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give the shell time to install its trap.
	time.Sleep(100 * time.Millisecond)

	started := time.Now()
	if err := child.Terminate(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !child.Killed() {
		t.Error("expected escalation to SIGKILL")
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("Terminate took %v", elapsed)
	}
}

func TestExitedAfterNaturalExit(t *testing.T) {
	child, err := Start(exec.Command("sh", "-c", "exit 3"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-child.Done()
	if got := child.ExitCode(); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
	if err := child.Terminate(context.Background(), time.Second); err != nil {
		t.Errorf("Terminate on exited child: %v", err)
	}
}

type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return "handled" }
func (e exitCodeError) ExitCode() int { return e.code }

func TestReportExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{exitCodeError{code: 3}, 3},
		{fmt.Errorf("wrapped: %w", exitCodeError{code: 2}), 2},
	}
	for _, test := range tests {
		if got := report(test.err); got != test.want {
			t.Errorf("report(%v) = %d, want %d", test.err, got, test.want)
		}
	}
}
