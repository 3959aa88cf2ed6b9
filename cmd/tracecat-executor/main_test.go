// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracecathq/executor/executor"
	"github.com/tracecathq/executor/lib/action"
	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
)

func TestParseRequestAcceptsComments(t *testing.T) {
	data := []byte(`{
		// the action to run
		"input": {
			"task": {"ref": "shape", "action": "core.transform.reshape", "args": {"value": 1,}},
			"run_context": {"wf_id": "wf-1"},
		},
		"role": {"type": "service", "service_id": "tracecat-executor"},
		/* resolved on the host */
	}`)

	request, err := parseRequest(data)
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if request.Input.ActionName() != "core.transform.reshape" || request.Input.RunContext.WorkflowID != "wf-1" {
		t.Errorf("input = %+v", request.Input)
	}
	if request.ResolvedContext != nil {
		t.Errorf("resolved context = %+v, want nil", request.ResolvedContext)
	}
}

func TestParseRequestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{"input": `, "parsing request"},
		{"no action", `{"input": {"task": {}, "run_context": {"wf_id": "wf"}}}`, "task action is required"},
		{"no workflow", `{"input": {"task": {"action": "a.b"}}}`, "workflow_id"},
		{"bad context", `{"input": {"task": {"action": "a.b"}, "run_context": {"wf_id": "wf"}}, "resolved_context": {"action_impl": {}}}`, "invalid resolved context"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseRequest([]byte(test.data))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("parseRequest = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestPrintResult(t *testing.T) {
	var buffer bytes.Buffer
	if err := printResult(&buffer, schema.NewFailure("core.x", schema.ErrorTypeTimeout, "too slow")); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	for _, fragment := range []string{`"type": "failure"`, `"ExecutionTimeout"`, `"too slow"`} {
		if !strings.Contains(buffer.String(), fragment) {
			t.Errorf("output missing %s:\n%s", fragment, buffer.String())
		}
	}
}

func TestErrorResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, schema.ErrorTypeCancelled},
		{fmt.Errorf("waiting: %w", context.DeadlineExceeded), schema.ErrorTypeCancelled},
		{executor.ErrContextRequired, schema.ErrorTypeResolution},
		{errors.New("pool shut down"), schema.ErrorTypeProtocol},
	}
	for _, test := range tests {
		if got := errorResult("core.x", test.err).ErrorType(); got != test.want {
			t.Errorf("errorResult(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}

func TestDispatchRunsBackend(t *testing.T) {
	holder := executor.NewHolder(func(context.Context) (executor.Backend, error) {
		runner := action.NewRunner(action.NewLoader(action.LoaderConfig{}), nil)
		return executor.NewTest(runner, nil), nil
	})
	defer holder.Shutdown(context.Background())
	handler := dispatch(holder, 0, slog.New(slog.DiscardHandler))

	result := handler(context.Background(), &ipc.Request{
		Input: schema.RunActionInput{
			Task:       schema.ActionStatement{Action: "core.transform.reshape", Args: map[string]any{"value": "ok"}},
			RunContext: schema.RunContext{WorkflowID: "wf-1"},
		},
	})
	if !result.IsSuccess() || result.Result != "ok" {
		t.Fatalf("result = %+v", result)
	}
}

func TestDispatchReportsBrokenBackend(t *testing.T) {
	holder := executor.NewHolder(func(context.Context) (executor.Backend, error) {
		return nil, errors.New("sandbox rootfs missing")
	})
	result := dispatch(holder, 0, slog.New(slog.DiscardHandler))(context.Background(), &ipc.Request{
		Input: schema.RunActionInput{Task: schema.ActionStatement{Action: "core.x"}},
	})
	if result.ErrorType() != schema.ErrorTypeProtocol || !strings.Contains(result.Error.Message, "rootfs missing") {
		t.Errorf("result = %+v", result.Error)
	}
}

func TestProbeReportsSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.Binary = filepath.Join(t.TempDir(), "missing-bwrap")
	cfg.Sandbox.RootfsPath = filepath.Join(t.TempDir(), "missing-rootfs")
	absent := func(string, string) bool { return false }

	var buffer bytes.Buffer
	if !probe(&buffer, cfg, absent) {
		t.Error("auto selection with no sandbox reported failure")
	}
	if !strings.Contains(buffer.String(), "selected backend:   direct") || !strings.Contains(buffer.String(), "warning:") {
		t.Errorf("output:\n%s", buffer.String())
	}

	cfg.Backend = config.BackendSandboxedPool
	buffer.Reset()
	if probe(&buffer, cfg, absent) {
		t.Errorf("explicit pool with missing sandbox reported success:\n%s", buffer.String())
	}
}

func TestNewResolverWithoutManifest(t *testing.T) {
	resolver, err := newResolver(config.Default(), clock.Real(), slog.New(slog.DiscardHandler))
	if err != nil || resolver != nil {
		t.Errorf("newResolver = %v, %v; want nil, nil", resolver, err)
	}
}
