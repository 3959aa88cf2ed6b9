// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/tracecathq/executor/lib/schema"
)

// stderrTail bounds the stderr excerpt attached to failures.
const stderrTail = 2048

// ExternalError is a failure reported by a bundle executable. It
// carries the executable's own source location.
type ExternalError struct {
	Type       string
	Message    string
	Provenance Provenance
}

func (e *ExternalError) Error() string {
	return e.Type + ": " + e.Message
}

type executableOutput struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Filename string `json:"filename"`
		Function string `json:"function"`
		Lineno   int    `json:"lineno"`
	} `json:"error"`
}

// executable returns a Func that runs path with the function name as
// its only argument. Arguments arrive on stdin as {"args": ...}; the
// executable answers on stdout with {"result": ...} or {"error": ...}.
// Secrets are passed in the child's environment as NAME__KEY and never
// touch this process's environment.
func executable(path, function string) Func {
	return func(ctx context.Context, call *Call) (any, error) {
		input, err := json.Marshal(map[string]any{"args": call.Args})
		if err != nil {
			return nil, Errorf("TypeError", "arguments are not JSON serializable: %v", err)
		}

		command := exec.CommandContext(ctx, path, function)
		command.Dir = filepath.Dir(filepath.Dir(path))
		command.Stdin = bytes.NewReader(input)
		command.Env = executableEnv(call)
		command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		command.Cancel = func() error {
			return syscall.Kill(-command.Process.Pid, syscall.SIGKILL)
		}
		command.WaitDelay = time.Second
		var stdout, stderr bytes.Buffer
		command.Stdout = &stdout
		command.Stderr = &stderr

		runErr := command.Run()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var output executableOutput
		if decodeErr := schema.DecodeJSON(stdout.Bytes(), &output); decodeErr != nil {
			if runErr != nil {
				return nil, Errorf("ExecutableError", "%s %s: %v: %s",
					filepath.Base(path), function, runErr, tail(stderr.String()))
			}
			return nil, Errorf("ExecutableError", "%s %s: invalid output: %v",
				filepath.Base(path), function, decodeErr)
		}
		if output.Error != nil {
			errorType := output.Error.Type
			if errorType == "" {
				errorType = "Error"
			}
			return nil, &ExternalError{
				Type:    errorType,
				Message: output.Error.Message,
				Provenance: Provenance{
					Filename: output.Error.Filename,
					Function: output.Error.Function,
					Lineno:   output.Error.Lineno,
				},
			}
		}
		if runErr != nil {
			return nil, Errorf("ExecutableError", "%s %s: %v: %s",
				filepath.Base(path), function, runErr, tail(stderr.String()))
		}

		var result any
		if len(output.Result) > 0 {
			if err := schema.DecodeJSON(output.Result, &result); err != nil {
				return nil, Errorf("ExecutableError", "decoding result: %v", err)
			}
		}
		return result, nil
	}
}

// executableEnv builds the child environment: a fixed minimal base
// plus every resolved secret key.
func executableEnv(call *Call) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"LANG=C.UTF-8",
		"TRACECAT_ACTION=" + call.Action,
	}
	if call.resolved == nil {
		return env
	}
	var secrets []string
	for name, values := range call.resolved.Secrets {
		for key, value := range values {
			secrets = append(secrets, envName(name)+"__"+envName(key)+"="+value)
		}
	}
	slices.Sort(secrets)
	return append(env, secrets...)
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func tail(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= stderrTail {
		return text
	}
	return fmt.Sprintf("...%s", text[len(text)-stderrTail:])
}
