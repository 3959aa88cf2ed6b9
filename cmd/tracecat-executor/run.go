// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/tracecathq/executor/cmd/tracecat-executor/cli"
	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
)

func runCommand() *cli.Command {
	var (
		configPath string
		inputPath  string
		timeout    time.Duration
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Execute one action and print its result",
		Description: `Execute one action through the configured backend and print the
result as JSON on stdout.

The input file holds a request object with "input", "role", and an
optional "resolved_context". Comments and trailing commas are allowed.
Without a resolved context the action is resolved from the configured
registry manifest and secret store. The command exits 1 when the
action fails.`,
		Usage: "tracecat-executor run --input FILE [flags]",
		Examples: []cli.Example{
			{
				Description: "Run a request with a 30 second timeout",
				Command:     "tracecat-executor run --input reshape.jsonc --timeout 30s",
			},
			{
				Description: "Read the request from stdin",
				Command:     "cat request.json | tracecat-executor run --input -",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $TRACECAT_EXECUTOR_CONFIG)")
			flagSet.StringVarP(&inputPath, "input", "i", "", "request file, or - for stdin (required)")
			flagSet.DurationVar(&timeout, "timeout", 0, "execution timeout (0 means none)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if inputPath == "" {
				return fmt.Errorf("--input is required")
			}
			request, err := readRequest(inputPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			result, err := execute(ctx, cfg, request, timeout, logger)
			if err != nil {
				return err
			}
			if err := printResult(os.Stdout, result); err != nil {
				return err
			}
			if !result.IsSuccess() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// readRequest loads a request from path, or from stdin when path is
// "-".
func readRequest(path string) (*ipc.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return parseRequest(data)
}

// parseRequest decodes a JSON request that may contain comments and
// trailing commas.
func parseRequest(data []byte) (*ipc.Request, error) {
	var request ipc.Request
	if err := schema.DecodeJSON(jsonc.ToJSON(data), &request); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	if err := request.Input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.ResolvedContext != nil {
		if err := request.ResolvedContext.ActionImpl.Validate(); err != nil {
			return nil, fmt.Errorf("invalid resolved context: %w", err)
		}
	}
	return &request, nil
}

// execute runs request on a backend that lives for this call only.
func execute(ctx context.Context, cfg *config.Config, request *ipc.Request, timeout time.Duration, logger *slog.Logger) (schema.ExecutorResult, error) {
	holder, err := newHolder(cfg, logger)
	if err != nil {
		return schema.ExecutorResult{}, err
	}
	backend, err := holder.Get(ctx)
	if err != nil {
		return schema.ExecutorResult{}, err
	}
	defer holder.Shutdown(context.WithoutCancel(ctx))

	started := time.Now()
	result, err := backend.Execute(ctx, request.Input, request.Role, request.ResolvedContext, timeout)
	if err != nil {
		return schema.ExecutorResult{}, fmt.Errorf("executing %s: %w", request.Input.ActionName(), err)
	}
	logger.Info("action finished",
		"action", request.Input.ActionName(),
		"backend", backend.Name(),
		"result", result.Type,
		"error_type", result.ErrorType(),
		"duration", time.Since(started),
	)
	return result, nil
}

func printResult(w io.Writer, result schema.ExecutorResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
