// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// tracecat-executor runs Tracecat actions through the configured
// executor backend.
//
// Usage:
//
//	tracecat-executor run --input request.json [--timeout 30s]
//	tracecat-executor probe
//	tracecat-executor serve --socket /run/tracecat/executor.sock [--metrics-addr :9090]
//	tracecat-executor version
//
// Configuration comes from --config (or TRACECAT_EXECUTOR_CONFIG) and
// the TRACECAT__* environment. Logs go to stderr.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tracecathq/executor/cmd/tracecat-executor/cli"
	"github.com/tracecathq/executor/lib/process"
	"github.com/tracecathq/executor/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root().Execute(ctx, os.Args[1:], cli.NewLogger())
}

func root() *cli.Command {
	return &cli.Command{
		Name: "tracecat-executor",
		Description: `tracecat-executor runs Tracecat actions in isolated worker processes.

The backend is chosen from configuration: a warm pool of sandboxed
workers, a fresh sandbox per call, or unsandboxed subprocesses.`,
		Subcommands: []*cli.Command{
			runCommand(),
			probeCommand(),
			serveCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string, *slog.Logger) error {
					fmt.Printf("tracecat-executor %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
