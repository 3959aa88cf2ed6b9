// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/tracecathq/executor/cmd/tracecat-executor/cli"
	"github.com/tracecathq/executor/executor"
	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/sandbox"
)

func probeCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "probe",
		Summary: "Report the selected backend and sandbox capabilities",
		Description: `Check the host for what the sandboxed backends need (bwrap, user
namespaces, the rootfs, the worker binary, systemd resource limits)
and print which backend the current configuration selects.

Exits 1 when a sandboxed backend is configured explicitly and a
required check fails.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("probe", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $TRACECAT_EXECUTOR_CONFIG)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !probe(os.Stdout, cfg, nil) {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// probe writes the capability report and backend selection to w. It
// returns false when the configuration explicitly asks for a sandboxed
// backend that the host cannot provide.
func probe(w io.Writer, cfg *config.Config, check executor.Probe) bool {
	workerBinary, err := cfg.WorkerBinaryPath()
	if err != nil {
		workerBinary = cfg.Paths.WorkerBinary
	}
	report := sandbox.Check(sandbox.CheckConfig{
		Binary:       cfg.Sandbox.Binary,
		RootfsPath:   cfg.Sandbox.RootfsPath,
		WorkerBinary: workerBinary,
		MemoryLimit:  cfg.Sandbox.MemoryLimit,
	})
	report.Print(w)

	selection := executor.Resolve(cfg, check)
	fmt.Fprintf(w, "\nconfigured backend: %s\nselected backend:   %s\n", cfg.Backend, selection.Backend)
	if selection.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", selection.Warning)
	}

	sandboxed := selection.Backend == config.BackendSandboxedPool || selection.Backend == config.BackendEphemeral
	return !(sandboxed && cfg.Backend != config.BackendAuto && report.HasErrors())
}
