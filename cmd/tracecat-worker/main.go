// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// tracecat-worker executes actions on behalf of an executor backend.
//
// Usage:
//
//	tracecat-worker --socket /work/worker.sock [--max-concurrent N] [--registry-root DIR]
//	tracecat-worker --oneshot [--registry-root DIR] < request > result
//
// In socket mode the worker serves framed requests until SIGTERM, then
// drains in-flight requests and exits. In one-shot mode it reads one
// framed request from stdin and writes one framed result to stdout.
// Logs are JSON on stderr. Extra action directories are taken from
// ACTION_PATH.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tracecathq/executor/lib/action"
	"github.com/tracecathq/executor/lib/process"
	"github.com/tracecathq/executor/lib/version"
	"github.com/tracecathq/executor/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath    string
		maxConcurrent int
		oneshot       bool
		registryRoot  string
		shutdownGrace time.Duration
		showVersion   bool
	)
	flagSet := pflag.NewFlagSet("tracecat-worker", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "Unix socket to serve requests on")
	flagSet.IntVar(&maxConcurrent, "max-concurrent", 16, "maximum requests handled at once")
	flagSet.BoolVar(&oneshot, "oneshot", false, "answer one request from stdin and exit")
	flagSet.StringVar(&registryRoot, "registry-root", "", "directory registry bundle references are relative to")
	flagSet.DurationVar(&shutdownGrace, "shutdown-grace", 0, "how long to wait for in-flight requests on SIGTERM (0 waits until killed)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("tracecat-worker %s\n", version.Info())
		return nil
	}
	if !oneshot && socketPath == "" {
		return fmt.Errorf("either --socket or --oneshot is required")
	}

	level := slog.LevelInfo
	if os.Getenv("TRACECAT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("component", "worker", "pid", os.Getpid())

	loader := action.NewLoader(action.LoaderConfig{
		Root:       registryRoot,
		SearchPath: action.SearchPathFromEnv(os.Getenv("ACTION_PATH")),
		Logger:     logger,
	})
	handler := worker.RunnerHandler(action.NewRunner(loader, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if oneshot {
		return worker.RunOneshot(ctx, handler, os.Stdin, os.Stdout)
	}

	server, err := worker.New(worker.Config{
		SocketPath:    socketPath,
		MaxConcurrent: maxConcurrent,
		Handler:       handler,
		ShutdownGrace: shutdownGrace,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}
