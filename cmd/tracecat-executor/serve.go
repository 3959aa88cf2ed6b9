// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tracecathq/executor/cmd/tracecat-executor/cli"
	"github.com/tracecathq/executor/executor"
	"github.com/tracecathq/executor/lib/config"
	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
	"github.com/tracecathq/executor/lib/service"
	"github.com/tracecathq/executor/worker"
)

func serveCommand() *cli.Command {
	var (
		configPath    string
		socketPath    string
		metricsAddr   string
		maxConcurrent int
		timeout       time.Duration
		shutdownGrace time.Duration
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve execution requests on a Unix socket",
		Description: `Start the configured backend and serve framed execution requests on a
Unix socket, using the same protocol as tracecat-worker. Requests may
omit the resolved context when a registry manifest is configured.

With --metrics-addr, Prometheus metrics are served at /metrics and a
health check at /healthz.`,
		Usage: "tracecat-executor serve --socket PATH [flags]",
		Examples: []cli.Example{{
			Description: "Serve on a socket and expose metrics on port 9090",
			Command:     "tracecat-executor serve --socket /run/tracecat/executor.sock --metrics-addr 127.0.0.1:9090",
		}},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $TRACECAT_EXECUTOR_CONFIG)")
			flagSet.StringVar(&socketPath, "socket", "", "Unix socket to serve requests on (required)")
			flagSet.StringVar(&metricsAddr, "metrics-addr", "", "TCP address for /metrics and /healthz (empty disables)")
			flagSet.IntVar(&maxConcurrent, "max-concurrent", 256, "maximum requests handled at once")
			flagSet.DurationVar(&timeout, "timeout", 0, "per-request execution timeout (0 means none)")
			flagSet.DurationVar(&shutdownGrace, "shutdown-grace", 30*time.Second, "how long in-flight requests may finish on shutdown")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if socketPath == "" {
				return fmt.Errorf("--socket is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			holder, err := newHolder(cfg, logger)
			if err != nil {
				return err
			}

			// Start eagerly so a broken sandbox fails the service at
			// startup and the pool is warm before the first request.
			backend, err := holder.Get(ctx)
			if err != nil {
				return err
			}
			defer holder.Shutdown(context.WithoutCancel(ctx))

			server, err := worker.New(worker.Config{
				SocketPath:    socketPath,
				MaxConcurrent: maxConcurrent,
				Handler:       dispatch(holder, timeout, logger),
				Validate:      func(request *ipc.Request) error { return request.Input.Validate() },
				ShutdownGrace: shutdownGrace,
				Logger:        logger.With("component", "server"),
			})
			if err != nil {
				return err
			}

			var metrics *service.MetricsServer
			if metricsAddr != "" {
				metrics, err = service.ListenMetrics(service.MetricsConfig{
					Address:  metricsAddr,
					Gatherer: gatherer(backend),
					Health:   health(backend),
					Logger:   logger.With("component", "metrics"),
				})
				if err != nil {
					return err
				}
			}

			group, groupContext := errgroup.WithContext(ctx)
			group.Go(func() error { return server.Serve(groupContext) })
			if metrics != nil {
				group.Go(func() error { return metrics.Serve(groupContext) })
			}
			logger.Info("executor serving",
				"backend", backend.Name(),
				"socket", socketPath,
				"metrics_addr", metricsAddr,
			)
			return group.Wait()
		},
	}
}

// dispatch adapts the backend to the worker request handler. Errors
// from the backend become failures so every request gets a result.
func dispatch(holder *executor.Holder, timeout time.Duration, logger *slog.Logger) worker.Handler {
	return func(ctx context.Context, request *ipc.Request) schema.ExecutorResult {
		actionName := request.Input.ActionName()
		backend, err := holder.Get(ctx)
		if err != nil {
			logger.Error("executor backend unavailable", "action", actionName, "error", err)
			return schema.NewFailure(actionName, schema.ErrorTypeProtocol, err.Error())
		}
		result, err := backend.Execute(ctx, request.Input, request.Role, request.ResolvedContext, timeout)
		if err != nil {
			return errorResult(actionName, err)
		}
		return result
	}
}

func errorResult(actionName string, err error) schema.ExecutorResult {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return schema.NewFailure(actionName, schema.ErrorTypeCancelled, err.Error())
	case errors.Is(err, executor.ErrContextRequired):
		return schema.NewFailure(actionName, schema.ErrorTypeResolution, err.Error())
	default:
		return schema.NewFailure(actionName, schema.ErrorTypeProtocol, err.Error())
	}
}

// gatherer combines the process collectors with the pool's registry
// when the backend is the sandboxed pool.
func gatherer(backend executor.Backend) prometheus.Gatherer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if pooled, ok := backend.(*executor.Pool); ok {
		return prometheus.Gatherers{registry, pooled.Workers().Registry()}
	}
	return registry
}

// health fails when the pool has no live worker. Other backends start
// a process per call and are always healthy.
func health(backend executor.Backend) service.HealthFunc {
	pooled, ok := backend.(*executor.Pool)
	if !ok {
		return nil
	}
	return func(context.Context) error {
		if pooled.Workers().Snapshot().Alive == 0 {
			return errors.New("no live workers in the pool")
		}
		return nil
	}
}
