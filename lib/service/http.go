// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultShutdownTimeout bounds the drain of in-flight scrapes.
const defaultShutdownTimeout = 10 * time.Second

// HealthFunc reports whether the process can serve work. A nil error
// is healthy.
type HealthFunc func(ctx context.Context) error

// MetricsConfig configures a MetricsServer.
type MetricsConfig struct {
	// Address is the TCP listen address, e.g. "127.0.0.1:9090". Port 0
	// picks a free port; Addr reports it.
	Address string

	// Gatherer supplies /metrics.
	Gatherer prometheus.Gatherer

	// Health backs /healthz. Nil always reports healthy.
	Health HealthFunc

	// ShutdownTimeout defaults to 10 seconds.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// MetricsServer exposes /metrics and /healthz over HTTP. The listener
// is bound by ListenMetrics, so a busy port fails startup instead of
// the serve loop.
type MetricsServer struct {
	listener        net.Listener
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// ListenMetrics validates config and binds its address.
func ListenMetrics(config MetricsConfig) (*MetricsServer, error) {
	switch {
	case config.Address == "":
		return nil, errors.New("metrics server: address is required")
	case config.Gatherer == nil:
		return nil, errors.New("metrics server: gatherer is required")
	case config.Logger == nil:
		return nil, errors.New("metrics server: logger is required")
	}
	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("metrics server: listening on %s: %w", config.Address, err)
	}
	return &MetricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           MetricsHandler(config.Gatherer, config.Health, config.Logger),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       90 * time.Second,
		},
		shutdownTimeout: timeout,
		logger:          config.Logger,
	}, nil
}

// Addr is the bound address.
func (s *MetricsServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve answers scrapes until ctx is cancelled, then waits up to the
// shutdown timeout for in-flight requests. It returns nil after a
// clean drain.
func (s *MetricsServer) Serve(ctx context.Context) error {
	drained := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		shutdownContext, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		drained <- s.server.Shutdown(shutdownContext)
	})
	defer stop()

	s.logger.Info("metrics server listening", "address", s.Addr().String())
	err := s.server.Serve(s.listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	if err := <-drained; err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}

// MetricsHandler routes /metrics to gatherer in the Prometheus text
// format and /healthz to health.
func MetricsHandler(gatherer prometheus.Gatherer, health HealthFunc, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, request *http.Request) {
		if health != nil {
			if err := health(request.Context()); err != nil {
				http.Error(writer, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		fmt.Fprintln(writer, "ok")
	})
	return mux
}
