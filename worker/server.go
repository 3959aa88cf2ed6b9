// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tracecathq/executor/lib/action"
	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
)

// Handler answers one request. It must not panic and must always
// return a result.
type Handler func(ctx context.Context, request *ipc.Request) schema.ExecutorResult

// RunnerHandler serves requests with runner.
func RunnerHandler(runner *action.Runner) Handler {
	return func(ctx context.Context, request *ipc.Request) schema.ExecutorResult {
		return runner.Run(ctx, &request.Input, request.ResolvedContext)
	}
}

// ErrShutdownTimeout is returned by Serve when in-flight requests did
// not finish within the grace period.
var ErrShutdownTimeout = errors.New("worker shutdown grace period elapsed with requests in flight")

// readTimeout bounds how long a connected client may take to send its
// request. The pool writes the request immediately after dialing.
const readTimeout = 30 * time.Second

// Config configures a Server.
type Config struct {
	SocketPath string

	// MaxConcurrent bounds requests handled at once. Connections
	// beyond it wait for a slot.
	MaxConcurrent int

	Handler Handler

	// Validate checks a request before it reaches Handler. Nil means
	// Request.Validate, which requires a resolved context.
	Validate func(*ipc.Request) error

	// ShutdownGrace bounds how long Serve waits for in-flight
	// requests after its context is cancelled. Zero waits forever.
	ShutdownGrace time.Duration

	Logger *slog.Logger
}

// Server serves the framed request protocol on a Unix socket.
type Server struct {
	config Config
	logger *slog.Logger
	slots  *semaphore.Weighted

	state    atomic.Int32
	inFlight atomic.Int64
	handled  atomic.Int64
	ready    chan struct{}

	active sync.WaitGroup
}

// New validates config and returns a server in StateStarting.
func New(config Config) (*Server, error) {
	if config.SocketPath == "" {
		return nil, fmt.Errorf("worker: socket path is required")
	}
	if config.MaxConcurrent < 1 {
		return nil, fmt.Errorf("worker: max concurrent must be at least 1, got %d", config.MaxConcurrent)
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("worker: handler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config: config,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(config.MaxConcurrent)),
		ready:  make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state. HANDLING is derived from
// the in-flight count.
func (s *Server) State() State {
	state := State(s.state.Load())
	if state == StateListening && s.inFlight.Load() > 0 {
		return StateHandling
	}
	return state
}

// Ready is closed once the socket is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Handled returns the number of requests answered so far.
func (s *Server) Handled() int64 {
	return s.handled.Load()
}

// Serve binds the socket and answers requests until ctx is cancelled.
// It then stops accepting, waits for in-flight requests (bounded by
// ShutdownGrace), and removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.config.SocketPath, err)
	}
	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.SocketPath, err)
	}
	defer os.Remove(s.config.SocketPath)

	// In-flight requests outlive ctx; they are cut off only when the
	// grace period expires.
	handlerContext, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	s.state.Store(int32(StateListening))
	close(s.ready)
	s.logger.Info("worker listening",
		"socket", s.config.SocketPath,
		"max_concurrent", s.config.MaxConcurrent,
		"pid", os.Getpid(),
	)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.serveConnection(ctx, handlerContext, conn)
		}()
	}

	return s.drain(abandon)
}

// drain waits for in-flight connections and records the terminal
// state.
func (s *Server) drain(abandon context.CancelFunc) error {
	drained := make(chan struct{})
	go func() {
		s.active.Wait()
		close(drained)
	}()

	var expired <-chan time.Time
	if s.config.ShutdownGrace > 0 {
		timer := time.NewTimer(s.config.ShutdownGrace)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-drained:
		s.state.Store(int32(StateTerminated))
		s.logger.Info("worker terminated", "handled", s.handled.Load())
		return nil
	case <-expired:
		abandon()
		s.state.Store(int32(StateKilled))
		s.logger.Warn("worker killed with requests in flight",
			"in_flight", s.inFlight.Load(),
			"grace", s.config.ShutdownGrace,
		)
		return ErrShutdownTimeout
	}
}

func (s *Server) serveConnection(serveContext, handlerContext context.Context, conn net.Conn) {
	defer conn.Close()

	// Waiting for a slot ends with the server; a connection that
	// never got a slot has no work to abandon.
	if err := s.slots.Acquire(serveContext, 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	request, err := ipc.ReadRequest(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Connected and closed without a request: a liveness probe.
			return
		}
		s.logger.Warn("invalid request", "error", err)
		s.writeResult(conn, schema.NewFailure("", schema.ErrorTypeProtocol, err.Error()))
		return
	}
	conn.SetReadDeadline(time.Time{})

	if err := s.validate(request); err != nil {
		s.writeResult(conn, schema.NewFailure(request.Input.ActionName(), schema.ErrorTypeProtocol, err.Error()))
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	callContext, cancel := context.WithCancel(handlerContext)
	defer cancel()
	go watchDisconnect(conn, cancel)

	started := time.Now()
	result := s.config.Handler(callContext, request)
	s.logger.Debug("request handled",
		"action", request.Input.ActionName(),
		"result", result.Type,
		"error_type", result.ErrorType(),
		"duration", time.Since(started),
	)
	s.writeResult(conn, result)
}

// watchDisconnect cancels the call when the client goes away. The
// client sends nothing after its request, so any read completion means
// the connection is closed.
func watchDisconnect(conn net.Conn, cancel context.CancelFunc) {
	var buffer [1]byte
	conn.Read(buffer[:])
	cancel()
}

func (s *Server) validate(request *ipc.Request) error {
	if s.config.Validate != nil {
		return s.config.Validate(request)
	}
	return request.Validate()
}

func (s *Server) writeResult(conn net.Conn, result schema.ExecutorResult) {
	if err := ipc.WriteResult(conn, result); err != nil {
		s.logger.Debug("failed to write result", "error", err)
		return
	}
	s.handled.Add(1)
}

// RunOneshot answers exactly one request read from r, writing the
// result to w. A request that cannot be read is answered with a
// protocol failure and the read error is returned.
func RunOneshot(ctx context.Context, handler Handler, r io.Reader, w io.Writer) error {
	request, err := ipc.ReadRequest(r)
	if err != nil {
		if writeErr := ipc.WriteResult(w, schema.NewFailure("", schema.ErrorTypeProtocol, err.Error())); writeErr != nil {
			return errors.Join(err, writeErr)
		}
		return err
	}
	if err := request.Validate(); err != nil {
		return ipc.WriteResult(w, schema.NewFailure(request.Input.ActionName(), schema.ErrorTypeProtocol, err.Error()))
	}
	return ipc.WriteResult(w, handler(ctx, request))
}
