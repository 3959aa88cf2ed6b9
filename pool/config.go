// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tracecathq/executor/lib/clock"
)

// Defaults for zero Config fields.
const (
	DefaultMaxConcurrentPerWorker = 16
	DefaultMaxTasksPerWorker      = 1000
	DefaultStartupTimeout         = 30 * time.Second
	DefaultAcquireTimeout         = 30 * time.Second
	DefaultPollInterval           = 10 * time.Millisecond
	DefaultMetricsInterval        = 10 * time.Second
	DefaultStuckThreshold         = 60 * time.Second
	DefaultTerminateGrace         = 5 * time.Second
)

// Config configures a Pool.
type Config struct {
	// Size is the number of workers to start.
	Size int

	MaxConcurrentPerWorker int

	// MaxTasksPerWorker is the task count after which an idle worker
	// is recycled.
	MaxTasksPerWorker int

	// StartupTimeout bounds how long a spawned worker may take to
	// create its socket.
	StartupTimeout time.Duration

	// AcquireTimeout bounds how long Execute waits for a free slot.
	AcquireTimeout time.Duration
	PollInterval   time.Duration

	// MetricsInterval is the period of the metrics report. Negative
	// disables the loop.
	MetricsInterval time.Duration

	// StuckThreshold is the task age above which a worker is
	// reported as stuck.
	StuckThreshold time.Duration

	// TerminateGrace is how long a worker gets between SIGTERM and
	// SIGKILL.
	TerminateGrace time.Duration

	// Watchdog makes the metrics loop replace idle workers whose
	// process has exited, instead of waiting for selection to notice.
	Watchdog bool

	// WorkRoot holds one work directory per worker. Empty means a
	// temporary directory owned and removed by the pool.
	WorkRoot string

	Spawner Spawner
	Clock   clock.Clock
	Logger  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerWorker == 0 {
		c.MaxConcurrentPerWorker = DefaultMaxConcurrentPerWorker
	}
	if c.MaxTasksPerWorker == 0 {
		c.MaxTasksPerWorker = DefaultMaxTasksPerWorker
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.StuckThreshold == 0 {
		c.StuckThreshold = DefaultStuckThreshold
	}
	if c.TerminateGrace == 0 {
		c.TerminateGrace = DefaultTerminateGrace
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Size < 1:
		return fmt.Errorf("pool size must be at least 1, got %d", c.Size)
	case c.MaxConcurrentPerWorker < 1:
		return fmt.Errorf("max concurrent per worker must be at least 1, got %d", c.MaxConcurrentPerWorker)
	case c.MaxTasksPerWorker < 1:
		return fmt.Errorf("max tasks per worker must be at least 1, got %d", c.MaxTasksPerWorker)
	case c.Spawner == nil:
		return fmt.Errorf("pool requires a spawner")
	}
	return nil
}
