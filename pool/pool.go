// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
)

var (
	// ErrNotStarted is returned by Execute before Start succeeds.
	ErrNotStarted = errors.New("worker pool is not started")

	// ErrClosed is returned by Start and Execute after Shutdown.
	ErrClosed = errors.New("worker pool is shut down")

	// ErrNoAvailableWorker is returned by Execute when no worker slot
	// frees up within the acquisition timeout. It signals backpressure
	// and is safe for the caller to retry.
	ErrNoAvailableWorker = errors.New("no available worker")
)

// worker is one pool slot's current process. Every field after
// socketPath is guarded by the pool lock.
type worker struct {
	id         int
	instance   string
	process    Process
	workDir    string
	socketPath string
	spawnedAt  time.Time

	active              int
	tasksCompleted      int
	oldestTaskStartedAt time.Time
	recycling           bool
	dead                bool
}

// outcome classifies how one execution ended, for the lifetime
// counters.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeTimedOut
	outcomeCancelled
)

func (o outcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeFailed:
		return "failed"
	case outcomeTimedOut:
		return "timed_out"
	case outcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// counters are pool-lifetime totals, guarded by the pool lock.
type counters struct {
	completed     uint64
	failed        uint64
	timedOut      uint64
	cancelled     uint64
	spawnFailures uint64
	recycled      uint64
	crashed       uint64
}

// Pool dispatches actions to a fixed set of long-lived worker
// processes over the IPC protocol.
type Pool struct {
	config  Config
	logger  *slog.Logger
	clock   clock.Clock
	metrics *poolMetrics

	// startMu serializes Start and Shutdown.
	startMu sync.Mutex

	// lifetime is cancelled by Shutdown. Replacement spawns and the
	// metrics loop run under it.
	lifetime context.Context
	cancel   context.CancelFunc

	// background tracks replacement goroutines and the metrics loop.
	// Add is only called under lock while the pool is open.
	background sync.WaitGroup

	lock       instrumentedMutex
	workers    []*worker
	roundRobin uint64
	waiting    int
	counters   counters
	started    bool
	closed     bool

	workRoot     string
	ownsWorkRoot bool
}

// New validates config and returns an unstarted pool.
func New(config Config) (*Pool, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:   config,
		logger:   config.Logger,
		clock:    config.Clock,
		metrics:  newPoolMetrics(),
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

// Registry returns the Prometheus registry holding this pool's
// metrics.
func (p *Pool) Registry() *prometheus.Registry {
	return p.metrics.registry
}

// Start spawns the configured number of workers concurrently and waits
// for each to become ready. Workers that fail to start are logged and
// left out; Start fails only if none become ready. Calling Start on a
// started pool does nothing.
func (p *Pool) Start(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.lock.Lock()
	started, closed := p.started, p.closed
	p.lock.Unlock()
	if closed {
		return ErrClosed
	}
	if started {
		return nil
	}

	if err := p.prepareWorkRoot(); err != nil {
		return err
	}

	// Readiness waits stop when either the caller gives up or the
	// pool is shut down.
	spawnContext, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(p.lifetime, stop)
	defer unlink()

	startedAt := time.Now()
	slots := make([]*worker, p.config.Size)
	failures := make([]error, p.config.Size)
	var group errgroup.Group
	for id := range p.config.Size {
		group.Go(func() error {
			slots[id], failures[id] = p.spawnReady(spawnContext, id)
			return nil
		})
	}
	group.Wait()

	var ready []*worker
	var spawnErrors []error
	for id, slot := range slots {
		if slot != nil {
			ready = append(ready, slot)
			continue
		}
		spawnErrors = append(spawnErrors, failures[id])
		p.logger.Warn("worker failed to start", "worker_id", id, "error", failures[id])
	}
	p.metrics.spawnFailures.Add(float64(len(spawnErrors)))

	if len(ready) == 0 {
		p.removeWorkRoot()
		return fmt.Errorf("no workers became ready: %w", errors.Join(spawnErrors...))
	}

	p.lock.Lock()
	p.workers = ready
	p.counters.spawnFailures += uint64(len(spawnErrors))
	p.started = true
	if p.config.MetricsInterval > 0 {
		p.background.Add(1)
		go p.reportLoop()
	}
	p.lock.Unlock()

	p.logger.Info("worker pool started",
		"workers", len(ready),
		"requested", p.config.Size,
		"max_concurrent_per_worker", p.config.MaxConcurrentPerWorker,
		"max_tasks_per_worker", p.config.MaxTasksPerWorker,
		"duration", time.Since(startedAt),
	)
	return nil
}

func (p *Pool) prepareWorkRoot() error {
	if p.config.WorkRoot != "" {
		if err := os.MkdirAll(p.config.WorkRoot, 0o700); err != nil {
			return fmt.Errorf("creating pool work root: %w", err)
		}
		p.workRoot = p.config.WorkRoot
		return nil
	}
	root, err := os.MkdirTemp("", "tracecat-pool-")
	if err != nil {
		return fmt.Errorf("creating pool work root: %w", err)
	}
	p.workRoot = root
	p.ownsWorkRoot = true
	return nil
}

func (p *Pool) removeWorkRoot() {
	if !p.ownsWorkRoot {
		return
	}
	if err := os.RemoveAll(p.workRoot); err != nil {
		p.logger.Warn("failed to remove pool work root", "path", p.workRoot, "error", err)
	}
}

// spawnReady starts a worker in a fresh work directory and waits for
// its socket to appear.
func (p *Pool) spawnReady(ctx context.Context, id int) (*worker, error) {
	instance := uuid.NewString()
	workDir := filepath.Join(p.workRoot, fmt.Sprintf("worker-%d-%s", id, instance[:8]))
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("worker %d: creating work directory: %w", id, err)
	}

	process, err := p.config.Spawner.Spawn(ctx, id, workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	socketPath := filepath.Join(workDir, SocketName)
	if err := p.waitReady(ctx, process, socketPath); err != nil {
		process.Terminate(context.Background(), 0)
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	p.logger.Debug("worker ready", "worker_id", id, "pid", process.PID(), "instance", instance)
	return &worker{
		id:         id,
		instance:   instance,
		process:    process,
		workDir:    workDir,
		socketPath: socketPath,
		spawnedAt:  p.clock.Now(),
	}, nil
}

// waitReady polls for the socket file, the worker's readiness signal.
func (p *Pool) waitReady(ctx context.Context, process Process, socketPath string) error {
	deadline := p.clock.After(p.config.StartupTimeout)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return nil
		}
		if process.Exited() {
			return fmt.Errorf("process %d exited before becoming ready", process.PID())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("not ready after %s", p.config.StartupTimeout)
		case <-p.clock.After(p.config.PollInterval):
		}
	}
}

// Execute runs one action on the least-loaded worker.
//
// Application failures, per-call timeouts, and IPC failures come back
// as failure results. The error return is reserved for pool states
// (ErrNotStarted, ErrClosed, ErrNoAvailableWorker), missing arguments,
// and caller cancellation, which returns ctx.Err(). A positive timeout
// bounds the IPC round trip; the worker is never killed because one
// call exceeded it.
func (p *Pool) Execute(ctx context.Context, input schema.RunActionInput, role schema.Role, resolved *schema.ResolvedContext, timeout time.Duration) (schema.ExecutorResult, error) {
	if resolved == nil {
		return schema.ExecutorResult{}, fmt.Errorf("executing %s: resolved context is required", input.ActionName())
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return schema.ExecutorResult{}, err
	}

	result := outcomeFailed
	defer func() { p.release(w, result) }()

	callContext := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callContext, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	request := &ipc.Request{Input: input, Role: role, ResolvedContext: resolved}
	response, err := ipc.Call(callContext, w.socketPath, request)
	switch {
	case err == nil:
		if response.IsSuccess() {
			result = outcomeCompleted
		}
		return response, nil
	case ctx.Err() != nil:
		result = outcomeCancelled
		return schema.ExecutorResult{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		result = outcomeTimedOut
		p.logger.Warn("action timed out",
			"action", input.ActionName(),
			"worker_id", w.id,
			"timeout", timeout,
		)
		return schema.NewFailure(input.ActionName(), schema.ErrorTypeTimeout,
			fmt.Sprintf("action did not complete within %s", timeout)), nil
	default:
		p.logger.Warn("worker call failed",
			"action", input.ActionName(),
			"worker_id", w.id,
			"error", err,
		)
		return schema.NewFailure(input.ActionName(), schema.ErrorTypeProtocol, err.Error()), nil
	}
}

// acquire claims a slot on the least-loaded live worker, polling until
// one frees up or the acquisition timeout passes.
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	deadline := p.clock.After(p.config.AcquireTimeout)
	waiting := false
	stopWaiting := func() {
		if waiting {
			p.waiting--
		}
	}
	for {
		p.lock.Lock()
		switch {
		case p.closed:
			stopWaiting()
			p.lock.Unlock()
			return nil, ErrClosed
		case !p.started:
			p.lock.Unlock()
			return nil, ErrNotStarted
		}
		selected := p.selectLocked()
		if selected == nil && !waiting {
			p.waiting++
			waiting = true
		}
		if selected != nil {
			stopWaiting()
		}
		p.lock.Unlock()

		if selected != nil {
			return selected, nil
		}

		select {
		case <-ctx.Done():
			p.lock.Lock()
			stopWaiting()
			p.lock.Unlock()
			return nil, ctx.Err()
		case <-deadline:
			p.lock.Lock()
			stopWaiting()
			p.lock.Unlock()
			return nil, fmt.Errorf("%w within %s", ErrNoAvailableWorker, p.config.AcquireTimeout)
		case <-p.clock.After(p.config.PollInterval):
		}
	}
}

// selectLocked picks the eligible worker with the fewest active tasks,
// rotating among ties, and claims a slot on it. Exited workers found
// along the way are scheduled for replacement once idle. Returns nil
// when every worker is full, dead, or recycling.
func (p *Pool) selectLocked() *worker {
	var eligible []*worker
	least := p.config.MaxConcurrentPerWorker
	for _, w := range p.workers {
		if w.recycling {
			continue
		}
		p.detectExitLocked(w)
		if w.dead {
			p.scheduleReplaceLocked(w)
			continue
		}
		if w.active >= p.config.MaxConcurrentPerWorker {
			continue
		}
		switch {
		case w.active < least:
			least = w.active
			eligible = append(eligible[:0], w)
		case w.active == least:
			eligible = append(eligible, w)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	selected := eligible[p.roundRobin%uint64(len(eligible))]
	p.roundRobin++
	selected.active++
	if selected.active == 1 {
		selected.oldestTaskStartedAt = p.clock.Now()
	}
	return selected
}

// detectExitLocked marks w dead if its process has exited.
func (p *Pool) detectExitLocked(w *worker) {
	if w.dead || !w.process.Exited() {
		return
	}
	w.dead = true
	p.counters.crashed++
	p.metrics.crashes.Inc()
	p.logger.Warn("worker exited unexpectedly",
		"worker_id", w.id,
		"pid", w.process.PID(),
		"active_tasks", w.active,
	)
}

// scheduleReplaceLocked starts replacing w in the background if it is
// idle and not already being replaced. Active tasks are never
// interrupted: a busy worker is picked up by a later release.
func (p *Pool) scheduleReplaceLocked(w *worker) {
	if w.recycling || w.active > 0 || p.closed {
		return
	}
	w.recycling = true
	p.background.Add(1)
	go p.replace(w)
}

// release returns a slot claimed by acquire. It takes the pool lock
// unconditionally, so caller cancellation cannot skip or interleave
// the decrement.
func (p *Pool) release(w *worker, result outcome) {
	p.lock.Lock()
	defer p.lock.Unlock()

	w.active--
	if w.active == 0 {
		w.oldestTaskStartedAt = time.Time{}
	}
	w.tasksCompleted++
	switch result {
	case outcomeCompleted:
		p.counters.completed++
	case outcomeFailed:
		p.counters.failed++
	case outcomeTimedOut:
		p.counters.timedOut++
	case outcomeCancelled:
		p.counters.cancelled++
	}
	p.metrics.tasks.WithLabelValues(result.String()).Inc()

	if w.dead || w.tasksCompleted >= p.config.MaxTasksPerWorker {
		p.scheduleReplaceLocked(w)
	}
}

// replace terminates w and swaps a fresh process into its slot. If the
// new process cannot start, the slot is dropped. Runs without the pool
// lock except for the final swap.
func (p *Pool) replace(old *worker) {
	defer p.background.Done()

	reason := "recycle"
	if old.dead {
		reason = "crash"
	}
	logger := p.logger.With("worker_id", old.id, "reason", reason)

	if err := old.process.Terminate(p.lifetime, p.config.TerminateGrace); err != nil {
		logger.Warn("worker did not terminate cleanly", "pid", old.process.PID(), "error", err)
	}
	if err := os.RemoveAll(old.workDir); err != nil {
		logger.Warn("failed to remove worker directory", "path", old.workDir, "error", err)
	}

	fresh, spawnErr := p.spawnReady(p.lifetime, old.id)

	p.lock.Lock()
	index := -1
	for i, w := range p.workers {
		if w == old {
			index = i
			break
		}
	}
	switch {
	case p.closed || index < 0:
		p.lock.Unlock()
		if fresh != nil {
			fresh.process.Terminate(context.Background(), 0)
			os.RemoveAll(fresh.workDir)
		}
		return
	case spawnErr != nil:
		p.workers = append(p.workers[:index], p.workers[index+1:]...)
		p.counters.spawnFailures++
		remaining := len(p.workers)
		p.lock.Unlock()
		p.metrics.spawnFailures.Inc()
		logger.Error("worker replacement failed, slot dropped",
			"error", spawnErr,
			"remaining_workers", remaining,
		)
		return
	}
	p.workers[index] = fresh
	p.counters.recycled++
	p.lock.Unlock()

	p.metrics.recycles.WithLabelValues(reason).Inc()
	logger.Info("worker replaced",
		"old_pid", old.process.PID(),
		"new_pid", fresh.process.PID(),
		"tasks_completed", old.tasksCompleted,
	)
}

// Shutdown stops the metrics loop, terminates every worker (SIGTERM,
// then SIGKILL after the terminate grace), waits for in-progress
// replacements, and removes work directories. Safe to call more than
// once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	workers := p.workers
	p.workers = nil
	wasStarted := p.started
	p.started = false
	p.lock.Unlock()

	p.cancel()
	if !wasStarted {
		return nil
	}

	var group errgroup.Group
	for _, w := range workers {
		group.Go(func() error {
			if err := w.process.Terminate(ctx, p.config.TerminateGrace); err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
			return nil
		})
	}
	err := group.Wait()
	p.background.Wait()

	for _, w := range workers {
		os.RemoveAll(w.workDir)
	}
	p.removeWorkRoot()

	p.logger.Info("worker pool shut down", "workers", len(workers))
	return err
}
