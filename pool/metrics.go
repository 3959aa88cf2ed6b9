// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	psprocess "github.com/shirou/gopsutil/v3/process"
)

const (
	metricsNamespace = "tracecat"
	metricsSubsystem = "executor_pool"
)

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	ID             int
	PID            int
	Active         int
	TasksCompleted int
	Recycling      bool
	Dead           bool
	SpawnedAt      time.Time

	// TaskAge is how long the oldest in-flight task has been running.
	// Zero when idle.
	TaskAge time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size     int
	Capacity int
	Active   int
	Waiting  int

	// Utilization is Active as a percentage of Capacity.
	Utilization float64

	Completed     uint64
	Failed        uint64
	TimedOut      uint64
	Cancelled     uint64
	SpawnFailures uint64
	Recycled      uint64
	Crashed       uint64

	Alive     int
	Dead      int
	Recycling int

	Lock    LockStats
	Workers []WorkerStatus
}

// Snapshot returns a copy of the pool's state. It never marks workers
// dead: an exited process that selection has not yet noticed counts as
// dead here without changing any bookkeeping.
func (p *Pool) Snapshot() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := p.clock.Now()
	stats := Stats{
		Size:          len(p.workers),
		Capacity:      len(p.workers) * p.config.MaxConcurrentPerWorker,
		Waiting:       p.waiting,
		Completed:     p.counters.completed,
		Failed:        p.counters.failed,
		TimedOut:      p.counters.timedOut,
		Cancelled:     p.counters.cancelled,
		SpawnFailures: p.counters.spawnFailures,
		Recycled:      p.counters.recycled,
		Crashed:       p.counters.crashed,
		Lock:          p.lock.statsLocked(),
		Workers:       make([]WorkerStatus, 0, len(p.workers)),
	}
	for _, w := range p.workers {
		status := WorkerStatus{
			ID:             w.id,
			PID:            w.process.PID(),
			Active:         w.active,
			TasksCompleted: w.tasksCompleted,
			Recycling:      w.recycling,
			Dead:           w.dead || w.process.Exited(),
			SpawnedAt:      w.spawnedAt,
		}
		if w.active > 0 {
			status.TaskAge = now.Sub(w.oldestTaskStartedAt)
		}
		stats.Active += w.active
		switch {
		case status.Dead:
			stats.Dead++
		case status.Recycling:
			stats.Recycling++
		default:
			stats.Alive++
		}
		stats.Workers = append(stats.Workers, status)
	}
	if stats.Capacity > 0 {
		stats.Utilization = 100 * float64(stats.Active) / float64(stats.Capacity)
	}
	return stats
}

// poolMetrics holds one pool's Prometheus collectors. Each pool has its
// own registry so several pools (and tests) can coexist in a process.
type poolMetrics struct {
	registry *prometheus.Registry

	size        prometheus.Gauge
	capacity    prometheus.Gauge
	active      prometheus.Gauge
	waiting     prometheus.Gauge
	utilization prometheus.Gauge
	workers     *prometheus.GaugeVec

	lockAcquisitions      prometheus.Gauge
	lockContendedFraction prometheus.Gauge
	lockAverageWait       prometheus.Gauge
	lockMaxWait           prometheus.Gauge

	taskAge *prometheus.GaugeVec
	rss     *prometheus.GaugeVec

	tasks         *prometheus.CounterVec
	recycles      *prometheus.CounterVec
	crashes       prometheus.Counter
	spawnFailures prometheus.Counter
}

func newPoolMetrics() *poolMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	return &poolMetrics{
		registry:    registry,
		size:        gauge("workers", "Number of worker slots in the pool"),
		capacity:    gauge("capacity", "Total concurrent task slots across all workers"),
		active:      gauge("active_tasks", "Tasks currently executing"),
		waiting:     gauge("waiting_tasks", "Tasks waiting for a free worker slot"),
		utilization: gauge("utilization_percent", "Active tasks as a percentage of capacity"),
		workers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "workers_by_state",
			Help:      "Workers by health state",
		}, []string{"state"}),

		lockAcquisitions:      gauge("lock_acquisitions", "Pool lock acquisitions since start"),
		lockContendedFraction: gauge("lock_contended_ratio", "Fraction of pool lock acquisitions that had to wait"),
		lockAverageWait:       gauge("lock_wait_average_seconds", "Mean wait of contended pool lock acquisitions"),
		lockMaxWait:           gauge("lock_wait_max_seconds", "Longest pool lock wait"),

		taskAge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "worker_task_age_seconds",
			Help:      "Age of each worker's oldest in-flight task, zero when idle",
		}, []string{"worker"}),
		rss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "worker_rss_bytes",
			Help:      "Resident set size of each worker's process tree, including sandbox wrappers",
		}, []string{"worker"}),

		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_total",
			Help:      "Tasks finished, by outcome",
		}, []string{"outcome"}),
		recycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "worker_replacements_total",
			Help:      "Workers replaced, by reason",
		}, []string{"reason"}),
		crashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "worker_crashes_total",
			Help:      "Workers found exited without being asked to",
		}),
		spawnFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "spawn_failures_total",
			Help:      "Worker spawns that did not become ready",
		}),
	}
}

// observe copies a snapshot into the gauges. Worker series are reset
// so replaced and dropped slots do not linger.
func (m *poolMetrics) observe(stats Stats, rss map[int]uint64) {
	m.size.Set(float64(stats.Size))
	m.capacity.Set(float64(stats.Capacity))
	m.active.Set(float64(stats.Active))
	m.waiting.Set(float64(stats.Waiting))
	m.utilization.Set(stats.Utilization)
	m.workers.WithLabelValues("alive").Set(float64(stats.Alive))
	m.workers.WithLabelValues("dead").Set(float64(stats.Dead))
	m.workers.WithLabelValues("recycling").Set(float64(stats.Recycling))

	m.lockAcquisitions.Set(float64(stats.Lock.Acquisitions))
	m.lockContendedFraction.Set(stats.Lock.ContendedFraction())
	m.lockAverageWait.Set(stats.Lock.AverageWait().Seconds())
	m.lockMaxWait.Set(stats.Lock.MaxWait.Seconds())

	m.taskAge.Reset()
	m.rss.Reset()
	for _, w := range stats.Workers {
		label := strconv.Itoa(w.ID)
		m.taskAge.WithLabelValues(label).Set(w.TaskAge.Seconds())
		if bytes, ok := rss[w.ID]; ok {
			m.rss.WithLabelValues(label).Set(float64(bytes))
		}
	}
}

// reportLoop logs and exports pool metrics every MetricsInterval until
// Shutdown.
func (p *Pool) reportLoop() {
	defer p.background.Done()
	ticker := p.clock.NewTicker(p.config.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.lifetime.Done():
			return
		case <-ticker.C:
			p.report(p.lifetime)
		}
	}
}

// report runs one metrics tick: the optional watchdog pass, the gauge
// update, the summary log line, and stuck-worker warnings.
func (p *Pool) report(ctx context.Context) {
	if p.config.Watchdog {
		p.watchdog()
	}

	stats := p.Snapshot()
	rss := workerRSS(ctx, stats.Workers)
	p.metrics.observe(stats, rss)

	p.logger.Info("worker pool metrics",
		"workers", stats.Size,
		"capacity", stats.Capacity,
		"active", stats.Active,
		"waiting", stats.Waiting,
		"utilization_percent", stats.Utilization,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"timed_out", stats.TimedOut,
		"cancelled", stats.Cancelled,
		"alive", stats.Alive,
		"dead", stats.Dead,
		"recycling", stats.Recycling,
		"spawn_failures", stats.SpawnFailures,
		"lock_acquisitions", stats.Lock.Acquisitions,
		"lock_contended_ratio", stats.Lock.ContendedFraction(),
		"lock_wait_average", stats.Lock.AverageWait(),
		"lock_wait_max", stats.Lock.MaxWait,
	)

	for _, w := range stats.Workers {
		if w.TaskAge > p.config.StuckThreshold {
			p.logger.Warn("worker task running longer than threshold",
				"worker_id", w.ID,
				"pid", w.PID,
				"task_age", w.TaskAge,
				"active_tasks", w.Active,
				"threshold", p.config.StuckThreshold,
			)
		}
	}
}

// watchdog replaces idle workers whose process has exited. It only
// takes the pool lock briefly and never waits on a worker, so it
// cannot stall selection.
func (p *Pool) watchdog() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, w := range p.workers {
		if w.recycling {
			continue
		}
		p.detectExitLocked(w)
		if w.dead {
			p.scheduleReplaceLocked(w)
		}
	}
}

// workerRSS reads the resident set size of each live worker. Workers
// whose process cannot be inspected are left out.
func workerRSS(ctx context.Context, workers []WorkerStatus) map[int]uint64 {
	rss := make(map[int]uint64, len(workers))
	for _, w := range workers {
		if w.Dead {
			continue
		}
		total, err := treeRSS(ctx, int32(w.PID))
		if err != nil {
			continue
		}
		rss[w.ID] = total
	}
	return rss
}

// treeRSS sums the resident set size of pid and all its descendants.
// A sandboxed worker runs below the systemd-run and bwrap processes
// that were spawned, so the spawned PID alone misses it.
func treeRSS(ctx context.Context, pid int32) (uint64, error) {
	root, err := psprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, err
	}
	memory, err := root.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	total := memory.RSS

	pending := []*psprocess.Process{root}
	for len(pending) > 0 {
		proc := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		// No children and exited children both surface as errors.
		children, err := proc.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, child := range children {
			if memory, err := child.MemoryInfoWithContext(ctx); err == nil {
				total += memory.RSS
			}
			pending = append(pending, child)
		}
	}
	return total, nil
}
