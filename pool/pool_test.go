// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tracecathq/executor/lib/ipc"
	"github.com/tracecathq/executor/lib/schema"
	"github.com/tracecathq/executor/lib/testutil"
	workerserver "github.com/tracecathq/executor/worker"
)

// fakeProcess is an in-process workerserver.Server standing in for a worker
// process. PIDs are above the kernel's pid_max so they never name a
// real process.
type fakeProcess struct {
	pid    int
	cancel context.CancelFunc
	done   chan struct{}
}

func (f *fakeProcess) PID() int { return f.pid }

func (f *fakeProcess) Exited() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeProcess) Terminate(ctx context.Context, _ time.Duration) error {
	f.cancel()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// crash stops the server without the pool's involvement.
func (f *fakeProcess) crash() {
	f.cancel()
	<-f.done
}

// fakeSpawner starts fakeProcesses serving handler. fail, if set,
// decides per spawn whether to return an error instead.
type fakeSpawner struct {
	handler       workerserver.Handler
	maxConcurrent int

	// raw replaces the worker server with a bare listener.
	raw func(net.Conn)

	fail func(workerID, attempt int) bool

	mu      sync.Mutex
	nextPID int
	spawned map[int][]*fakeProcess
}

func newFakeSpawner(handler workerserver.Handler, maxConcurrent int) *fakeSpawner {
	return &fakeSpawner{handler: handler, maxConcurrent: maxConcurrent, spawned: make(map[int][]*fakeProcess)}
}

func (s *fakeSpawner) Spawn(_ context.Context, workerID int, workDir string) (Process, error) {
	s.mu.Lock()
	attempt := len(s.spawned[workerID])
	if s.fail != nil && s.fail(workerID, attempt) {
		s.spawned[workerID] = append(s.spawned[workerID], nil)
		s.mu.Unlock()
		return nil, fmt.Errorf("spawn refused for worker %d attempt %d", workerID, attempt)
	}
	s.nextPID++
	pid := 1<<30 + s.nextPID
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	process := &fakeProcess{pid: pid, cancel: cancel, done: make(chan struct{})}
	socketPath := filepath.Join(workDir, SocketName)

	if s.raw != nil {
		listener, err := net.Listen("unix", socketPath)
		if err != nil {
			cancel()
			return nil, err
		}
		go func() {
			<-ctx.Done()
			listener.Close()
		}()
		go func() {
			defer close(process.done)
			for {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				go func() {
					defer conn.Close()
					s.raw(conn)
				}()
			}
		}()
	} else {
		server, err := workerserver.New(workerserver.Config{
			SocketPath:    socketPath,
			MaxConcurrent: s.maxConcurrent,
			Handler:       s.handler,
			ShutdownGrace: time.Second,
		})
		if err != nil {
			cancel()
			return nil, err
		}
		go func() {
			defer close(process.done)
			server.Serve(ctx)
		}()
	}

	s.mu.Lock()
	s.spawned[workerID] = append(s.spawned[workerID], process)
	s.mu.Unlock()
	return process, nil
}

// latest returns the most recent successful spawn for workerID.
func (s *fakeSpawner) latest(workerID int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.spawned[workerID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil {
			return history[i]
		}
	}
	return nil
}

func (s *fakeSpawner) attempts(workerID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned[workerID])
}

// testHandler serves:
//
//	test.sleep  sleeps args.ms milliseconds, then returns 42
//	test.hang   blocks until the call is cancelled
//	test.gate   blocks until gate is closed
//	test.fail   returns a ValueError failure
func testHandler(gate <-chan struct{}) workerserver.Handler {
	return func(ctx context.Context, request *ipc.Request) schema.ExecutorResult {
		name := request.Input.ActionName()
		switch name {
		case "test.sleep":
			ms, _ := request.Input.Task.Args["ms"].(json.Number)
			milliseconds, _ := ms.Int64()
			select {
			case <-time.After(time.Duration(milliseconds) * time.Millisecond):
				return schema.Success(42.0)
			case <-ctx.Done():
				return schema.NewFailure(name, schema.ErrorTypeCancelled, "cancelled")
			}
		case "test.hang":
			<-ctx.Done()
			return schema.NewFailure(name, schema.ErrorTypeCancelled, "cancelled")
		case "test.gate":
			select {
			case <-gate:
				return schema.Success("opened")
			case <-ctx.Done():
				return schema.NewFailure(name, schema.ErrorTypeCancelled, "cancelled")
			}
		case "test.fail":
			return schema.NewFailure(name, "ValueError", "bad input")
		}
		return schema.Success(42.0)
	}
}

func input(name string, args map[string]any) schema.RunActionInput {
	return schema.RunActionInput{
		Task:       schema.ActionStatement{Action: "test." + name, Args: args},
		RunContext: schema.RunContext{WorkflowID: testutil.UniqueID("wf")},
	}
}

func resolved(name string) *schema.ResolvedContext {
	return &schema.ResolvedContext{
		ActionImpl: schema.ActionImpl{Type: schema.ActionImplUDF, Module: "test", Name: name, Origin: schema.BuiltinOrigin},
	}
}

// execute runs one named test action.
func execute(ctx context.Context, p *Pool, name string, args map[string]any, timeout time.Duration) (schema.ExecutorResult, error) {
	return p.Execute(ctx, input(name, args), schema.Role{Type: "service", ServiceID: "tracecat-executor"}, resolved(name), timeout)
}

// startPool starts a pool over spawner and shuts it down when the test
// ends.
func startPool(t *testing.T, config Config, spawner Spawner) *Pool {
	t.Helper()
	config.Spawner = spawner
	if config.WorkRoot == "" {
		config.WorkRoot = testutil.SocketDir(t)
	}
	if config.MetricsInterval == 0 {
		config.MetricsInterval = -1
	}
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Millisecond
	}
	p, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return p
}

func requireSuccess(t *testing.T, result schema.ExecutorResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("result = %+v, want success", result.Error)
	}
}

func TestExecuteRunsTasksInParallel(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 2, MaxConcurrentPerWorker: 1}, spawner)

	const sleep = 200 * time.Millisecond
	started := time.Now()
	var group sync.WaitGroup
	results := make([]schema.ExecutorResult, 2)
	errs := make([]error, 2)
	for i := range 2 {
		group.Add(1)
		go func() {
			defer group.Done()
			results[i], errs[i] = execute(context.Background(), p, "sleep", map[string]any{"ms": sleep.Milliseconds()}, 0)
		}()
	}
	group.Wait()
	elapsed := time.Since(started)

	for i := range 2 {
		requireSuccess(t, results[i], errs[i])
		if fmt.Sprint(results[i].Result) != "42" {
			t.Errorf("result %d = %v, want 42", i, results[i].Result)
		}
	}
	if elapsed >= 2*sleep {
		t.Errorf("two tasks on two workers took %v, want well under %v", elapsed, 2*sleep)
	}
}

func TestTaskBeyondCapacityWaitsForRelease(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 2, MaxConcurrentPerWorker: 1}, spawner)

	const sleep = 200 * time.Millisecond
	started := time.Now()
	finished := make(chan time.Duration, 3)
	for range 3 {
		go func() {
			result, err := execute(context.Background(), p, "sleep", map[string]any{"ms": sleep.Milliseconds()}, 0)
			if err != nil || !result.IsSuccess() {
				finished <- -1
				return
			}
			finished <- time.Since(started)
		}()
	}

	testutil.Eventually(t, 2*time.Second, "one task waiting", func() bool {
		return p.Snapshot().Waiting == 1
	})
	if stats := p.Snapshot(); stats.Active != 2 {
		t.Errorf("active = %d while one waits, want 2", stats.Active)
	}

	var durations []time.Duration
	for range 3 {
		durations = append(durations, testutil.RequireReceive(t, finished, 5*time.Second, "task completion"))
	}
	slowest := time.Duration(0)
	for _, duration := range durations {
		if duration < 0 {
			t.Fatal("a task failed")
		}
		slowest = max(slowest, duration)
	}
	if slowest < 2*sleep {
		t.Errorf("third task finished after %v, want at least %v", slowest, 2*sleep)
	}
	if stats := p.Snapshot(); stats.Waiting != 0 || stats.Active != 0 {
		t.Errorf("after completion waiting=%d active=%d, want 0/0", stats.Waiting, stats.Active)
	}
}

func TestCapacityInvariant(t *testing.T) {
	gate := make(chan struct{})
	spawner := newFakeSpawner(testHandler(gate), 2)
	p := startPool(t, Config{Size: 2, MaxConcurrentPerWorker: 2}, spawner)

	const total = 2*2 + 1
	done := make(chan error, total)
	for range total {
		go func() {
			_, err := execute(context.Background(), p, "gate", nil, 0)
			done <- err
		}()
	}

	testutil.Eventually(t, 2*time.Second, "pool saturated with one waiter", func() bool {
		stats := p.Snapshot()
		return stats.Active == 4 && stats.Waiting == 1
	})
	for _, status := range p.Snapshot().Workers {
		if status.Active < 0 || status.Active > 2 {
			t.Errorf("worker %d active = %d, want within [0, 2]", status.ID, status.Active)
		}
	}

	close(gate)
	for range total {
		if err := testutil.RequireReceive(t, done, 5*time.Second, "gated task"); err != nil {
			t.Errorf("Execute: %v", err)
		}
	}
	if stats := p.Snapshot(); stats.Completed != total {
		t.Errorf("completed = %d, want %d", stats.Completed, total)
	}
}

func TestRoundRobinAmongEquallyLoadedWorkers(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 4)
	p := startPool(t, Config{Size: 3, MaxConcurrentPerWorker: 4}, spawner)

	const selections = 12
	for range selections {
		result, err := execute(context.Background(), p, "echo", nil, 0)
		requireSuccess(t, result, err)
	}
	for _, status := range p.Snapshot().Workers {
		if status.TasksCompleted != selections/3 {
			t.Errorf("worker %d handled %d tasks, want %d", status.ID, status.TasksCompleted, selections/3)
		}
	}
}

func TestRecycleReplacesWorkerInSameSlot(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 1, MaxConcurrentPerWorker: 1, MaxTasksPerWorker: 1}, spawner)

	original := spawner.latest(0)
	result, err := execute(context.Background(), p, "echo", nil, 0)
	requireSuccess(t, result, err)

	testutil.Eventually(t, 5*time.Second, "worker replaced", func() bool {
		stats := p.Snapshot()
		return stats.Recycled == 1 && len(stats.Workers) == 1 && !stats.Workers[0].Recycling
	})
	if !original.Exited() {
		t.Error("recycled worker process still running")
	}
	status := p.Snapshot().Workers[0]
	if status.ID != 0 {
		t.Errorf("replacement worker id = %d, want 0", status.ID)
	}
	if status.PID == original.PID() {
		t.Error("replacement reused the old pid")
	}
	if status.TasksCompleted != 0 {
		t.Errorf("replacement tasks completed = %d, want 0", status.TasksCompleted)
	}

	result, err = execute(context.Background(), p, "echo", nil, 0)
	requireSuccess(t, result, err)
}

func TestRecycleWaitsForIdle(t *testing.T) {
	gate := make(chan struct{})
	spawner := newFakeSpawner(testHandler(gate), 2)
	p := startPool(t, Config{Size: 1, MaxConcurrentPerWorker: 2, MaxTasksPerWorker: 1}, spawner)
	original := spawner.latest(0)

	blocked := make(chan error, 1)
	go func() {
		_, err := execute(context.Background(), p, "gate", nil, 0)
		blocked <- err
	}()
	testutil.Eventually(t, 2*time.Second, "gated task active", func() bool {
		return p.Snapshot().Active == 1
	})

	result, err := execute(context.Background(), p, "echo", nil, 0)
	requireSuccess(t, result, err)

	// The worker has reached its task limit but still has one task in
	// flight.
	status := p.Snapshot().Workers[0]
	if status.Recycling || status.PID != original.PID() || original.Exited() {
		t.Fatalf("worker recycled with a task in flight: %+v", status)
	}

	close(gate)
	if err := testutil.RequireReceive(t, blocked, 5*time.Second, "gated task"); err != nil {
		t.Fatalf("gated Execute: %v", err)
	}
	testutil.Eventually(t, 5*time.Second, "worker recycled once idle", func() bool {
		return p.Snapshot().Recycled == 1
	})
}

func TestCrashedWorkerIsSkippedAndReplaced(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 2, MaxConcurrentPerWorker: 1}, spawner)

	crashed := spawner.latest(0)
	crashed.crash()

	for range 4 {
		result, err := execute(context.Background(), p, "echo", nil, 0)
		requireSuccess(t, result, err)
	}

	testutil.Eventually(t, 5*time.Second, "crashed worker replaced", func() bool {
		stats := p.Snapshot()
		if stats.Crashed != 1 || stats.Recycled != 1 {
			return false
		}
		for _, status := range stats.Workers {
			if status.ID == 0 {
				return status.PID != crashed.PID() && !status.Dead
			}
		}
		return false
	})
	if stats := p.Snapshot(); stats.Failed != 0 {
		t.Errorf("failed = %d, want 0: the crashed worker must not be selected", stats.Failed)
	}
	if spawner.attempts(0) != 2 {
		t.Errorf("worker 0 spawned %d times, want 2", spawner.attempts(0))
	}
}

func TestTimeoutReturnsFailureAndReleasesSlot(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 1, MaxConcurrentPerWorker: 1}, spawner)
	original := spawner.latest(0)

	started := time.Now()
	result, err := execute(context.Background(), p, "hang", nil, 100*time.Millisecond)
	elapsed := time.Since(started)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ErrorType() != schema.ErrorTypeTimeout {
		t.Fatalf("error type = %q, want %q", result.ErrorType(), schema.ErrorTypeTimeout)
	}
	if elapsed > time.Second {
		t.Errorf("timeout surfaced after %v, want ~100ms", elapsed)
	}

	stats := p.Snapshot()
	if stats.Active != 0 || stats.TimedOut != 1 {
		t.Errorf("active=%d timed_out=%d, want 0/1", stats.Active, stats.TimedOut)
	}
	if original.Exited() || stats.Workers[0].PID != original.PID() {
		t.Error("worker was killed because one task timed out")
	}

	result, err = execute(context.Background(), p, "echo", nil, 0)
	requireSuccess(t, result, err)
}

func TestReleaseExactlyOnceAcrossOutcomes(t *testing.T) {
	// Capacity covers every task so none gives up while waiting for a
	// slot, which would never claim one.
	const tasks = 40
	spawner := newFakeSpawner(testHandler(nil), tasks/2)
	p := startPool(t, Config{Size: 2, MaxConcurrentPerWorker: tasks / 2}, spawner)

	var group sync.WaitGroup
	for range tasks {
		group.Add(1)
		go func() {
			defer group.Done()
			switch rand.N(4) {
			case 0:
				execute(context.Background(), p, "sleep", map[string]any{"ms": rand.N(20)}, 0)
			case 1:
				execute(context.Background(), p, "fail", nil, 0)
			case 2:
				execute(context.Background(), p, "hang", nil, 20*time.Millisecond)
			case 3:
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
				defer cancel()
				execute(ctx, p, "hang", nil, 0)
			}
		}()
	}
	group.Wait()

	stats := p.Snapshot()
	if stats.Active != 0 {
		t.Errorf("active = %d after all tasks returned, want 0", stats.Active)
	}
	for _, status := range stats.Workers {
		if status.Active != 0 || status.TaskAge != 0 {
			t.Errorf("worker %d active=%d task_age=%v, want idle", status.ID, status.Active, status.TaskAge)
		}
	}
	if sum := stats.Completed + stats.Failed + stats.TimedOut + stats.Cancelled; sum != tasks {
		t.Errorf("outcome counters sum to %d, want %d", sum, tasks)
	}
}

func TestCallerCancellationReturnsContextError(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 1, MaxConcurrentPerWorker: 1}, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for p.Snapshot().Active == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	_, err := execute(ctx, p, "hang", nil, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if stats := p.Snapshot(); stats.Active != 0 || stats.Cancelled != 1 {
		t.Errorf("active=%d cancelled=%d, want 0/1", stats.Active, stats.Cancelled)
	}
}

func TestAcquireTimeoutIsNoAvailableWorker(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 1, MaxConcurrentPerWorker: 1, AcquireTimeout: 100 * time.Millisecond}, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go execute(ctx, p, "hang", nil, 0)
	testutil.Eventually(t, 2*time.Second, "worker occupied", func() bool { return p.Snapshot().Active == 1 })

	_, err := execute(context.Background(), p, "echo", nil, 0)
	if !errors.Is(err, ErrNoAvailableWorker) {
		t.Fatalf("error = %v, want ErrNoAvailableWorker", err)
	}
	if waiting := p.Snapshot().Waiting; waiting != 0 {
		t.Errorf("waiting = %d after acquisition timeout, want 0", waiting)
	}

	waitContext, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	if _, err := execute(waitContext, p, "echo", nil, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want the caller's deadline while waiting", err)
	}
	if waiting := p.Snapshot().Waiting; waiting != 0 {
		t.Errorf("waiting = %d after caller gave up, want 0", waiting)
	}
}

func TestProtocolErrorLeavesWorkerRunning(t *testing.T) {
	spawner := newFakeSpawner(nil, 1)
	spawner.raw = func(conn net.Conn) {
		ipc.ReadRequest(conn)
		conn.Write([]byte{0, 0, 0, 5, '{'})
	}
	p := startPool(t, Config{Size: 1, MaxConcurrentPerWorker: 1}, spawner)

	result, err := execute(context.Background(), p, "echo", nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ErrorType() != schema.ErrorTypeProtocol {
		t.Fatalf("error type = %q, want %q", result.ErrorType(), schema.ErrorTypeProtocol)
	}
	if spawner.latest(0).Exited() {
		t.Error("worker killed after a protocol error")
	}
	if stats := p.Snapshot(); stats.Failed != 1 || stats.Active != 0 {
		t.Errorf("failed=%d active=%d, want 1/0", stats.Failed, stats.Active)
	}
}

func TestApplicationFailureIsResult(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 1}, spawner)

	result, err := execute(context.Background(), p, "fail", nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ErrorType() != "ValueError" || result.Error.Message != "bad input" {
		t.Errorf("result = %+v", result.Error)
	}
}

func TestStartToleratesPartialFailure(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	spawner.fail = func(workerID, _ int) bool { return workerID == 1 }
	p := startPool(t, Config{Size: 3, MaxConcurrentPerWorker: 1}, spawner)

	stats := p.Snapshot()
	if stats.Size != 2 || stats.SpawnFailures != 1 {
		t.Fatalf("size=%d spawn_failures=%d, want 2/1", stats.Size, stats.SpawnFailures)
	}
	for _, status := range stats.Workers {
		if status.ID == 1 {
			t.Error("failed worker slot is in the pool")
		}
	}
}

func TestStartFailsWithNoReadyWorkers(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	spawner.fail = func(int, int) bool { return true }
	p, err := New(Config{Size: 2, Spawner: spawner, WorkRoot: testutil.SocketDir(t), MetricsInterval: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with zero ready workers")
	}
	if _, err := execute(context.Background(), p, "echo", nil, 0); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Execute error = %v, want ErrNotStarted", err)
	}
}

func TestStartTimesOutSilentWorker(t *testing.T) {
	spawner := &silentSpawner{}
	p, err := New(Config{
		Size:            1,
		Spawner:         spawner,
		WorkRoot:        testutil.SocketDir(t),
		StartupTimeout:  50 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		MetricsInterval: -1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded although no worker created its socket")
	}
	if !spawner.process.terminated {
		t.Error("silent worker was not terminated")
	}
}

// silentSpawner starts a process that never creates its socket.
type silentSpawner struct {
	process *silentProcess
}

type silentProcess struct {
	terminated bool
}

func (p *silentProcess) PID() int     { return 1 << 30 }
func (p *silentProcess) Exited() bool { return p.terminated }
func (p *silentProcess) Terminate(context.Context, time.Duration) error {
	p.terminated = true
	return nil
}

func (s *silentSpawner) Spawn(context.Context, int, string) (Process, error) {
	s.process = &silentProcess{}
	return s.process, nil
}

func TestLifecycleIsIdempotent(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p, err := New(Config{Size: 2, Spawner: spawner, WorkRoot: testutil.SocketDir(t), MetricsInterval: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := execute(context.Background(), p, "echo", nil, 0); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Execute before Start: %v, want ErrNotStarted", err)
	}

	for range 2 {
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if spawner.attempts(0) != 1 || spawner.attempts(1) != 1 {
		t.Errorf("second Start spawned again: %d/%d", spawner.attempts(0), spawner.attempts(1))
	}

	for range 2 {
		if err := p.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	for id := range 2 {
		if !spawner.latest(id).Exited() {
			t.Errorf("worker %d still running after Shutdown", id)
		}
	}
	if _, err := execute(context.Background(), p, "echo", nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Shutdown: %v, want ErrClosed", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Shutdown: %v, want ErrClosed", err)
	}
	if stats := p.Snapshot(); stats.Size != 0 {
		t.Errorf("size after Shutdown = %d, want 0", stats.Size)
	}
}

func TestReplacementSpawnFailureDropsSlot(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	spawner.fail = func(workerID, attempt int) bool { return attempt > 0 }
	p := startPool(t, Config{Size: 2, MaxConcurrentPerWorker: 1, MaxTasksPerWorker: 1}, spawner)

	result, err := execute(context.Background(), p, "echo", nil, 0)
	requireSuccess(t, result, err)

	testutil.Eventually(t, 5*time.Second, "slot dropped", func() bool {
		stats := p.Snapshot()
		return stats.Size == 1 && stats.SpawnFailures == 1
	})

	result, err = execute(context.Background(), p, "echo", nil, 0)
	requireSuccess(t, result, err)
}

func TestExecuteRequiresResolvedContext(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	p := startPool(t, Config{Size: 1}, spawner)

	_, err := p.Execute(context.Background(), input("echo", nil), schema.Role{}, nil, 0)
	if err == nil {
		t.Fatal("Execute accepted a nil resolved context")
	}
	if stats := p.Snapshot(); stats.Active != 0 || stats.Failed != 0 {
		t.Errorf("slot claimed for an invalid request: %+v", stats)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	spawner := newFakeSpawner(testHandler(nil), 1)
	tests := []struct {
		name   string
		config Config
	}{
		{"zero size", Config{Spawner: spawner}},
		{"negative concurrency", Config{Size: 1, MaxConcurrentPerWorker: -1, Spawner: spawner}},
		{"negative task limit", Config{Size: 1, MaxTasksPerWorker: -1, Spawner: spawner}},
		{"no spawner", Config{Size: 1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}
