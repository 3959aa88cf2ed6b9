// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"sync"
	"time"
)

// instrumentedMutex is a sync.Mutex that records how often and how
// long callers wait for it. The statistics are only read and written
// while the mutex is held.
type instrumentedMutex struct {
	mu sync.Mutex

	acquisitions uint64
	contended    uint64
	totalWait    time.Duration
	maxWait      time.Duration
}

// LockStats summarizes pool lock contention.
type LockStats struct {
	Acquisitions uint64
	Contended    uint64
	TotalWait    time.Duration
	MaxWait      time.Duration
}

// ContendedFraction is the share of acquisitions that had to wait.
func (s LockStats) ContendedFraction() float64 {
	if s.Acquisitions == 0 {
		return 0
	}
	return float64(s.Contended) / float64(s.Acquisitions)
}

// AverageWait is the mean wait over contended acquisitions.
func (s LockStats) AverageWait() time.Duration {
	if s.Contended == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Contended)
}

func (m *instrumentedMutex) Lock() {
	if m.mu.TryLock() {
		m.acquisitions++
		return
	}
	started := time.Now()
	m.mu.Lock()
	wait := time.Since(started)
	m.acquisitions++
	m.contended++
	m.totalWait += wait
	if wait > m.maxWait {
		m.maxWait = wait
	}
}

func (m *instrumentedMutex) Unlock() {
	m.mu.Unlock()
}

// statsLocked returns the counters. The caller holds the mutex.
func (m *instrumentedMutex) statsLocked() LockStats {
	return LockStats{
		Acquisitions: m.acquisitions,
		Contended:    m.contended,
		TotalWait:    m.totalWait,
		MaxWait:      m.maxWait,
	}
}
