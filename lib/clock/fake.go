// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only on Advance. It is safe
// for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	waiters []*waiter
}

// waiter is a pending After or ticker registration.
type waiter struct {
	deadline time.Time
	channel  chan time.Time
	// period is non-zero for tickers, which re-arm after firing.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock reading initial until advanced.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the fake time elapsed since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// After registers a one-shot waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.register(&waiter{deadline: c.now.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &waiter{deadline: c.now.Add(d), channel: make(chan time.Time, 1), period: d}
	c.register(entry)
	return &Ticker{
		C: entry.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.stopped = true
			c.waiters = slices.DeleteFunc(c.waiters, func(w *waiter) bool { return w == entry })
		},
	}
}

// register adds w. Caller holds c.mu.
func (c *FakeClock) register(w *waiter) {
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

// Advance moves time forward by d and delivers every waiter whose
// deadline has been reached, earliest first. A ticker crossed by
// several periods fires once per period; ticks beyond its buffer are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for {
		slices.SortFunc(c.waiters, func(a, b *waiter) int {
			return a.deadline.Compare(b.deadline)
		})
		if len(c.waiters) == 0 || c.waiters[0].deadline.After(c.now) {
			return
		}
		next := c.waiters[0]
		select {
		case next.channel <- next.deadline:
		default:
		}
		if next.period > 0 {
			next.deadline = next.deadline.Add(next.period)
			continue
		}
		c.waiters = c.waiters[1:]
	}
}

// Pending returns the number of registered waiters.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// WaitForWaiters blocks until at least n waiters are registered.
func (c *FakeClock) WaitForWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}
