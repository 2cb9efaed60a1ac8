// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a Clock whose time only moves when the test calls Advance or
// Set. After channels and tickers fire during the advance that crosses
// their deadline. Sleep returns immediately without blocking, which
// keeps single-goroutine tests deterministic.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	tickers []*fakeTicker
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

type fakeTicker struct {
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// NewFakeAt returns a Fake starting at t.
func NewFakeAt(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time.
func (fake *Fake) Now() time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.now
}

// After returns a channel that fires when the fake time reaches now+d.
// If d <= 0 the channel already holds the current time.
func (fake *Fake) After(d time.Duration) <-chan time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- fake.now
		return ch
	}
	fake.waiters = append(fake.waiters, &fakeWaiter{
		deadline: fake.now.Add(d),
		ch:       ch,
	})
	return ch
}

// Sleep advances the fake time by d and returns immediately.
func (fake *Fake) Sleep(d time.Duration) {
	fake.Advance(d)
}

// NewTicker returns a ticker driven by Advance.
func (fake *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()

	ticker := &fakeTicker{
		interval: d,
		next:     fake.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	fake.tickers = append(fake.tickers, ticker)
	return &Ticker{
		C: ticker.ch,
		stopFunc: func() {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the fake time forward by d, firing any waiters and
// tickers whose deadlines fall inside the window.
func (fake *Fake) Advance(d time.Duration) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.setLocked(fake.now.Add(d))
}

// Set jumps the fake time to t, firing waiters the same way Advance
// does. Moving backwards only changes Now.
func (fake *Fake) Set(t time.Time) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.setLocked(t)
}

func (fake *Fake) setLocked(t time.Time) {
	fake.now = t

	remaining := fake.waiters[:0]
	for _, waiter := range fake.waiters {
		if !waiter.deadline.After(t) {
			waiter.ch <- t
			continue
		}
		remaining = append(remaining, waiter)
	}
	fake.waiters = remaining

	for _, ticker := range fake.tickers {
		if ticker.stopped {
			continue
		}
		for !ticker.next.After(t) {
			select {
			case ticker.ch <- ticker.next:
			default:
				// Consumer is behind; drop the tick like time.Ticker.
			}
			ticker.next = ticker.next.Add(ticker.interval)
		}
	}
}
