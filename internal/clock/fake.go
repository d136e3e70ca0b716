// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// Unlike the real clock, AfterFunc callbacks run synchronously inside
// Advance, in deadline order, which makes timer-driven state machines
// fully deterministic. Callbacks may create or stop other timers.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	waiters []*fakeWaiter
}

// NewFake creates a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

type fakeWaiter struct {
	clk    *Fake
	when   time.Time
	seq    int
	period time.Duration
	fn     func()
	ch     chan time.Time
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{clk: f, fn: fn}
	f.schedule(w, d)
	return w
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{clk: f, ch: make(chan time.Time, 1)}
	f.schedule(w, d)
	return w
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{clk: f, ch: make(chan time.Time, 1), period: d}
	f.schedule(w, d)
	return &fakeTicker{w: w}
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		w := f.nextDue(target)
		if w == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = w.when
		if w.period > 0 {
			w.when = w.when.Add(w.period)
			f.seq++
			w.seq = f.seq
		} else {
			f.remove(w)
		}
		now := f.now
		fn, ch := w.fn, w.ch
		f.mu.Unlock()

		if fn != nil {
			fn()
			continue
		}
		select {
		case ch <- now:
		default:
		}
	}
}

// Pending returns the number of armed timers and tickers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// BlockUntil waits until at least n timers are armed. Useful when a goroutine
// under test arms its timer asynchronously.
func (f *Fake) BlockUntil(n int) {
	for {
		if f.Pending() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// caller holds f.mu
func (f *Fake) schedule(w *fakeWaiter, d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.seq++
	w.seq = f.seq
	w.when = f.now.Add(d)
	f.remove(w)
	f.waiters = append(f.waiters, w)
}

// caller holds f.mu
func (f *Fake) remove(w *fakeWaiter) bool {
	for i, cur := range f.waiters {
		if cur == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// caller holds f.mu
func (f *Fake) nextDue(target time.Time) *fakeWaiter {
	if len(f.waiters) == 0 {
		return nil
	}
	sort.SliceStable(f.waiters, func(i, j int) bool {
		if f.waiters[i].when.Equal(f.waiters[j].when) {
			return f.waiters[i].seq < f.waiters[j].seq
		}
		return f.waiters[i].when.Before(f.waiters[j].when)
	})
	w := f.waiters[0]
	if w.when.After(target) {
		return nil
	}
	return w
}

func (w *fakeWaiter) C() <-chan time.Time { return w.ch }

func (w *fakeWaiter) Stop() bool {
	w.clk.mu.Lock()
	defer w.clk.mu.Unlock()
	return w.clk.remove(w)
}

func (w *fakeWaiter) Reset(d time.Duration) bool {
	w.clk.mu.Lock()
	defer w.clk.mu.Unlock()
	active := w.clk.remove(w)
	w.clk.schedule(w, d)
	return active
}

type fakeTicker struct {
	w *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }
func (t *fakeTicker) Stop()               { t.w.Stop() }

func (t *fakeTicker) Reset(d time.Duration) {
	t.w.clk.mu.Lock()
	defer t.w.clk.mu.Unlock()
	t.w.period = d
	t.w.clk.schedule(t.w, d)
}
