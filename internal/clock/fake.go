package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Advance fires due timers
// synchronously and delivers ticks for each crossed interval.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     f.now.Add(d),
	}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves virtual time forward, running expired AfterFunc callbacks on
// the calling goroutine and emitting ticker ticks (best effort, non-blocking).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due []func()
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.deadline.After(now) {
			t.stopped = true
			due = append(due, t.fn)
			continue
		}
		remaining = append(remaining, t)
	}
	f.timers = remaining

	for _, t := range f.tickers {
		for !t.stopped && !t.next.After(now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	fn       func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped
	t.stopped = false
	t.deadline = t.clock.now.Add(d)
	if active {
		return true
	}
	t.clock.timers = append(t.clock.timers, t)
	return false
}
