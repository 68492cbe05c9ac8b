// Package clock abstracts wall-clock timers so components driven by tickers
// and debounce delays can be tested against virtual time.
package clock

import "time"

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is a one-shot timer armed with a callback, matching time.AfterFunc.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, fn func()) Timer
}

// SystemClock delegates to the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }
