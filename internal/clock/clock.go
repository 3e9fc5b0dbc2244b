// Package clock lets time-dependent components run against either the
// wall clock or a manually advanced fake in tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C. Ticks are dropped when the consumer lags.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

func (t *Ticker) Stop() { t.stop() }

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Fake is a Clock that only moves when Advance or Set is called.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	ch       chan time.Time
	next     time.Time
	interval time.Duration
	stopped  bool
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{
		ch:       make(chan time.Time, 1),
		next:     f.now.Add(d),
		interval: d,
	}
	f.tickers = append(f.tickers, ft)
	return &Ticker{
		C: ft.ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Advance moves the clock forward by d, firing every ticker whose
// deadline falls inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	live := f.tickers[:0]
	for _, ft := range f.tickers {
		if ft.stopped {
			continue
		}
		for !ft.next.After(f.now) {
			select {
			case ft.ch <- ft.next:
			default:
			}
			ft.next = ft.next.Add(ft.interval)
		}
		live = append(live, ft)
	}
	f.tickers = live
}

// Set jumps the clock to t without firing tickers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
