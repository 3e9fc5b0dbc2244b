// Package connectivity tracks whether the backend is reachable and
// drives outbox sync passes from connectivity changes and a timer.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the backend and reports transitions. The state starts
// offline, so the first successful probe is reported as a transition.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	log      *slog.Logger

	online atomic.Bool
	mu     sync.Mutex
	subs   []func(online bool)
}

func NewMonitor(p Pinger, interval time.Duration, c clock.Clock, log *slog.Logger) *Monitor {
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  interval,
		clock:    c,
		log:      log,
	}
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe registers fn for transitions. fn runs on the probing
// goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Probe pings once and returns the resulting state.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(ctx)
	now := err == nil
	if m.online.Swap(now) == now {
		return now
	}

	if now {
		metrics.Online.Set(1)
		m.log.Info("backend reachable")
	} else {
		metrics.Online.Set(0)
		m.log.Warn("backend unreachable", logging.Err(err))
	}

	m.mu.Lock()
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(now)
	}
	return now
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
