// Package heartbeat keeps track of client keepalives and fires once when they stop.
package heartbeat

import (
	"context"
	"sync"
	"time"
)

// CheckInterval is how often Run compares the last beat against the timeout.
const CheckInterval = 5 * time.Second

type Monitor struct {
	mu      sync.Mutex
	last    time.Time
	timeout time.Duration
	now     func() time.Time
	tick    time.Duration
}

// New returns a monitor whose clock starts now. A zero timeout disables Run.
func New(timeout time.Duration) *Monitor {
	m := &Monitor{timeout: timeout, now: time.Now, tick: CheckInterval}
	m.last = m.now()
	return m
}

// Beat records a keepalive and returns its time.
func (m *Monitor) Beat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = m.now()
	return m.last
}

func (m *Monitor) Last() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.last) > m.timeout
}

// Run blocks until ctx is cancelled or the timeout elapses without a beat,
// in which case onTimeout is called exactly once.
func (m *Monitor) Run(ctx context.Context, onTimeout func()) {
	if m.timeout <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(m.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.expired() {
				onTimeout()
				return
			}
		}
	}
}
