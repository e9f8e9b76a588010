package client

import (
	"context"
	"log"
	"sync"
	"time"
)

// HeartbeatInterval is how often an open session pings the server.
const HeartbeatInterval = 5 * time.Second

// Keepalive posts a heartbeat immediately and then every interval until ctx
// is done. Failed beats are logged and do not stop the loop.
func (c *Client) Keepalive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			log.Printf("heartbeat failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Inactivity thresholds of a browser session.
const (
	WarnAfter       = 13 * time.Minute
	SoftLogoutAfter = 14 * time.Minute
	ShutdownAfter   = 15 * time.Minute
)

type IdleState int

const (
	Active IdleState = iota
	Warn
	SoftLogout
	Shutdown
)

func (s IdleState) String() string {
	switch s {
	case Active:
		return "active"
	case Warn:
		return "warn"
	case SoftLogout:
		return "soft_logout"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// IdleTracker measures time since the last user interaction.
type IdleTracker struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewIdleTracker(now func() time.Time) *IdleTracker {
	if now == nil {
		now = time.Now
	}
	return &IdleTracker{last: now(), now: now}
}

// Touch records user activity.
func (t *IdleTracker) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

func (t *IdleTracker) Idle() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.last)
}

func (t *IdleTracker) State() IdleState {
	idle := t.Idle()
	switch {
	case idle >= ShutdownAfter:
		return Shutdown
	case idle >= SoftLogoutAfter:
		return SoftLogout
	case idle >= WarnAfter:
		return Warn
	}
	return Active
}
