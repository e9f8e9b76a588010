package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(timeout time.Duration) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := &Monitor{timeout: timeout, now: clock.Now, tick: time.Millisecond}
	m.last = clock.Now()
	return m, clock
}

func TestBeatUpdatesLast(t *testing.T) {
	m, clock := newTestMonitor(time.Minute)
	clock.Advance(30 * time.Second)
	got := m.Beat()
	if !got.Equal(clock.Now()) || !m.Last().Equal(got) {
		t.Fatalf("Last = %v, want %v", m.Last(), clock.Now())
	}
}

func TestRunFiresOnTimeout(t *testing.T) {
	m, clock := newTestMonitor(time.Minute)
	clock.Advance(2 * time.Minute)

	fired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), func() { close(fired) })
		close(done)
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onTimeout not called")
	}
	<-done
}

func TestRunStopsWithContextWhileBeating(t *testing.T) {
	m, _ := newTestMonitor(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, func() { t.Error("unexpected timeout") })
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestZeroTimeoutDisablesWatchdog(t *testing.T) {
	m := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m.Run(ctx, func() { t.Error("disabled monitor fired") })
}
