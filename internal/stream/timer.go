package stream

import (
	"sync"
	"time"
)

// ThinkingTimer measures how long a message spent thinking. It only starts once
// per message: after one span has been measured, further Start calls are ignored
// until Reset.
type ThinkingTimer struct {
	mu      sync.Mutex
	now     func() time.Time
	started time.Time
	elapsed time.Duration
	running bool
}

// NewThinkingTimer creates a timer using the wall clock.
func NewThinkingTimer() *ThinkingTimer {
	return NewThinkingTimerWithClock(time.Now)
}

// NewThinkingTimerWithClock creates a timer reading time from now.
func NewThinkingTimerWithClock(now func() time.Time) *ThinkingTimer {
	if now == nil {
		now = time.Now
	}
	return &ThinkingTimer{now: now}
}

// Start begins measuring unless the timer is running or already measured a span.
func (t *ThinkingTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.elapsed != 0 {
		return
	}
	t.started = t.now()
	t.running = true
}

// Stop freezes the elapsed time.
func (t *ThinkingTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.elapsed = t.now().Sub(t.started)
	if t.elapsed <= 0 {
		// keep the once-only guard effective even on a coarse clock
		t.elapsed = time.Nanosecond
	}
	t.running = false
}

// Elapsed returns the live duration while running and the frozen one afterward.
func (t *ThinkingTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.now().Sub(t.started)
	}
	return t.elapsed
}

// IsRunning reports whether the timer is measuring.
func (t *ThinkingTimer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Reset clears all timer state.
func (t *ThinkingTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Time{}
	t.elapsed = 0
	t.running = false
}
