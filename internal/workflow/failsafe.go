package workflow

import (
	"sync"
	"time"
)

// FailsafeArmer owns the one-shot staleness timer. Re-armed after the end of
// every sync of any kind, it bounds how stale the store can get when both the
// feed path and manual triggers go quiet.
type FailsafeArmer struct {
	mu       sync.Mutex
	interval time.Duration
	fire     func()
	timer    *time.Timer
}

// NewFailsafeArmer constructs a disarmed armer. fire runs on its own
// goroutine when the interval elapses.
func NewFailsafeArmer(interval time.Duration, fire func()) *FailsafeArmer {
	return &FailsafeArmer{interval: interval, fire: fire}
}

// Arm starts the countdown, replacing any countdown already running.
func (f *FailsafeArmer) Arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.interval, func() {
		f.mu.Lock()
		f.timer = nil
		f.mu.Unlock()
		f.fire()
	})
}

// Disarm cancels any pending countdown.
func (f *FailsafeArmer) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Armed reports whether a countdown is pending.
func (f *FailsafeArmer) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timer != nil
}
