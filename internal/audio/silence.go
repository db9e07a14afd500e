package audio

import (
	"sync"
	"time"
)

// SilenceTimer tracks elapsed silence since the last voice-active sample
// while a segment is being captured. Arming schedules a deadline callback;
// disarming cancels it and resets progress to zero. The deadline fires at
// most once per armed window: the handle is cleared before the callback
// runs, so a stale fire after a disarm can never double-trigger.
// It is safe for concurrent use.
type SilenceTimer struct {
	mu      sync.Mutex
	armedAt time.Time
	timeout time.Duration
	timer   *time.Timer
	gen     uint64 // bumped on every arm/disarm; stale fires check it
}

// NewSilenceTimer creates a new silence timer.
func NewSilenceTimer() *SilenceTimer {
	return &SilenceTimer{}
}

// Arm opens a silence window at now and schedules fire to run after timeout.
// A no-op when a window is already open.
func (t *SilenceTimer) Arm(now time.Time, timeout time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		return
	}

	t.armedAt = now
	t.timeout = timeout
	t.gen++
	gen := t.gen

	t.timer = time.AfterFunc(timeout, func() {
		if !t.consume(gen) {
			return
		}
		fire()
	})
}

// consume clears the timer handle if the firing callback belongs to the
// currently armed window. Reports whether the fire should proceed.
func (t *SilenceTimer) consume(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil || t.gen != gen {
		return false
	}
	t.timer = nil
	t.armedAt = time.Time{}
	return true
}

// Disarm cancels any open silence window, including a pending deadline
// callback mid-countdown.
func (t *SilenceTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armedAt = time.Time{}
	t.gen++
}

// Armed reports whether a silence window is currently open.
func (t *SilenceTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Progress returns normalized progress toward the deadline in [0,1] for the
// given instant, or 0 when no window is open.
func (t *SilenceTimer) Progress(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil {
		return 0
	}
	if t.timeout <= 0 {
		return 1
	}

	p := float64(now.Sub(t.armedAt)) / float64(t.timeout)
	return min(max(p, 0), 1)
}
