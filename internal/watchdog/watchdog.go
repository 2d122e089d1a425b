// Package watchdog provides re-armable silence timers for media liveness
// tracking.
package watchdog

import (
	"sync"
	"time"
)

// Timer fires onExpire whenever interval elapses without a Reset, then
// re-arms itself, so a silent stream keeps firing once per interval until
// Stop. Reset and Stop are safe from any goroutine, including from inside
// onExpire.
type Timer struct {
	mu       sync.Mutex
	interval time.Duration
	onExpire func()

	timer *time.Timer
	armed bool
	gen   uint64
}

// New builds a stopped timer. Start arms it.
func New(interval time.Duration, onExpire func()) *Timer {
	return &Timer{interval: interval, onExpire: onExpire}
}

// Start arms the timer. Starting an armed timer restarts its interval.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
	t.gen++
	t.arm(t.gen)
}

// Reset restarts the interval. Calling Reset on a stopped timer does
// nothing, so late media after Stop cannot re-arm it.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.gen++
	t.arm(t.gen)
}

// Stop disarms the timer. An expiry that has already passed its liveness
// check may invoke the callback one last time; nothing fires after that.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// arm is called with mu held.
func (t *Timer) arm(gen uint64) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.interval, func() { t.expire(gen) })
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if !t.armed || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.arm(gen)
	t.mu.Unlock()
	t.onExpire()
}
