package session

import (
	"sync"

	"github.com/airband/gateway/internal/metrics"
)

// FailSink counts SRTP unprotect failures reported through the transport's
// log stream. Once the count exceeds the threshold it fires the notify
// callback exactly once and stays quiet until Reset, so one bad episode
// produces one restart.
type FailSink struct {
	mu        sync.Mutex
	threshold int
	count     int
	fired     bool
	notify    func()
}

// NewFailSink builds a sink that fires after threshold observations have
// been exceeded. A non-positive threshold selects the default.
func NewFailSink(threshold int) *FailSink {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &FailSink{threshold: threshold}
}

// OnThreshold sets the callback invoked on the observation that crosses the
// threshold. The callback runs on the observer's goroutine and must not
// block.
func (s *FailSink) OnThreshold(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Observe records one failure event.
func (s *FailSink) Observe() {
	metrics.SrtpFailures.Inc()

	s.mu.Lock()
	s.count++
	shouldFire := !s.fired && s.count > s.threshold
	if shouldFire {
		s.fired = true
	}
	notify := s.notify
	s.mu.Unlock()

	if shouldFire && notify != nil {
		notify()
	}
}

// Reset clears the counter and re-arms the notification.
func (s *FailSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.fired = false
}

// Count returns the failures observed since the last Reset.
func (s *FailSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
