package bucketstore

import (
	"sync/atomic"
	"time"
)

// HealthTracker is a consecutive-failure counter adapted from the
// teacher's three-state circuit breaker. It is deliberately simpler: it
// never gates a TryConsume call (the fail-open/fail-closed decision is
// the caller's, made per call, per spec), it only answers "has the
// store been failing lately" so a gateway can throttle incident logging
// instead of writing one line per request during an outage.
type HealthTracker struct {
	failureThreshold int32
	recoveryTimeout  time.Duration

	consecutiveFailures int32 // atomic
	unhealthySince      int64 // atomic, UnixNano; 0 means healthy
}

// NewHealthTracker constructs a tracker that flips to unhealthy after
// failureThreshold consecutive failures, and back to eligible-for-healthy
// once recoveryTimeout has passed without a fresh failure.
func NewHealthTracker(failureThreshold int32, recoveryTimeout time.Duration) *HealthTracker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 5 * time.Second
	}
	return &HealthTracker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// RecordSuccess clears the failure streak.
func (h *HealthTracker) RecordSuccess() {
	atomic.StoreInt32(&h.consecutiveFailures, 0)
	atomic.StoreInt64(&h.unhealthySince, 0)
}

// RecordFailure bumps the failure streak, marking the tracker unhealthy
// once failureThreshold consecutive failures have been observed.
func (h *HealthTracker) RecordFailure() {
	n := atomic.AddInt32(&h.consecutiveFailures, 1)
	if n >= h.failureThreshold {
		atomic.StoreInt64(&h.unhealthySince, time.Now().UnixNano())
	}
}

// Healthy reports true once recoveryTimeout has elapsed since the store
// was last marked unhealthy, even if no new success has been recorded
// yet — this just re-opens the gate for logging, a genuine RecordSuccess
// still resets the streak immediately.
func (h *HealthTracker) Healthy() bool {
	since := atomic.LoadInt64(&h.unhealthySince)
	if since == 0 {
		return true
	}
	return time.Since(time.Unix(0, since)) >= h.recoveryTimeout
}
