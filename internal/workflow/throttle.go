package workflow

import (
	"sync"
	"time"
)

// Throttle limits progress notifications to one per interval for each
// (task, stage) pair. Final updates always pass.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[throttleKey]time.Time
}

type throttleKey struct {
	taskID string
	stage  string
}

// NewThrottle returns a throttle with the given minimum interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now, last: make(map[throttleKey]time.Time)}
}

// Allow reports whether a notification for taskID/stage may be sent now and
// records it when so.
func (t *Throttle) Allow(taskID, stage string, final bool) bool {
	key := throttleKey{taskID: taskID, stage: stage}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !final && t.interval > 0 {
		if prev, ok := t.last[key]; ok && now.Sub(prev) < t.interval {
			return false
		}
	}
	t.last[key] = now
	return true
}

// Forget drops every entry of taskID.
func (t *Throttle) Forget(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.last {
		if key.taskID == taskID {
			delete(t.last, key)
		}
	}
}
