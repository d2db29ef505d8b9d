package tickets

import (
	"log"
	"time"
)

// DeferredTask is a delayed action that can be cancelled before it
// fires. Failures go to the log, never back to the scheduler; the
// caller has long since answered its request by the time fn runs.
type DeferredTask struct {
	timer *time.Timer
}

// Defer schedules fn to run after delay. The name only shows up in
// failure logs.
func Defer(delay time.Duration, name string, fn func() error) *DeferredTask {
	t := &DeferredTask{}
	t.timer = time.AfterFunc(delay, func() {
		if err := fn(); err != nil {
			log.Printf("[Tickets] Deferred task %q failed: %v", name, err)
		}
	})
	return t
}

// Cancel stops the task if it has not fired yet.
func (t *DeferredTask) Cancel() {
	if t != nil && t.timer != nil {
		t.timer.Stop()
	}
}
