package tickets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeferRuns(t *testing.T) {
	done := make(chan struct{})
	Defer(10*time.Millisecond, "test", func() error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred task never ran")
	}
}

func TestDeferCancel(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := Defer(50*time.Millisecond, "test", func() error {
		ran <- struct{}{}
		return nil
	})
	task.Cancel()

	select {
	case <-ran:
		t.Fatal("cancelled task still ran")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDeferCancelAfterFire(t *testing.T) {
	task := Defer(time.Millisecond, "test", func() error { return nil })
	time.Sleep(50 * time.Millisecond)

	// Cancelling a finished task is a no-op.
	assert.NotPanics(t, func() { task.Cancel() })
}
