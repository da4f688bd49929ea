package recorder

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTickScheduler_fires_and_cancels(t *testing.T) {
	var fired atomic.Int32
	cancel := TickScheduler{}.Schedule(5*time.Millisecond, func() {
		fired.Add(1)
	})

	deadline := time.Now().Add(time.Second)
	for fired.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() < 2 {
		t.Fatal("scheduled task did not fire")
	}

	cancel()
	after := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() > after+1 {
		t.Errorf("task kept firing after cancel: %d -> %d", after, fired.Load())
	}

	cancel() // idempotent
}
