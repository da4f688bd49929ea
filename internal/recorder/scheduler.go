package recorder

import (
	"sync"
	"time"
)

// Scheduler abstracts periodic callbacks so the poll cadence and the duration
// display cadence are two independent, separately cancellable tasks. The
// returned cancel function is idempotent.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) (cancel func())
}

// TickScheduler runs each scheduled task on its own goroutine driven by a
// time.Ticker.
type TickScheduler struct{}

// Schedule implements Scheduler.
func (TickScheduler) Schedule(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
