package recorder

import "time"

// Severity classifies a notification for the presentation layer.
type Severity string

const (
	NotifyInfo    Severity = "info"
	NotifyWarning Severity = "warning"
	NotifySuccess Severity = "success"
)

// Events carries the optional callbacks a presentation layer subscribes to.
// The session has no awareness of how progress is displayed: every field may
// be nil, emissions are best-effort, and a callback failure can never affect
// the recording. Callbacks run on the session goroutine and should return
// quickly.
type Events struct {
	OnStateChange        func(from, to SessionState)
	OnSegmentsDiscovered func(added, total int)
	OnBatchStart         func(b Batch)
	OnBatchDone          func(b Batch)
	OnDuration           func(elapsed time.Duration)
	OnNotify             func(severity Severity, message string)
	OnFinished           func(s Summary)
}

func (e Events) emitStateChange(from, to SessionState) {
	if e.OnStateChange != nil {
		e.OnStateChange(from, to)
	}
}

func (e Events) emitSegmentsDiscovered(added, total int) {
	if e.OnSegmentsDiscovered != nil {
		e.OnSegmentsDiscovered(added, total)
	}
}

func (e Events) emitBatchStart(b Batch) {
	if e.OnBatchStart != nil {
		e.OnBatchStart(b)
	}
}

func (e Events) emitBatchDone(b Batch) {
	if e.OnBatchDone != nil {
		e.OnBatchDone(b)
	}
}

func (e Events) emitDuration(elapsed time.Duration) {
	if e.OnDuration != nil {
		e.OnDuration(elapsed)
	}
}

func (e Events) emitNotify(severity Severity, message string) {
	if e.OnNotify != nil {
		e.OnNotify(severity, message)
	}
}

func (e Events) emitFinished(s Summary) {
	if e.OnFinished != nil {
		e.OnFinished(s)
	}
}
