package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// BatchRecorder drives the external transport for one batch: it fetches a
// bounded group of segments into a sink, racing the transport call against a
// timeout. Whichever settles first wins; the loser is ignored, not cancelled,
// so an abandoned transport releases its resources on its own (its writes
// land on an already-closed sink).
type BatchRecorder struct {
	transport SegmentTransport
	log       *slog.Logger
}

// NewBatchRecorder returns a recorder using transport. log may be nil.
func NewBatchRecorder(transport SegmentTransport, log *slog.Logger) *BatchRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &BatchRecorder{transport: transport, log: log}
}

// Run fetches b's segments into sink, bounded by timeout. The sink is closed
// on every exit path; double-close attempts are tolerated. A non-nil error
// means the batch failed (transport error or timeout); callers mark the
// batch and continue, they never abort the session over it.
func (r *BatchRecorder) Run(ctx context.Context, b Batch, sink io.WriteCloser, opts TransportOptions, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}

	done := make(chan error, 1)
	go func() {
		done <- r.transport.FetchInto(ctx, b.Segments, sink, opts)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("batch %d timed out after %s", b.Sequence, timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	closeQuietly(sink)

	if err != nil {
		r.log.Warn("batch failed",
			slog.Int("batch", b.Sequence),
			slog.Int("segments", len(b.Segments)),
			slog.String("error", err.Error()))
		return err
	}

	r.log.Debug("batch complete",
		slog.Int("batch", b.Sequence),
		slog.Int("segments", len(b.Segments)))
	return nil
}

// closeQuietly closes c and swallows the error; "already closed" is an
// expected outcome when the transport or a previous path closed the sink
// first.
func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}
