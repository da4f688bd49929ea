package recorder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"
)

// TransportOptions tunes one batch fetch. Codec is forwarded opaquely; the
// transport itself treats segment payloads as bytes.
type TransportOptions struct {
	Codec          string
	Threads        int
	SegmentTimeout time.Duration
	Retries        int
}

// SegmentTransport fetches an ordered list of segments and writes their
// payloads to a sink in that order. Success or failure is reported for the
// batch as a whole, not per segment.
type SegmentTransport interface {
	FetchInto(ctx context.Context, segments []Segment, sink io.Writer, opts TransportOptions) error
}

// HTTPSegmentTransport downloads segments over HTTP with a bounded worker
// pool. Segments download concurrently into per-segment buffers and are
// written to the sink strictly in slice order.
type HTTPSegmentTransport struct {
	client *http.Client
}

// NewHTTPSegmentTransport returns a transport using client.
func NewHTTPSegmentTransport(client *http.Client) *HTTPSegmentTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSegmentTransport{client: client}
}

// FetchInto implements SegmentTransport.
func (t *HTTPSegmentTransport) FetchInto(ctx context.Context, segments []Segment, sink io.Writer, opts TransportOptions) error {
	if len(segments) == 0 {
		return nil
	}

	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}

	buffers := make([][]byte, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			data, err := t.fetchSegment(gctx, seg, opts)
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg.ResolvedURL, err)
			}
			buffers[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, data := range buffers {
		if _, err := sink.Write(data); err != nil {
			return fmt.Errorf("write segment payload: %w", err)
		}
	}
	return nil
}

func (t *HTTPSegmentTransport) fetchSegment(ctx context.Context, seg Segment, opts TransportOptions) ([]byte, error) {
	attempts := opts.Retries
	if attempts < 1 {
		attempts = 1
	}

	var payload []byte
	err := retry.Do(
		func() error {
			reqCtx := ctx
			cancel := context.CancelFunc(func() {})
			if opts.SegmentTimeout > 0 {
				reqCtx, cancel = context.WithTimeout(ctx, opts.SegmentTimeout)
			}
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, seg.ResolvedURL, nil)
			if err != nil {
				return err
			}
			resp, err := t.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			payload, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(250*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
