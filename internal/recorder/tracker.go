package recorder

import (
	"net/url"
	"sync"
)

// Tracker maintains the de-duplicated, append-only set of segments discovered
// so far and the FIFO queue of segments not yet flushed to a batch. The seen
// set only grows; a resolved URL is never queued twice, so the multiset of
// URLs drained across a session equals the seen set, in discovery order.
type Tracker struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	pending []Segment
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// IngestInitial adds a caller-supplied starting set, e.g. segments already
// visible at session start. Segments without a resolved URL fall back to
// their raw URI as identity. Duplicates are silently ignored.
func (t *Tracker) IngestInitial(segments []Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, seg := range segments {
		if seg.ResolvedURL == "" {
			seg.ResolvedURL = seg.URI
		}
		t.addLocked(seg)
	}
}

// IngestPoll resolves each segment's URI against base and appends every
// not-yet-seen segment to the pending queue, in manifest order. It returns
// the count of newly added segments, which callers use for observability
// only.
func (t *Tracker) IngestPoll(segments []Segment, base *url.URL) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, seg := range segments {
		seg.ResolvedURL = seg.URI
		if base != nil {
			if u, err := base.Parse(seg.URI); err == nil {
				seg.ResolvedURL = u.String()
			}
		}
		if t.addLocked(seg) {
			added++
		}
	}
	return added
}

// Drain removes and returns up to max segments from the front of the pending
// queue, preserving order. An empty result is not an error.
func (t *Tracker) Drain(max int) []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	if max <= 0 || len(t.pending) == 0 {
		return nil
	}
	if max > len(t.pending) {
		max = len(t.pending)
	}
	drained := make([]Segment, max)
	copy(drained, t.pending[:max])
	t.pending = t.pending[max:]
	return drained
}

// PendingCount returns the number of segments waiting for a batch.
func (t *Tracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// SeenCount returns the number of distinct segments ever discovered.
func (t *Tracker) SeenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.seen)
}

// addLocked records seg if its resolved URL is new. Caller must hold t.mu in
// write mode.
func (t *Tracker) addLocked(seg Segment) bool {
	if seg.ResolvedURL == "" {
		return false
	}
	if _, exists := t.seen[seg.ResolvedURL]; exists {
		return false
	}
	t.seen[seg.ResolvedURL] = struct{}{}
	t.pending = append(t.pending, seg)
	return true
}
