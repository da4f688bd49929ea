package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// sequenceFetcher serves one manifest per Fetch call, repeating the last one
// once the script runs out.
type sequenceFetcher struct {
	mu        sync.Mutex
	manifests []string
	i         int
	urls      []string
}

func (f *sequenceFetcher) Fetch(_ context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.urls = append(f.urls, rawURL)
	if len(f.manifests) == 0 {
		return "", errors.New("no manifest scripted")
	}
	m := f.manifests[f.i]
	if f.i < len(f.manifests)-1 {
		f.i++
	}
	return m, nil
}

// manualScheduler hands the scheduled tasks back to the test so ticks are
// driven explicitly.
type manualScheduler struct {
	mu        sync.Mutex
	tasks     []func()
	cancelled int
}

func (s *manualScheduler) Schedule(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	s.tasks = append(s.tasks, fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
	}
}

// tick fires the first scheduled task, the session's poll.
func (s *manualScheduler) tick(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		t.Fatal("no poll task scheduled")
	}
	s.tasks[0]()
}

func (s *manualScheduler) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// eventLog collects session events behind a mutex.
type eventLog struct {
	mu       sync.Mutex
	notices  []string
	finished []Summary
}

func (e *eventLog) events() Events {
	return Events{
		OnNotify: func(_ Severity, msg string) {
			e.mu.Lock()
			e.notices = append(e.notices, msg)
			e.mu.Unlock()
		},
		OnFinished: func(s Summary) {
			e.mu.Lock()
			e.finished = append(e.finished, s)
			e.mu.Unlock()
		},
	}
}

func (e *eventLog) summaries() []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Summary, len(e.finished))
	copy(out, e.finished)
	return out
}

func (e *eventLog) notifications() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.notices))
	copy(out, e.notices)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestSession(t *testing.T, fetcher ManifestFetcher, transport SegmentTransport, batchSize int) (*Session, *FsStore, *manualScheduler, *eventLog) {
	t.Helper()

	store := NewFsStore(afero.NewMemMapFs(), "out")
	sched := &manualScheduler{}
	ev := &eventLog{}
	s, err := NewSession(SessionConfig{
		URL:       "http://cdn/live.m3u8",
		BaseName:  "show",
		Store:     store,
		Fetcher:   fetcher,
		Transport: transport,
		Settings:  StaticSettings{Batch: batchSize, BatchTO: 5 * time.Second},
		Scheduler: sched,
		Events:    ev.events(),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, store, sched, ev
}

func TestSession_full_lifecycle(t *testing.T) {
	live9 := buildMediaPlaylist(segmentURIs(0, 9), false)
	live10 := buildMediaPlaylist(segmentURIs(0, 10), false)
	ended10 := buildMediaPlaylist(segmentURIs(0, 10), true)
	fetcher := &sequenceFetcher{manifests: []string{
		live9,   // resolve at start: media playlist, pass-through
		live9,   // tick 1
		live10,  // tick 2
		ended10, // tick 3: end marker
	}}
	s, store, sched, ev := newTestSession(t, fetcher, &fakeTransport{}, 4)

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Snapshot().State; got != Active {
		t.Fatalf("state after start = %s, want active", got)
	}

	sched.tick(t)
	waitFor(t, func() bool {
		st := s.Snapshot()
		return st.Batches == 1 && st.PendingSegments == 5
	}, "first batch cut")

	sched.tick(t)
	waitFor(t, func() bool {
		st := s.Snapshot()
		return st.Batches == 2 && st.PendingSegments == 2
	}, "second batch cut")

	sched.tick(t)
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finalize on end-of-list")
	}

	st := s.Snapshot()
	if st.State != Done {
		t.Errorf("final state = %s, want done", st.State)
	}
	if st.TotalSegments != 10 {
		t.Errorf("total segments = %d, want 10", st.TotalSegments)
	}
	if st.Batches != 3 {
		t.Errorf("batches = %d, want 3 (4+4+2)", st.Batches)
	}
	if st.PendingSegments != 0 {
		t.Errorf("pending = %d, want 0 after flush", st.PendingSegments)
	}

	// output holds every segment in discovery order
	data, err := store.ReadAll("", "show.ts")
	if err != nil {
		t.Fatalf("ReadAll output: %v", err)
	}
	var want strings.Builder
	for _, uri := range segmentURIs(0, 10) {
		want.WriteString("http://cdn/" + uri + "|")
	}
	if string(data) != want.String() {
		t.Errorf("output = %q, want %q", data, want.String())
	}

	// scratch files are gone
	if _, err := store.Size(scratchDirOf(s), "show_001.ts"); err == nil {
		t.Error("scratch batch file should be removed")
	}

	if sched.cancelCount() < 2 {
		t.Errorf("both tickers should be cancelled, got %d", sched.cancelCount())
	}
	summaries := ev.summaries()
	if len(summaries) != 1 || summaries[0].TotalSegments != 10 || summaries[0].Batches != 3 {
		t.Errorf("finish summary = %+v", summaries)
	}
}

func scratchDirOf(s *Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scratchDir
}

func TestSession_batch_cut_threshold(t *testing.T) {
	fetcher := &sequenceFetcher{manifests: []string{
		buildMediaPlaylist(nil, false), // resolve at start
		buildMediaPlaylist(segmentURIs(0, 15), false),
		buildMediaPlaylist(segmentURIs(0, 30), false),
		buildMediaPlaylist(segmentURIs(0, 45), false),
	}}
	s, _, sched, _ := newTestSession(t, fetcher, &fakeTransport{}, 20)

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sched.tick(t)
	waitFor(t, func() bool { return s.Snapshot().PendingSegments == 15 }, "15 discovered")
	if got := s.Snapshot().Batches; got != 0 {
		t.Fatalf("batches = %d before threshold, want 0", got)
	}

	sched.tick(t)
	waitFor(t, func() bool {
		st := s.Snapshot()
		return st.Batches == 1 && st.PendingSegments == 10
	}, "first full batch")

	sched.tick(t)
	waitFor(t, func() bool {
		st := s.Snapshot()
		return st.Batches == 2 && st.PendingSegments == 5
	}, "second full batch")

	if got := s.Snapshot().TotalSegments; got != 45 {
		t.Errorf("total = %d, want 45", got)
	}

	s.Stop()
	<-s.Done()
}

func TestSession_stop_flushes_partial_batch(t *testing.T) {
	live := buildMediaPlaylist(segmentURIs(0, 7), false)
	fetcher := &sequenceFetcher{manifests: []string{live}}
	s, store, sched, _ := newTestSession(t, fetcher, &fakeTransport{}, 20)

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.tick(t)
	waitFor(t, func() bool { return s.Snapshot().PendingSegments == 7 }, "segments discovered")

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finalize on stop")
	}

	st := s.Snapshot()
	if st.Batches != 1 {
		t.Errorf("batches = %d, want 1 final flush", st.Batches)
	}
	data, err := store.ReadAll("", "show.ts")
	if err != nil {
		t.Fatalf("ReadAll output: %v", err)
	}
	if n := strings.Count(string(data), "|"); n != 7 {
		t.Errorf("output holds %d segments, want 7", n)
	}
}

func TestSession_rerecord_same_name_starts_clean(t *testing.T) {
	store := NewFsStore(afero.NewMemMapFs(), "out")

	record := func(from int) {
		t.Helper()
		fetcher := &sequenceFetcher{manifests: []string{
			buildMediaPlaylist(segmentURIs(from, 2), false),
		}}
		sched := &manualScheduler{}
		s, err := NewSession(SessionConfig{
			URL:       "http://cdn/live.m3u8",
			BaseName:  "show",
			Store:     store,
			Fetcher:   fetcher,
			Transport: &fakeTransport{},
			Settings:  StaticSettings{Batch: 20},
			Scheduler: sched,
			Logger:    discardLogger(),
		})
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := s.Start(context.Background(), nil); err != nil {
			t.Fatalf("Start: %v", err)
		}
		sched.tick(t)
		waitFor(t, func() bool { return s.Snapshot().PendingSegments == 2 }, "segments discovered")
		s.Stop()
		<-s.Done()
	}

	record(0)
	record(100)

	data, err := store.ReadAll("", "show.ts")
	if err != nil {
		t.Fatalf("ReadAll output: %v", err)
	}
	want := "http://cdn/seg100.ts|http://cdn/seg101.ts|"
	if string(data) != want {
		t.Errorf("artifact = %q, want only the second recording's bytes %q", data, want)
	}
}

func TestSession_master_url_resolved_and_initial_discarded(t *testing.T) {
	master := buildMasterPlaylist([]testVariant{
		{bandwidth: 800000, resolution: "1280x720", uri: "720p.m3u8"},
		{bandwidth: 2000000, resolution: "1920x1080", uri: "1080p.m3u8"},
	})
	live := buildMediaPlaylist(segmentURIs(0, 2), false)
	fetcher := &scriptedFetcher{byURL: map[string]string{
		"http://cdn/live.m3u8":  master,
		"http://cdn/1080p.m3u8": live,
	}}
	s, _, sched, _ := newTestSession(t, fetcher, &fakeTransport{}, 20)

	initial := []Segment{{URI: "stale.ts", ResolvedURL: "http://cdn/stale.ts"}}
	if err := s.Start(context.Background(), initial); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := s.Snapshot()
	if st.URL != "http://cdn/1080p.m3u8" {
		t.Errorf("session URL = %s, want resolved media URL", st.URL)
	}
	if st.TotalSegments != 0 {
		t.Errorf("initial segments should be discarded on resolution, seen = %d", st.TotalSegments)
	}

	sched.tick(t)
	waitFor(t, func() bool { return s.Snapshot().TotalSegments == 2 }, "segments from media playlist")
}

func TestSession_parse_failure_skips_tick(t *testing.T) {
	live := buildMediaPlaylist(segmentURIs(0, 2), false)
	fetcher := &sequenceFetcher{manifests: []string{
		live,              // resolve at start
		"#corrupt {{{{{ ", // tick 1: unparseable
		live,              // tick 2: recovered
	}}
	s, _, sched, _ := newTestSession(t, fetcher, &fakeTransport{}, 20)

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sched.tick(t)
	waitFor(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return len(fetcher.urls) >= 2
	}, "first tick polled")
	if st := s.Snapshot(); st.State != Active {
		t.Fatalf("state after corrupt manifest = %s, want active", st.State)
	}

	sched.tick(t)
	waitFor(t, func() bool { return s.Snapshot().TotalSegments == 2 }, "recovery on next tick")
}

func TestSession_failed_batch_is_skipped_not_fatal(t *testing.T) {
	live := buildMediaPlaylist(segmentURIs(0, 3), false)
	fetcher := &sequenceFetcher{manifests: []string{live}}
	transport := &fakeTransport{err: errors.New("network down")}
	s, store, sched, ev := newTestSession(t, fetcher, transport, 20)

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.tick(t)
	waitFor(t, func() bool { return s.Snapshot().PendingSegments == 3 }, "segments discovered")

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finalize")
	}

	st := s.Snapshot()
	if st.FailedBatches != 1 {
		t.Errorf("failed batches = %d, want 1", st.FailedBatches)
	}
	if st.SkippedBatches != 1 {
		t.Errorf("skipped batches = %d, want 1", st.SkippedBatches)
	}
	if st.State != Done {
		t.Errorf("state = %s, want done despite the failure", st.State)
	}
	data, err := store.ReadAll("", "show.ts")
	if err != nil {
		t.Fatalf("ReadAll output: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("output should be empty, got %q", data)
	}

	var sawContinue bool
	for _, n := range ev.notifications() {
		if strings.Contains(n, "continuing") {
			sawContinue = true
		}
	}
	if !sawContinue {
		t.Error("expected a continuing-after-failure notification")
	}
}

func TestSession_start_requires_writable_storage(t *testing.T) {
	fetcher := &sequenceFetcher{manifests: []string{buildMediaPlaylist(nil, false)}}
	sched := &manualScheduler{}
	s, err := NewSession(SessionConfig{
		URL:       "http://cdn/live.m3u8",
		BaseName:  "show",
		Store:     NewFsStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "out"),
		Fetcher:   fetcher,
		Transport: &fakeTransport{},
		Scheduler: sched,
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Start(context.Background(), nil); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Start = %v, want ErrStorageUnavailable", err)
	}
	if st := s.Snapshot().State; st != Idle {
		t.Errorf("state = %s, want idle after failed start", st)
	}
}

func TestSession_start_twice(t *testing.T) {
	live := buildMediaPlaylist(segmentURIs(0, 1), false)
	fetcher := &sequenceFetcher{manifests: []string{live}}
	s, _, _, _ := newTestSession(t, fetcher, &fakeTransport{}, 20)

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), nil); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("second Start = %v, want ErrSessionStarted", err)
	}
	s.Stop()
	<-s.Done()
}
