package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

var (
	// ErrSessionStarted is returned when Start is called on a session that
	// already left Idle.
	ErrSessionStarted = errors.New("session already started")

	// ErrStorageUnavailable is returned when the store fails its writability
	// probe at start. This is the only condition allowed to abort a
	// recording outright.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// SessionConfig carries the collaborators and tuning for one recording
// session. Store, Fetcher and Transport are required; everything else has a
// default.
type SessionConfig struct {
	// URL is the playlist to record. A master playlist is resolved to its
	// best media playlist at start.
	URL string
	// BaseName names the final artifact (<BaseName>.ts) and the scratch
	// directory and batch files derived from it.
	BaseName string
	// Codec is forwarded opaquely to the transport.
	Codec string

	Store     Store
	Fetcher   ManifestFetcher
	Transport SegmentTransport
	Settings  Settings
	Scheduler Scheduler
	Events    Events
	Logger    *slog.Logger

	PollInterval     time.Duration
	DurationInterval time.Duration
}

// Session records one live stream: it polls the manifest for newly appended
// segments, drains them into bounded batches, and on stop concatenates all
// batch files into one contiguous artifact.
//
// The session owns its Tracker, batch list, scratch directory and output sink
// exclusively. All batching runs on a single control flow: a poll tick that
// cuts a batch awaits that batch before the next cut, so no two batch fetches
// ever run concurrently for the same session.
type Session struct {
	cfg      SessionConfig
	log      *slog.Logger
	events   Events
	tracker  *Tracker
	recorder *BatchRecorder

	mu             sync.Mutex
	state          SessionState
	currentURL     string
	baseURL        *url.URL
	batches        []Batch
	failedBatches  int
	skippedBatches int
	startedAt      time.Time

	scratchDir string
	outputName string
	output     io.WriteCloser

	ticks          chan struct{}
	stopCh         chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
	cancelPoll     func()
	cancelDuration func()
}

// NewSession returns an Idle session for cfg.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.URL == "" || cfg.BaseName == "" {
		return nil, errors.New("session requires a URL and a base name")
	}
	if cfg.Store == nil || cfg.Fetcher == nil || cfg.Transport == nil {
		return nil, errors.New("session requires a store, fetcher, and transport")
	}
	if cfg.Settings == nil {
		cfg.Settings = EnvSettings{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickScheduler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DurationInterval <= 0 {
		cfg.DurationInterval = time.Second
	}

	log := cfg.Logger.With(slog.String("recording", cfg.BaseName))
	return &Session{
		cfg:        cfg,
		log:        log,
		events:     cfg.Events,
		tracker:    NewTracker(),
		recorder:   NewBatchRecorder(cfg.Transport, log),
		state:      Idle,
		currentURL: cfg.URL,
		ticks:      make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start transitions Idle -> Active: it verifies storage, resolves a master
// playlist to its best media playlist if needed, acquires the scratch
// directory and output sink, seeds the tracker with initial, cuts an
// immediate first batch when segments are already pending, and begins the
// poll and duration tickers.
//
// When the URL turns out to be a master playlist, initial is discarded: those
// segments were gathered against the master URL and belong to a different
// manifest.
//
// ctx bounds the whole session, not just the start work: cancelling it
// finalizes the recording. Callers holding only a short-lived context must
// detach it before starting.
func (s *Session) Start(ctx context.Context, initial []Segment) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.mu.Unlock()

	if err := s.cfg.Store.Writable(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if resolved, err := ResolveBest(ctx, s.cfg.Fetcher, s.cfg.URL); err != nil {
		// Transient manifest trouble at start is not fatal; polling retries.
		s.log.Warn("start-time manifest fetch failed", slog.String("error", err.Error()))
	} else if resolved != "" && resolved != s.cfg.URL {
		s.log.Info("master playlist resolved", slog.String("media_url", resolved))
		s.mu.Lock()
		s.currentURL = resolved
		s.mu.Unlock()
		initial = nil
	}

	base, err := url.Parse(s.pollURL())
	if err != nil {
		return fmt.Errorf("parse playlist url: %w", err)
	}

	scratch := fmt.Sprintf("%s_%s_components", s.cfg.BaseName, time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := s.cfg.Store.EnsureDir(scratch); err != nil {
		return fmt.Errorf("%w: create scratch directory: %v", ErrStorageUnavailable, err)
	}
	outputName := s.cfg.BaseName + ".ts"
	output, err := s.cfg.Store.Create("", outputName)
	if err != nil {
		return fmt.Errorf("%w: open output file: %v", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	s.baseURL = base
	s.scratchDir = scratch
	s.outputName = outputName
	s.output = output
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.tracker.IngestInitial(initial)
	s.setState(Active)
	s.log.Info("recording started",
		slog.String("url", base.String()),
		slog.Int("initial_segments", s.tracker.PendingCount()))

	if s.tracker.PendingCount() > 0 {
		s.cutBatch(ctx)
	}

	s.cancelPoll = s.cfg.Scheduler.Schedule(s.cfg.PollInterval, func() {
		select {
		case s.ticks <- struct{}{}:
		default: // a tick is already queued; discovery will catch up
		}
	})
	s.cancelDuration = s.cfg.Scheduler.Schedule(s.cfg.DurationInterval, func() {
		s.events.emitDuration(time.Since(s.StartedAt()))
	})

	go s.run(ctx)
	return nil
}

// Stop requests a user-initiated stop. It is cooperative: the session honors
// it on its control loop and always runs the flush, concatenate, and cleanup
// tail. Stop is a no-op unless the session is Active.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setState(Stopping)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// StartedAt returns the session start time (zero before Start).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:           s.state,
		URL:             s.currentURL,
		BaseName:        s.cfg.BaseName,
		TotalSegments:   s.tracker.SeenCount(),
		PendingSegments: s.tracker.PendingCount(),
		Batches:         len(s.batches),
		FailedBatches:   s.failedBatches,
		SkippedBatches:  s.skippedBatches,
		StartedAt:       s.startedAt,
	}
	if !s.startedAt.IsZero() {
		st.Elapsed = time.Since(s.startedAt)
	}
	return st
}

// run is the session's single control flow. Each loop iteration handles one
// poll tick or the stop request; batch fetches are awaited inline, so ticks
// arriving while a batch is in flight only queue further discovery.
func (s *Session) run(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			s.finalize(ctx)
			return
		case <-ctx.Done():
			s.finalize(ctx)
			return
		case <-s.ticks:
			if s.check(ctx) {
				s.finalize(ctx)
				return
			}
		}
	}
}

// check performs one poll tick: it fetches the manifest, detects stream end,
// ingests newly discovered segments, and cuts one batch when enough are
// pending. It returns true when the stream ended and the session must
// finalize. A failed fetch or parse only skips the tick; it is not an
// end-of-stream signal.
func (s *Session) check(ctx context.Context) (ended bool) {
	manifest, err := s.cfg.Fetcher.Fetch(ctx, s.pollURL())
	if err != nil {
		s.log.Warn("manifest poll failed, skipping tick", slog.String("error", err.Error()))
		return false
	}

	t, segments, err := inspect(manifest)
	if err != nil {
		s.log.Warn("manifest parse failed, skipping tick", slog.String("error", err.Error()))
		return false
	}
	if t == Master {
		s.log.Warn("manifest unexpectedly became a master playlist, skipping tick")
		return false
	}

	added := s.tracker.IngestPoll(segments, s.baseURL)
	if added > 0 {
		total := s.tracker.SeenCount()
		s.log.Debug("segments discovered",
			slog.Int("added", added),
			slog.Int("total", total),
			slog.Int("pending", s.tracker.PendingCount()))
		s.events.emitSegmentsDiscovered(added, total)
	}

	if t == Closed {
		// The closing manifest's segments were ingested above; finalize
		// flushes them.
		s.log.Info("stream ended (end-of-list)")
		s.setState(Stopping)
		return true
	}

	if s.tracker.PendingCount() >= s.batchSize() {
		s.cutBatch(ctx)
	}
	return false
}

// cutBatch drains up to one batch size of segments from the front of the
// pending queue, in FIFO order, and downloads them into a fresh batch file.
// A failed batch is kept as a placeholder and the session continues.
func (s *Session) cutBatch(ctx context.Context) {
	segments := s.tracker.Drain(s.batchSize())
	if len(segments) == 0 {
		return
	}

	s.mu.Lock()
	seq := len(s.batches) + 1
	b := Batch{
		Sequence: seq,
		Segments: segments,
		FileName: fmt.Sprintf("%s_%03d.ts", s.cfg.BaseName, seq),
		Status:   BatchPending,
	}
	s.batches = append(s.batches, b)
	scratch := s.scratchDir
	s.mu.Unlock()

	s.log.Info("batch started",
		slog.Int("batch", seq),
		slog.Int("segments", len(segments)),
		slog.String("file", b.FileName))
	s.events.emitBatchStart(b)

	opts := TransportOptions{
		Codec:          s.cfg.Codec,
		Threads:        s.cfg.Settings.LiveThreads(),
		SegmentTimeout: s.cfg.Settings.SegmentTimeout(),
		Retries:        s.cfg.Settings.FetchRetries(),
	}

	var runErr error
	sink, err := s.cfg.Store.OpenAppend(scratch, b.FileName)
	if err != nil {
		runErr = fmt.Errorf("open batch file: %w", err)
	} else {
		runErr = s.recorder.Run(ctx, b, sink, opts, s.cfg.Settings.BatchTimeout())
	}

	s.mu.Lock()
	if runErr != nil {
		s.batches[seq-1].Status = BatchFailed
		s.failedBatches++
	} else {
		s.batches[seq-1].Status = BatchSucceeded
	}
	b = s.batches[seq-1]
	s.mu.Unlock()

	if runErr != nil {
		s.events.emitNotify(NotifyWarning,
			fmt.Sprintf("batch %d failed: %v; continuing with remaining batches", seq, runErr))
	}
	s.events.emitBatchDone(b)
}

// finalize runs the stop tail: cancel both tickers, flush whatever is still
// pending, concatenate the batch files into the output, and clean up the
// scratch directory. Finalization is best-effort and always reaches Done.
func (s *Session) finalize(ctx context.Context) {
	s.setState(Stopping)
	if s.cancelPoll != nil {
		s.cancelPoll()
	}
	if s.cancelDuration != nil {
		s.cancelDuration()
	}

	for s.tracker.PendingCount() > 0 {
		s.cutBatch(ctx)
	}

	s.mu.Lock()
	batches := make([]Batch, len(s.batches))
	copy(batches, s.batches)
	scratch := s.scratchDir
	output := s.output
	s.mu.Unlock()

	res := concatenate(s.cfg.Store, scratch, batches, output, s.log)
	if res.Skipped > 0 {
		s.events.emitNotify(NotifyWarning,
			fmt.Sprintf("%d batch(es) were skipped due to errors; %d batches successfully concatenated", res.Skipped, res.Copied))
	}

	cleanup(s.cfg.Store, scratch, batches, s.log)

	s.mu.Lock()
	s.skippedBatches = res.Skipped
	total := s.tracker.SeenCount()
	outputName := s.outputName
	s.mu.Unlock()

	s.setState(Done)
	s.events.emitNotify(NotifySuccess,
		fmt.Sprintf("recording complete: %d segments saved to %s", total, outputName))
	s.events.emitFinished(Summary{
		TotalSegments:  total,
		Batches:        len(batches),
		FailedBatches:  s.failedCount(),
		SkippedBatches: res.Skipped,
		OutputName:     outputName,
	})
	close(s.done)
}

func (s *Session) batchSize() int {
	if n := s.cfg.Settings.BatchSize(); n > 0 {
		return n
	}
	return DefaultBatchSize
}

func (s *Session) pollURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

func (s *Session) failedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedBatches
}

// setState advances the state machine. Transitions never move backwards and
// Done is terminal; redundant calls are no-ops.
func (s *Session) setState(to SessionState) {
	s.mu.Lock()
	from := s.state
	if from == to || from == Done || to < from {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.log.Info("session state",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	s.events.emitStateChange(from, to)
}
