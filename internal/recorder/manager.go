package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"livedownload/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	// ErrStreamNotLive is returned when a start request points at a closed
	// playlist. Master playlists are accepted; they resolve to their best
	// variant at session start.
	ErrStreamNotLive = errors.New("stream is not live")

	// ErrRecordingNotFound is returned for operations on unknown recording ids.
	ErrRecordingNotFound = errors.New("recording not found")
)

// ManagerConfig carries the shared collaborators every session uses. The
// Store is the single scratch root passed explicitly into each session;
// scratch directory names are timestamped so concurrent sessions sharing the
// root cannot collide.
type ManagerConfig struct {
	Store     Store
	Fetcher   ManifestFetcher
	Transport SegmentTransport
	Settings  Settings
	Scheduler Scheduler
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Events is an optional extra subscriber chained after the manager's own
	// instrumentation.
	Events       Events
	PollInterval time.Duration
}

// Manager owns the id -> session map behind the HTTP control surface.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns a manager for cfg.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil || cfg.Fetcher == nil || cfg.Transport == nil {
		return nil, errors.New("manager requires a store, fetcher, and transport")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Check probes rawURL and reports its playlist type and whether it is
// recordable as a live stream.
func (m *Manager) Check(ctx context.Context, rawURL string) (PlaylistType, bool) {
	return CheckLive(ctx, m.cfg.Fetcher, rawURL)
}

// StartRecording classifies rawURL, creates a session for it, and starts
// recording. Closed playlists are rejected; anything that prevents the
// session from starting (storage permission above all) is returned as an
// error and no session is retained.
func (m *Manager) StartRecording(ctx context.Context, rawURL, baseName, codec string) (string, error) {
	t, live := m.Check(ctx, rawURL)
	if !live && t != Master {
		return "", fmt.Errorf("%w: playlist classified as %s", ErrStreamNotLive, t)
	}

	session, err := NewSession(SessionConfig{
		URL:          rawURL,
		BaseName:     baseName,
		Codec:        codec,
		Store:        m.cfg.Store,
		Fetcher:      m.cfg.Fetcher,
		Transport:    m.cfg.Transport,
		Settings:     m.cfg.Settings,
		Scheduler:    m.cfg.Scheduler,
		Events:       m.instrumented(baseName),
		Logger:       m.log,
		PollInterval: m.cfg.PollInterval,
	})
	if err != nil {
		return "", err
	}
	// The caller's ctx is typically request-scoped and dies as soon as the
	// start response is written. The session must outlive it: its only stop
	// paths are StopRecording and the stream's own end-of-list marker.
	if err := session.Start(context.WithoutCancel(ctx), nil); err != nil {
		return "", err
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncRecordingsStarted()
	}
	m.log.Info("recording registered", slog.String("id", id), slog.String("url", rawURL))
	return id, nil
}

// StopRecording requests a cooperative stop of the given recording. The
// caller is responsible for having confirmed the stop with the user.
func (m *Manager) StopRecording(id string) error {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrRecordingNotFound
	}
	session.Stop()
	return nil
}

// Get returns a snapshot of one recording.
func (m *Manager) Get(id string) (Status, bool) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return session.Snapshot(), true
}

// List returns snapshots of all recordings keyed by id.
func (m *Manager) List() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.sessions))
	for id, session := range m.sessions {
		out[id] = session.Snapshot()
	}
	return out
}

// ActiveCount returns the number of sessions that have not reached Done.
// Used for the metrics gauge.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, session := range m.sessions {
		if st := session.Snapshot(); st.State == Active || st.State == Stopping {
			n++
		}
	}
	return n
}

// StopAll requests a stop of every active session and waits for them to
// finalize, bounded by ctx. Used on process shutdown so in-flight recordings
// still produce their artifact.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		if s.Snapshot().State == Idle {
			continue
		}
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// instrumented chains the manager's metrics and notification logging in
// front of the configured event subscriber. Notifications are delivered to
// the log as a fire-and-forget sink; their failure can never reach the
// session.
func (m *Manager) instrumented(baseName string) Events {
	user := m.cfg.Events
	met := m.cfg.Metrics
	log := m.log.With(slog.String("recording", baseName))

	return Events{
		OnStateChange: func(from, to SessionState) {
			user.emitStateChange(from, to)
		},
		OnSegmentsDiscovered: func(added, total int) {
			if met != nil {
				met.AddSegmentsDiscovered(added)
			}
			user.emitSegmentsDiscovered(added, total)
		},
		OnBatchStart: func(b Batch) {
			if met != nil {
				met.IncBatchesStarted()
			}
			user.emitBatchStart(b)
		},
		OnBatchDone: func(b Batch) {
			if met != nil && b.Status == BatchFailed {
				met.IncBatchFailures()
			}
			user.emitBatchDone(b)
		},
		OnDuration: func(elapsed time.Duration) {
			user.emitDuration(elapsed)
		},
		OnNotify: func(severity Severity, message string) {
			switch severity {
			case NotifyWarning:
				log.Warn(message)
			default:
				log.Info(message)
			}
			user.emitNotify(severity, message)
		},
		OnFinished: func(s Summary) {
			if met != nil {
				met.IncRecordingsFinished()
				met.AddBatchesSkipped(s.SkippedBatches)
			}
			user.emitFinished(s)
		},
	}
}
