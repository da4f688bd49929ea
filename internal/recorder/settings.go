package recorder

import (
	"time"

	"livedownload/internal/platform/config"
)

// Defaults for recording behavior. The batch timeout is a generous ceiling
// meant to catch a stalled transport, not to bound normal operation.
const (
	DefaultBatchSize      = 20
	DefaultLiveThreads    = 1
	DefaultPollInterval   = 3 * time.Second
	DefaultBatchTimeout   = 10 * time.Minute
	DefaultSegmentTimeout = 30 * time.Second
	DefaultFetchRetries   = 3
)

// Settings exposes recording tuning as live values. The session reads each
// value once per batch, so changes take effect between batches without
// restarting the session.
type Settings interface {
	BatchSize() int
	LiveThreads() int
	BatchTimeout() time.Duration
	SegmentTimeout() time.Duration
	FetchRetries() int
}

// EnvSettings reads settings from environment variables on every call.
type EnvSettings struct{}

func (EnvSettings) BatchSize() int {
	return config.GetEnvInt("LIVE_BATCH_SIZE", DefaultBatchSize)
}

func (EnvSettings) LiveThreads() int {
	return config.GetEnvInt("LIVE_THREADS", DefaultLiveThreads)
}

func (EnvSettings) BatchTimeout() time.Duration {
	return config.GetEnvDuration("LIVE_BATCH_TIMEOUT", DefaultBatchTimeout)
}

func (EnvSettings) SegmentTimeout() time.Duration {
	return config.GetEnvDuration("LIVE_SEGMENT_TIMEOUT", DefaultSegmentTimeout)
}

func (EnvSettings) FetchRetries() int {
	return config.GetEnvInt("LIVE_FETCH_RETRIES", DefaultFetchRetries)
}

// StaticSettings is a fixed-value Settings, mainly for tests.
type StaticSettings struct {
	Batch     int
	Threads   int
	BatchTO   time.Duration
	SegmentTO time.Duration
	Retries   int
}

func (s StaticSettings) BatchSize() int {
	if s.Batch <= 0 {
		return DefaultBatchSize
	}
	return s.Batch
}

func (s StaticSettings) LiveThreads() int {
	if s.Threads <= 0 {
		return DefaultLiveThreads
	}
	return s.Threads
}

func (s StaticSettings) BatchTimeout() time.Duration {
	if s.BatchTO <= 0 {
		return DefaultBatchTimeout
	}
	return s.BatchTO
}

func (s StaticSettings) SegmentTimeout() time.Duration {
	if s.SegmentTO <= 0 {
		return DefaultSegmentTimeout
	}
	return s.SegmentTO
}

func (s StaticSettings) FetchRetries() int {
	if s.Retries <= 0 {
		return DefaultFetchRetries
	}
	return s.Retries
}
