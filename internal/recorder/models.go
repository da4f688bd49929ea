package recorder

import "time"

// PlaylistType is the result of classifying a manifest.
type PlaylistType int

const (
	// Master is a playlist whose entries are quality variants, each pointing
	// to its own media playlist. A master playlist is never live or closed
	// itself.
	Master PlaylistType = iota
	// Live is a media playlist that has no end marker and may still grow.
	Live
	// Closed is a media playlist that carries an end-of-list marker or a VOD
	// type tag. Unparseable manifests also classify as Closed.
	Closed
)

func (t PlaylistType) String() string {
	switch t {
	case Master:
		return "master"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Segment is one addressable chunk of the live stream. Identity is by
// ResolvedURL; a segment is immutable once discovered.
type Segment struct {
	// URI is the raw reference as it appears in the manifest.
	URI string
	// ResolvedURL is the absolute URL, resolved against the playlist's own
	// URL at discovery time.
	ResolvedURL string
}

// Variant is one quality entry of a master playlist.
type Variant struct {
	URL       string
	Bandwidth uint32
	Width     int
	Height    int
}

// BatchStatus tracks the outcome of one batch download.
type BatchStatus int

const (
	BatchPending BatchStatus = iota
	BatchSucceeded
	// BatchFailed means the transport errored or timed out. The batch file
	// may be empty or partially written; either way it is skipped at
	// concatenation time.
	BatchFailed
)

func (s BatchStatus) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchSucceeded:
		return "succeeded"
	case BatchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Batch is one fetch unit and its resulting scratch file. Batches are created
// in increasing sequence order and never reordered; a failed batch is retained
// as a placeholder so sequence bookkeeping stays simple.
type Batch struct {
	Sequence int
	Segments []Segment
	FileName string
	Status   BatchStatus
}

// SessionState is the lifecycle state of a RecordingSession. Transitions only
// move forward: Idle -> Active -> Stopping -> Done.
type SessionState int

const (
	Idle SessionState = iota
	Active
	Stopping
	Done
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a session, safe to read from any
// goroutine.
type Status struct {
	State           SessionState
	URL             string
	BaseName        string
	TotalSegments   int
	PendingSegments int
	Batches         int
	FailedBatches   int
	SkippedBatches  int
	StartedAt       time.Time
	Elapsed         time.Duration
}

// Summary describes a finished recording.
type Summary struct {
	TotalSegments  int
	Batches        int
	FailedBatches  int
	SkippedBatches int
	OutputName     string
}
