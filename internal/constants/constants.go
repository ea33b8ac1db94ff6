// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Matching constants
const (
	// DefaultMatchThreshold is the minimum confidence for a match to pass
	DefaultMatchThreshold = 0.92

	// DefaultMinDetectionScore is the minimum detector confidence for a face to count
	DefaultMinDetectionScore = 0.5

	// DefaultTopMatches is the number of ranked matches shown to operators
	DefaultTopMatches = 3

	// DefaultLookalikeNeighbors is the number of HNSW neighbors inspected per embedding
	DefaultLookalikeNeighbors = 5
)

// HNSW graph parameters for the lookalike index
const (
	// HNSWMaxNeighbors is the M parameter (max connections per node)
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search-time candidate list size
	HNSWEfSearch = 100
)

// Liveness constants
const (
	// DefaultLivenessThreshold is the weighted score a multi-frame check must reach
	DefaultLivenessThreshold = 0.7

	// LivenessBlinkWeight, LivenessTextureWeight and LivenessMovementWeight sum to 1
	LivenessBlinkWeight    = 0.5
	LivenessTextureWeight  = 0.3
	LivenessMovementWeight = 0.2

	// SingleImageTextureThreshold is the texture score a still image must exceed
	SingleImageTextureThreshold = 0.5

	// SingleImageMinEyes is the number of eyes a still image must show
	SingleImageMinEyes = 2

	ChallengeMinBlinks = 2
	ChallengeTimeout   = 10 * time.Second
	PassiveMinBlinks   = 1
	PassiveTimeout     = 5 * time.Second
)

// Cooldown constants
const (
	// DefaultCooldownSeconds is the window between two accepted decisions for one identity/context
	DefaultCooldownSeconds = 300

	// DefaultCooldownSweepInterval is how often expired cooldown entries are dropped
	DefaultCooldownSweepInterval = time.Minute
)

// Intake constants
const (
	// DefaultPollInterval is the interval between intake directory scans
	DefaultPollInterval = 5 * time.Second

	// DefaultSettleDelay is how long a file size must stay unchanged before processing
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultWorkerConcurrency is the number of captures in the detection stage at once
	DefaultWorkerConcurrency = 2

	// QueueBuffer is the buffer size of the intake queue
	QueueBuffer = 256

	// ArchiveTimestampLayout prefixes archived filenames
	ArchiveTimestampLayout = "20060102150405"
)

// Processing constants
const (
	// DefaultCapabilityTimeout bounds every call to the external face service
	DefaultCapabilityTimeout = 30 * time.Second

	// MaxImageSize is the maximum dimension (width or height) sent to the face service
	MaxImageSize = 1920

	// DefaultConcurrency is the default number of parallel workers for bulk enrollment
	DefaultConcurrency = 5
)

// Reporting constants
const (
	// RecentEntriesLimit caps the recent activity feed
	RecentEntriesLimit = 10

	// EventChannelBuffer is the buffer size for event listener channels
	EventChannelBuffer = 100

	// MaxUploadSize is the largest accepted upload body in bytes
	MaxUploadSize = 20 << 20
)

// Ledger layouts
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	TimestampLayout = "2006-01-02 15:04:05"
)
