package attendance

import "errors"

// Capture processing failures. Every terminal rejection wraps exactly one of these.
var (
	ErrCaptureUnreadable         = errors.New("capture unreadable")
	ErrNoFaceDetected            = errors.New("no face detected")
	ErrMultipleFacesDetected     = errors.New("multiple faces detected")
	ErrEmbeddingExtractionFailed = errors.New("embedding extraction failed")
	ErrNoEnrolledIdentities      = errors.New("no enrolled identities")
	ErrLowConfidenceMatch        = errors.New("low confidence")
	ErrIdentityMismatch          = errors.New("face mismatch")
	ErrDuplicateSubmission       = errors.New("duplicate")
	ErrLivenessFailed            = errors.New("failed liveness check")
	ErrPersistence               = errors.New("persistence error")
	ErrArchivalMoveFailed        = errors.New("archival move failed")
)

// ReasonProcessingError is reported for errors outside the taxonomy.
const ReasonProcessingError = "processing-error"

// Outcome tells the archival mover where a capture belongs.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

type kind struct {
	err     error
	reason  string
	outcome Outcome
}

// Order matters only for errors wrapping several kinds; the first hit wins.
var kinds = []kind{
	{ErrCaptureUnreadable, "capture-unreadable", OutcomeFailed},
	{ErrNoFaceDetected, "no-face-detected", OutcomeFailed},
	{ErrMultipleFacesDetected, "multiple-faces-detected", OutcomeFailed},
	{ErrEmbeddingExtractionFailed, "embedding-extraction-failed", OutcomeFailed},
	{ErrNoEnrolledIdentities, "no-enrolled-identities", OutcomeRejected},
	{ErrLowConfidenceMatch, "low-confidence", OutcomeRejected},
	{ErrIdentityMismatch, "mismatch", OutcomeRejected},
	{ErrDuplicateSubmission, "duplicate", OutcomeRejected},
	{ErrLivenessFailed, "liveness", OutcomeRejected},
	{ErrPersistence, "persistence-error", OutcomeFailed},
	{ErrArchivalMoveFailed, "archival-move-failed", OutcomeFailed},
}

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// ReasonFor maps an error to its stable reason string.
func ReasonFor(err error) string {
	if k, ok := lookup(err); ok {
		return k.reason
	}
	return ReasonProcessingError
}

// MessageFor returns the human-readable message for an error, never raw error text.
func MessageFor(err error) string {
	if k, ok := lookup(err); ok {
		return k.err.Error()
	}
	return "processing error"
}

// OutcomeFor returns the archive destination for a rejection caused by err.
func OutcomeFor(err error) Outcome {
	if k, ok := lookup(err); ok {
		return k.outcome
	}
	return OutcomeFailed
}
