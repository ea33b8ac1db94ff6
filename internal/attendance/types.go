// Package attendance holds the domain types shared by the gallery, resolver,
// ledger and decision engine.
package attendance

import (
	"time"
)

// Embedding is a fixed-length face descriptor produced by the extractor.
type Embedding []float32

// Capture is an image waiting for a decision.
type Capture struct {
	Path      string
	Name      string // base filename
	Claim     string // claimed identity, empty when the filename carries none
	Context   string // e.g. the subject, empty when absent
	ArrivedAt time.Time
}

// MatchResult is one identity's best similarity against a probe.
type MatchResult struct {
	Identity        string  `json:"identity"`
	Confidence      float64 `json:"confidence"`
	PassesThreshold bool    `json:"passes_threshold"`
}

// Status is the terminal state of a decision.
type Status string

const (
	StatusPresent  Status = "PRESENT"
	StatusRejected Status = "REJECTED"
)

// Attendance methods recorded in the ledger.
const (
	MethodFaceRecognition = "Face Recognition"
	MethodNewRegistration = "New Registration"
)

// Decision is the terminal outcome for a capture.
type Decision struct {
	ID            string
	Capture       Capture
	Status        Status
	Err           error // nil when Status is PRESENT
	Identity      string
	Context       string
	Confidence    float64
	Method        string
	LivenessScore float64
	Matches       []MatchResult
	Timestamp     time.Time
}

// Present reports whether the decision accepted the capture.
func (d Decision) Present() bool {
	return d.Status == StatusPresent
}

// Reason returns the stable reason slug, empty for accepted decisions.
func (d Decision) Reason() string {
	if d.Err == nil {
		return ""
	}
	return ReasonFor(d.Err)
}

// Message returns a human-readable summary suitable for reporting layers.
func (d Decision) Message() string {
	if d.Err == nil {
		if d.Method == MethodNewRegistration {
			return "New face registered"
		}
		return "Attendance marked"
	}
	return MessageFor(d.Err)
}

// Outcome returns where the capture should be archived.
func (d Decision) Outcome() Outcome {
	if d.Err == nil {
		return OutcomeProcessed
	}
	return OutcomeFor(d.Err)
}

// Record is one ledger row keyed by identity, context and date.
type Record struct {
	Identity   string    `json:"identity"`
	Context    string    `json:"context,omitempty"`
	Date       string    `json:"date"` // YYYY-MM-DD
	Time       time.Time `json:"time"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	Confidence float64   `json:"confidence"`
}

// Ledger status strings.
const (
	LedgerPresent  = "Present"
	LedgerRejected = "Rejected"
)

// LedgerStatus renders the status column for a decision, e.g. "Rejected (face mismatch)".
func LedgerStatus(d Decision) string {
	if d.Err == nil {
		return LedgerPresent
	}
	return LedgerRejected + " (" + MessageFor(d.Err) + ")"
}
