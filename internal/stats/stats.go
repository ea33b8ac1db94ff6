// Package stats aggregates process-wide decision counters and a short feed
// of recent attendance for reporting.
package stats

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Entry is one item of the recent activity feed.
type Entry struct {
	Identity   string    `json:"identity"`
	Context    string    `json:"context,omitempty"`
	Time       time.Time `json:"time"`
	Method     string    `json:"method,omitempty"`
	Confidence float64   `json:"confidence"`
	File       string    `json:"file"`
	Status     string    `json:"status"`
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	ProcessedCount  int     `json:"processed_count"`
	SuccessfulCount int     `json:"successful_count"`
	RejectedCount   int     `json:"rejected_count"`
	TodayAttendance int     `json:"today_attendance_count"`
	LastProcessed   string  `json:"last_processed"`
	LastRecognized  string  `json:"last_recognized"`
	RecentEntries   []Entry `json:"recent_entries"`
}

// Aggregator is safe for concurrent use. Counters live in memory only.
type Aggregator struct {
	mu    sync.RWMutex
	snap  Snapshot
	limit int
}

// New creates an aggregator with the default feed size.
func New() *Aggregator {
	return &Aggregator{limit: constants.RecentEntriesLimit}
}

// Observe records a terminal decision.
func (a *Aggregator) Observe(d attendance.Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snap.ProcessedCount++
	a.snap.LastProcessed = d.Capture.Name

	if !d.Present() {
		a.snap.RejectedCount++
		return
	}

	a.snap.SuccessfulCount++
	a.snap.LastRecognized = d.Identity

	entry := Entry{
		Identity:   d.Identity,
		Context:    d.Context,
		Time:       d.Timestamp,
		Method:     d.Method,
		Confidence: d.Confidence,
		File:       d.Capture.Name,
		Status:     attendance.LedgerStatus(d),
	}
	// Newest first.
	a.snap.RecentEntries = append([]Entry{entry}, a.snap.RecentEntries...)
	if len(a.snap.RecentEntries) > a.limit {
		a.snap.RecentEntries = a.snap.RecentEntries[:a.limit]
	}
}

// Snapshot returns a copy of the current counters. TodayAttendance is left
// for the caller to fill from the ledger.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.snap
	s.RecentEntries = append([]Entry(nil), a.snap.RecentEntries...)
	if s.RecentEntries == nil {
		s.RecentEntries = []Entry{}
	}
	if s.LastProcessed == "" {
		s.LastProcessed = "-"
	}
	if s.LastRecognized == "" {
		s.LastRecognized = "-"
	}
	return s
}
