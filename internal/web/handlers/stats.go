package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/stats"
)

// StatsHandler serves the processing counters.
type StatsHandler struct {
	stats  *stats.Aggregator
	ledger ledger.Store
	now    func() time.Time
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(agg *stats.Aggregator, store ledger.Store) *StatsHandler {
	return &StatsHandler{stats: agg, ledger: store, now: time.Now}
}

// Get returns the current snapshot with today's attendance count from the ledger.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.stats.Snapshot()

	today := h.now().Format(constants.DateLayout)
	records, err := h.ledger.Query(r.Context(), today, "")
	if err != nil {
		slog.Error("stats: ledger query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance ledger")
		return
	}
	for _, rec := range records {
		if rec.Status == attendance.LedgerPresent {
			snap.TodayAttendance++
		}
	}

	respondJSON(w, http.StatusOK, snap)
}
