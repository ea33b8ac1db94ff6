package handlers

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/ledger"
)

// LedgerHandler exposes attendance records.
type LedgerHandler struct {
	store    ledger.Store
	settings *config.SettingsStore
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(store ledger.Store, settings *config.SettingsStore) *LedgerHandler {
	return &LedgerHandler{store: store, settings: settings}
}

// LedgerResponse is the JSON listing of ledger rows.
type LedgerResponse struct {
	Count   int                 `json:"count"`
	Records []attendance.Record `json:"records"`
}

// List returns records filtered by the optional date and identity query parameters.
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	identity := attendance.NormalizeIdentity(r.URL.Query().Get("identity"))

	records, err := h.store.Query(r.Context(), date, identity)
	if err != nil {
		slog.Error("ledger: query failed", "date", date, "identity", sanitizeForLog(identity), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance ledger")
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	respondJSON(w, http.StatusOK, LedgerResponse{Count: len(records), Records: records})
}

// Export streams the ledger as CSV in the active schema.
func (h *LedgerHandler) Export(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	// Render into memory first so a query error can still produce a JSON error.
	var buf bytes.Buffer
	if _, err := ledger.Export(r.Context(), h.store, &buf, date, h.schema()); err != nil {
		slog.Error("ledger: export failed", "date", date, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to export attendance ledger")
		return
	}

	name := "attendance.csv"
	if date != "" {
		name = "attendance_" + date + ".csv"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// schema prefers the layout of a CSV-backed ledger and otherwise follows the mode.
func (h *LedgerHandler) schema() ledger.Schema {
	if s, ok := h.store.(interface{ Schema() ledger.Schema }); ok {
		return s.Schema()
	}
	return ledger.SchemaForMode(h.settings.Get().Mode)
}
