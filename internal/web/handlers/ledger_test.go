package handlers

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/ledger"
)

func seededLedger() *fakeLedger {
	day := time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local)
	return &fakeLedger{records: []attendance.Record{
		ledgerRecord("S1", "Math", day, attendance.LedgerPresent),
		ledgerRecord("S2", "Math", day, attendance.LedgerPresent),
		ledgerRecord("S1", "Math", day.AddDate(0, 0, 1), attendance.LedgerPresent),
	}}
}

func TestLedgerHandler_List(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"by date", "?date=2026-03-02", 2},
		{"by identity", "?identity=s1", 2},
		{"by both", "?date=2026-03-03&identity=S1", 1},
		{"no rows", "?date=2025-01-01", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewLedgerHandler(seededLedger(), newSettingsStore(t))
			recorder := httptest.NewRecorder()
			handler.List(recorder, httptest.NewRequest("GET", "/api/v1/ledger"+tt.query, nil))

			assertStatusCode(t, recorder, http.StatusOK)

			var resp LedgerResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Count != tt.want || len(resp.Records) != tt.want {
				t.Errorf("expected %d records, got count=%d len=%d", tt.want, resp.Count, len(resp.Records))
			}
		})
	}
}

func TestLedgerHandler_List_BadDate(t *testing.T) {
	handler := NewLedgerHandler(seededLedger(), newSettingsStore(t))
	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/ledger?date=March", nil))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "date must be YYYY-MM-DD")
}

func TestLedgerHandler_Export_ModeSchema(t *testing.T) {
	settings := newSettingsStore(t)
	handler := NewLedgerHandler(seededLedger(), settings)

	recorder := httptest.NewRecorder()
	handler.Export(recorder, httptest.NewRequest("GET", "/api/v1/ledger/export?date=2026-03-02", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "text/csv; charset=utf-8")
	if cd := recorder.Header().Get("Content-Disposition"); !strings.Contains(cd, "attendance_2026-03-02.csv") {
		t.Errorf("expected dated filename, got %q", cd)
	}

	rows, err := csv.NewReader(recorder.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(ledger.SchemaVerified.Header(), ",") {
		t.Errorf("expected verified header, got %v", rows[0])
	}
}

func TestLedgerHandler_Export_CSVStoreSchema(t *testing.T) {
	store, err := ledger.OpenCSV(filepath.Join(t.TempDir(), "attendance.csv"), ledger.SchemaOpen)
	if err != nil {
		t.Fatalf("OpenCSV() error = %v", err)
	}
	defer store.Close()

	// Mode says verified, but the file on disk is the open layout.
	settings := newSettingsStore(t)
	handler := NewLedgerHandler(store, settings)

	recorder := httptest.NewRecorder()
	handler.Export(recorder, httptest.NewRequest("GET", "/api/v1/ledger/export", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	rows, err := csv.NewReader(recorder.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "Student ID" {
		t.Errorf("expected open header only, got %v", rows)
	}
	if cd := recorder.Header().Get("Content-Disposition"); !strings.Contains(cd, `"attendance.csv"`) {
		t.Errorf("expected undated filename, got %q", cd)
	}
}

func TestLedgerHandler_Export_Error(t *testing.T) {
	handler := NewLedgerHandler(&fakeLedger{err: errStoreDown}, newSettingsStore(t))
	recorder := httptest.NewRecorder()
	handler.Export(recorder, httptest.NewRequest("GET", "/api/v1/ledger/export", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertContentType(t, recorder, "application/json")
}

func TestLedgerHandler_SchemaFollowsMode(t *testing.T) {
	settings := newSettingsStore(t)
	if _, err := settings.Update(func(s *config.Settings) { s.Mode = config.ModeOpenEnrollment }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	handler := NewLedgerHandler(seededLedger(), settings)
	if got := handler.schema(); got != ledger.SchemaOpen {
		t.Errorf("expected open schema, got %s", got)
	}
}
