// Package ledger is the attendance ledger: at most one record per identity,
// context and date, replaced on every write unless that would turn a Present
// mark back into a rejection.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Store is a keyed attendance store. Only the decision engine writes to it.
type Store interface {
	// Upsert inserts rec or replaces time, status, method and confidence of
	// the record with the same identity, context and date. A rejected rec
	// leaves an existing Present record untouched (see Replaces).
	Upsert(ctx context.Context, rec attendance.Record) error

	// Query returns records filtered by date and identity; empty filters match all.
	Query(ctx context.Context, date, identity string) ([]attendance.Record, error)

	// Close releases resources.
	Close() error
}

// Schema is the tabular layout used for CSV files and exports.
type Schema string

const (
	// SchemaOpen is [Student ID, Date, Time, Status, Method].
	SchemaOpen Schema = "open"
	// SchemaVerified is [Roll Number, Subject, Timestamp, Status, Confidence].
	SchemaVerified Schema = "verified"
)

var headers = map[Schema][]string{
	SchemaOpen:     {"Student ID", "Date", "Time", "Status", "Method"},
	SchemaVerified: {"Roll Number", "Subject", "Timestamp", "Status", "Confidence"},
}

// SchemaForMode returns the layout used by a decision mode.
func SchemaForMode(mode config.Mode) Schema {
	if mode == config.ModeVerified {
		return SchemaVerified
	}
	return SchemaOpen
}

// Header returns the column names of a schema.
func (s Schema) Header() []string {
	if h, ok := headers[s]; ok {
		return h
	}
	return headers[SchemaOpen]
}

// Row renders a record in the schema's column order.
func (s Schema) Row(rec attendance.Record) []string {
	if s == SchemaVerified {
		return []string{
			rec.Identity,
			rec.Context,
			rec.Time.Format(constants.TimestampLayout),
			rec.Status,
			formatConfidence(rec.Confidence),
		}
	}
	return []string{
		rec.Identity,
		rec.Date,
		rec.Time.Format(constants.TimeLayout),
		rec.Status,
		rec.Method,
	}
}

// Export writes the records for date (all records when empty) as CSV in the
// given schema.
func Export(ctx context.Context, store Store, w io.Writer, date string, schema Schema) (int, error) {
	records, err := store.Query(ctx, date, "")
	if err != nil {
		return 0, fmt.Errorf("query ledger: %w", err)
	}
	if err := WriteCSV(w, schema, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// WriteCSV writes a header and one row per record.
func WriteCSV(w io.Writer, schema Schema, records []attendance.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(schema.Row(rec)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Replaces reports whether next may overwrite prev, which has the same key.
// A rejected attempt never erases a Present mark; a later Present mark
// always replaces the earlier row.
func Replaces(prev, next attendance.Record) bool {
	return prev.Status != attendance.LedgerPresent || next.Status == attendance.LedgerPresent
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(math.Round(c*1e4)/1e4, 'f', -1, 64)
}

func matches(rec attendance.Record, date, identity string) bool {
	return (date == "" || rec.Date == date) && (identity == "" || rec.Identity == identity)
}
