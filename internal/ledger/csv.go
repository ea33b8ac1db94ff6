package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

type recordKey struct {
	identity, context, date string
}

// CSVStore keeps the ledger in one CSV file, rewritten atomically on every
// upsert. The schema is detected from an existing file's header; a new file
// uses the schema given to OpenCSV.
type CSVStore struct {
	path    string
	schema  Schema
	mu      sync.Mutex
	records []attendance.Record
	index   map[recordKey]int
	loc     *time.Location
}

// OpenCSV loads or creates the ledger file at path.
func OpenCSV(path string, schema Schema) (*CSVStore, error) {
	s := &CSVStore{
		path:   path,
		schema: schema,
		index:  make(map[recordKey]int),
		loc:    time.Local,
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if err := s.load(f); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	return s, nil
}

// Schema returns the file's schema.
func (s *CSVStore) Schema() Schema {
	return s.schema
}

func (s *CSVStore) load(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	schema, err := detectSchema(header)
	if err != nil {
		return err
	}
	s.schema = schema

	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return err
		}
		if len(row) < len(header) {
			return fmt.Errorf("line %d: expected %d columns, got %d", line, len(header), len(row))
		}
		rec, err := s.parseRow(row)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		s.put(rec)
	}
}

func detectSchema(header []string) (Schema, error) {
	for _, schema := range []Schema{SchemaOpen, SchemaVerified} {
		if slices.Equal(trimAll(header), schema.Header()) {
			return schema, nil
		}
	}
	return "", fmt.Errorf("unrecognized ledger header %q", strings.Join(header, ","))
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(strings.TrimPrefix(v, "\ufeff"))
	}
	return out
}

func (s *CSVStore) parseRow(row []string) (attendance.Record, error) {
	if s.schema == SchemaVerified {
		at, err := time.ParseInLocation(constants.TimestampLayout, row[2], s.loc)
		if err != nil {
			return attendance.Record{}, fmt.Errorf("parse timestamp: %w", err)
		}
		conf, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return attendance.Record{}, fmt.Errorf("parse confidence: %w", err)
		}
		return attendance.Record{
			Identity:   row[0],
			Context:    row[1],
			Date:       at.Format(constants.DateLayout),
			Time:       at,
			Status:     row[3],
			Confidence: conf,
		}, nil
	}

	at, err := time.ParseInLocation(constants.TimestampLayout, row[1]+" "+row[2], s.loc)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("parse date/time: %w", err)
	}
	return attendance.Record{
		Identity: row[0],
		Date:     row[1],
		Time:     at,
		Status:   row[3],
		Method:   row[4],
	}, nil
}

// put inserts or replaces by key, keeping the row's original position. It
// reports false when the existing row is kept.
func (s *CSVStore) put(rec attendance.Record) bool {
	key := recordKey{rec.Identity, rec.Context, rec.Date}
	if s.schema == SchemaOpen {
		// The open layout has no context column.
		key.context = ""
		rec.Context = ""
	}
	if i, ok := s.index[key]; ok {
		if !Replaces(s.records[i], rec) {
			return false
		}
		s.records[i] = rec
		return true
	}
	s.index[key] = len(s.records)
	s.records = append(s.records, rec)
	return true
}

// Upsert implements Store.
func (s *CSVStore) Upsert(_ context.Context, rec attendance.Record) error {
	if rec.Identity == "" || rec.Date == "" {
		return errors.New("ledger record requires identity and date")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevRecords := slices.Clone(s.records)
	prevIndex := make(map[recordKey]int, len(s.index))
	for k, v := range s.index {
		prevIndex[k] = v
	}

	if !s.put(rec) {
		return nil
	}
	if err := s.flush(); err != nil {
		s.records, s.index = prevRecords, prevIndex
		return err
	}
	return nil
}

// Query implements Store.
func (s *CSVStore) Query(_ context.Context, date, identity string) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []attendance.Record
	for _, rec := range s.records {
		if matches(rec, date, identity) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close implements Store.
func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, s.schema, s.records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
