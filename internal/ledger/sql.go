package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// SQLStore keeps the ledger in the attendance table of a sqlite, postgres or
// mysql database. It keeps every column, so both export schemas are lossless.
type SQLStore struct {
	pool *database.Pool
}

// NewSQLStore creates a store over a migrated pool.
func NewSQLStore(pool *database.Pool) *SQLStore {
	return &SQLStore{pool: pool}
}

// OpenSQL opens a pool for the dialect, applies migrations and returns a store.
func OpenSQL(ctx context.Context, dialect database.Dialect, dsn string, opts database.PoolOptions) (*SQLStore, error) {
	pool, err := database.Open(ctx, dialect, dsn, opts)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return NewSQLStore(pool), nil
}

// upsertQuery keeps an existing Present row when the incoming status is a
// rejection, matching Replaces.
func (s *SQLStore) upsertQuery() string {
	const insert = `INSERT INTO attendance (identity, context, date, marked_at, status, method, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	const present = "'" + attendance.LedgerPresent + "'"
	if s.pool.Dialect() == database.MySQL {
		// Assignments run left to right, so status goes last and the others
		// still see the stored value.
		const keep = `status = ` + present + ` AND VALUES(status) <> ` + present
		return insert + `
		ON DUPLICATE KEY UPDATE
			marked_at = IF(` + keep + `, marked_at, VALUES(marked_at)),
			method = IF(` + keep + `, method, VALUES(method)),
			confidence = IF(` + keep + `, confidence, VALUES(confidence)),
			status = IF(` + keep + `, status, VALUES(status))`
	}
	return insert + `
		ON CONFLICT (identity, context, date) DO UPDATE SET
			marked_at = excluded.marked_at,
			status = excluded.status,
			method = excluded.method,
			confidence = excluded.confidence
		WHERE attendance.status <> ` + present + ` OR excluded.status = ` + present
}

// Upsert implements Store.
func (s *SQLStore) Upsert(ctx context.Context, rec attendance.Record) error {
	if rec.Identity == "" || rec.Date == "" {
		return errors.New("ledger record requires identity and date")
	}
	_, err := s.pool.Exec(ctx, s.upsertQuery(),
		rec.Identity, rec.Context, rec.Date, s.timeArg(rec.Time), rec.Status, rec.Method, rec.Confidence)
	if err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// sqlite has no native timestamp type; store a sortable text form.
func (s *SQLStore) timeArg(t time.Time) any {
	if s.pool.Dialect() == database.SQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

// Query implements Store.
func (s *SQLStore) Query(ctx context.Context, date, identity string) ([]attendance.Record, error) {
	var (
		where []string
		args  []any
	)
	if date != "" {
		where = append(where, "date = ?")
		args = append(args, date)
	}
	if identity != "" {
		where = append(where, "identity = ?")
		args = append(args, identity)
	}

	query := `SELECT identity, context, date, marked_at, status, method, confidence FROM attendance`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, marked_at, identity, context"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []attendance.Record
	for rows.Next() {
		var (
			rec      attendance.Record
			markedAt timeValue
		)
		if err := rows.Scan(&rec.Identity, &rec.Context, &rec.Date, &markedAt, &rec.Status, &rec.Method, &rec.Confidence); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		rec.Time = markedAt.t.Local()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

// timeValue scans timestamps whether the driver returns time.Time or text.
type timeValue struct {
	t time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (v *timeValue) Scan(src any) error {
	var text string
	switch x := src.(type) {
	case time.Time:
		v.t = x
		return nil
	case string:
		text = x
	case []byte:
		text = string(x)
	case nil:
		v.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			v.t = t
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", text)
}
