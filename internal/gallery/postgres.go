package gallery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresBackend stores identities and their embeddings in PostgreSQL with
// embeddings in pgvector columns.
type PostgresBackend struct {
	pool *database.Pool
}

// NewPostgresBackend creates a backend on a migrated postgres pool.
func NewPostgresBackend(pool *database.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// Load reads all identities in insertion order.
func (b *PostgresBackend) Load(ctx context.Context) (*Loaded, error) {
	loaded := &Loaded{Records: make(map[string]Record)}

	rows, err := b.pool.Query(ctx, `
		SELECT i.id, i.registered_on,
		       COALESCE(array_agg(e.image_path ORDER BY e.position) FILTER (WHERE e.identity_id IS NOT NULL), '{}')
		FROM identities i
		LEFT JOIN identity_embeddings e ON e.identity_id = i.id
		GROUP BY i.id, i.registered_on, i.seq
		ORDER BY i.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var registeredOn sql.NullTime
		var paths pq.StringArray
		if err := rows.Scan(&id, &registeredOn, &paths); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if !registeredOn.Valid {
			loaded.Corrupted = append(loaded.Corrupted, id)
			continue
		}
		loaded.Records[id] = Record{ImagePaths: []string(paths), RegisteredOn: registeredOn.Time}
		loaded.Order = append(loaded.Order, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}

	if err := b.loadEmbeddings(ctx, loaded); err != nil {
		return nil, err
	}
	return loaded, nil
}

func (b *PostgresBackend) loadEmbeddings(ctx context.Context, loaded *Loaded) error {
	rows, err := b.pool.Query(ctx, `
		SELECT identity_id, embedding
		FROM identity_embeddings
		ORDER BY identity_id, position
	`)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		rec, ok := loaded.Records[id]
		if !ok {
			continue
		}
		rec.Embeddings = append(rec.Embeddings, attendance.Embedding(vec.Slice()))
		loaded.Records[id] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}
	return nil
}

// Save replaces one identity's embeddings in a single transaction.
func (b *PostgresBackend) Save(ctx context.Context, identity string, rec Record) error {
	tx, err := b.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identities (id, registered_on) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET registered_on = EXCLUDED.registered_on
	`, identity, rec.RegisteredOn); err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM identity_embeddings WHERE identity_id = $1", identity); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}

	for i, emb := range rec.Embeddings {
		path := ""
		if i < len(rec.ImagePaths) {
			path = rec.ImagePaths[i]
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identity_embeddings (identity_id, position, embedding, image_path)
			VALUES ($1, $2, $3::vector, $4)
		`, identity, i, pgvector.NewVector(emb), path); err != nil {
			return fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	return b.pool.Close()
}
