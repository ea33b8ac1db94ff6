//go:build integration

package gallery

import (
	"context"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/dbtest"
)

func openPostgresBackend(t *testing.T) *PostgresBackend {
	t.Helper()
	ctx := context.Background()
	url := dbtest.StartPostgres(t)

	pool, err := database.Open(ctx, database.Postgres, url, database.PoolOptions{MaxOpenConns: 5, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return NewPostgresBackend(pool)
}

func TestPostgresBackend(t *testing.T) {
	backend := openPostgresBackend(t)
	defer backend.Close()
	ctx := context.Background()

	t.Run("enroll and reload", func(t *testing.T) {
		g, err := Open(ctx, backend)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := g.Enroll(ctx, "S1", attendance.Embedding{0.1, 0.2, 0.3}, "s1a.jpg"); err != nil {
			t.Fatalf("enroll: %v", err)
		}
		if err := g.Enroll(ctx, "S1", attendance.Embedding{0.3, 0.2, 0.1}, "s1b.jpg"); err != nil {
			t.Fatalf("enroll: %v", err)
		}
		if err := g.Enroll(ctx, "S2", attendance.Embedding{0.9, 0.0, 0.1}, "s2.jpg"); err != nil {
			t.Fatalf("enroll: %v", err)
		}

		reloaded, err := Open(ctx, backend)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		rec, ok := reloaded.Get("S1")
		if !ok {
			t.Fatal("expected S1 after reload")
		}
		if len(rec.Embeddings) != 2 || rec.ImagePaths[1] != "s1b.jpg" {
			t.Errorf("unexpected S1 record: %+v", rec)
		}
		snap := reloaded.Snapshot()
		if len(snap) != 2 || snap[0].Identity != "S1" {
			t.Errorf("expected insertion order S1, S2; got %+v", snap)
		}
	})

	t.Run("identity without embeddings is repaired", func(t *testing.T) {
		if _, err := backend.pool.Exec(ctx, "INSERT INTO identities (id, registered_on) VALUES ('S9', NULL)"); err != nil {
			t.Fatalf("insert broken identity: %v", err)
		}
		g, err := Open(ctx, backend)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, ok := g.Get("S9"); !ok {
			t.Error("expected S9 to be reinitialized")
		}
		if err := g.Enroll(ctx, "S9", attendance.Embedding{0.5, 0.5, 0.5}, "s9.jpg"); err != nil {
			t.Fatalf("enroll healed identity: %v", err)
		}
	})
}
