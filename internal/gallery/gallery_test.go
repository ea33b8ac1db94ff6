package gallery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

type memBackend struct {
	mu      sync.Mutex
	loaded  *Loaded
	saved   map[string]Record
	saveErr error
}

func (m *memBackend) Load(context.Context) (*Loaded, error) {
	if m.loaded == nil {
		return &Loaded{Records: map[string]Record{}}, nil
	}
	return m.loaded, nil
}

func (m *memBackend) Save(_ context.Context, id string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.saved == nil {
		m.saved = make(map[string]Record)
	}
	m.saved[id] = rec
	return nil
}

func (m *memBackend) Close() error { return nil }

type recordingEmitter struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEmitter) Emit(eventType, _ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recordingEmitter) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

func TestGallery_EnrollCreatesAndAppends(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	g, err := Open(ctx, backend)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := g.Enroll(ctx, "S1", attendance.Embedding{1, 0}, "a.jpg"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := g.Enroll(ctx, "S1", attendance.Embedding{0, 1}, "b.jpg"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	rec, ok := g.Get("S1")
	if !ok {
		t.Fatal("expected S1 to exist")
	}
	if len(rec.Embeddings) != 2 || len(rec.ImagePaths) != 2 {
		t.Errorf("expected 2 embeddings and paths, got %d/%d", len(rec.Embeddings), len(rec.ImagePaths))
	}
	if rec.RegisteredOn.IsZero() {
		t.Error("expected registration time")
	}
	if len(backend.saved["S1"].Embeddings) != 2 {
		t.Errorf("expected backend to hold 2 embeddings, got %d", len(backend.saved["S1"].Embeddings))
	}
	if g.Len() != 1 {
		t.Errorf("expected 1 identity, got %d", g.Len())
	}
}

func TestGallery_SnapshotIsNotMutatedByLaterEnroll(t *testing.T) {
	ctx := context.Background()
	g, _ := Open(ctx, &memBackend{})
	g.Enroll(ctx, "S1", attendance.Embedding{1, 0}, "a.jpg")

	before := g.Snapshot()
	g.Enroll(ctx, "S1", attendance.Embedding{0, 1}, "b.jpg")

	if len(before[0].Embeddings) != 1 {
		t.Errorf("expected snapshot to keep 1 embedding, got %d", len(before[0].Embeddings))
	}
	if after := g.Snapshot(); len(after[0].Embeddings) != 2 {
		t.Errorf("expected new snapshot to have 2 embeddings, got %d", len(after[0].Embeddings))
	}
}

func TestGallery_EnrollPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	g, _ := Open(ctx, backend)
	g.Enroll(ctx, "S1", attendance.Embedding{1, 0}, "a.jpg")

	backend.saveErr = errors.New("disk full")
	err := g.Enroll(ctx, "S1", attendance.Embedding{0, 1}, "b.jpg")
	if !errors.Is(err, attendance.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if err := g.Enroll(ctx, "S2", attendance.Embedding{0, 1}, "c.jpg"); err == nil {
		t.Fatal("expected error for new identity too")
	}

	rec, _ := g.Get("S1")
	if len(rec.Embeddings) != 1 {
		t.Errorf("expected 1 embedding after failed save, got %d", len(rec.Embeddings))
	}
	if _, ok := g.Get("S2"); ok {
		t.Error("expected S2 not to exist after failed save")
	}
}

func TestGallery_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	g, _ := Open(ctx, &memBackend{})
	g.Enroll(ctx, "S1", attendance.Embedding{1, 0, 0}, "a.jpg")

	err := g.Enroll(ctx, "S1", attendance.Embedding{1, 0}, "b.jpg")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestGallery_EnrollValidation(t *testing.T) {
	ctx := context.Background()
	g, _ := Open(ctx, &memBackend{})

	if err := g.Enroll(ctx, "", attendance.Embedding{1}, "a.jpg"); err == nil {
		t.Error("expected error for empty identity")
	}
	if err := g.Enroll(ctx, "S1", nil, "a.jpg"); err == nil {
		t.Error("expected error for empty embedding")
	}
}

func TestGallery_SelfHealsCorruptedRecords(t *testing.T) {
	ctx := context.Background()
	registered := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	backend := &memBackend{loaded: &Loaded{
		Records: map[string]Record{
			"GOOD":  {Embeddings: []attendance.Embedding{{1, 0}}, ImagePaths: []string{"g.jpg"}, RegisteredOn: registered},
			"EMPTY": {RegisteredOn: registered},
			"RAGGED": {
				Embeddings:   []attendance.Embedding{{1, 0}, {1, 0, 0}},
				ImagePaths:   []string{"r1.jpg", "r2.jpg"},
				RegisteredOn: registered,
			},
		},
		Order:     []string{"GOOD", "EMPTY", "RAGGED"},
		Corrupted: []string{"BROKEN"},
	}}
	emitter := &recordingEmitter{}

	g, err := Open(ctx, backend, WithEmitter(emitter))
	if err != nil {
		t.Fatalf("open should not fail on corrupted records: %v", err)
	}

	if got := emitter.count("gallery.repaired"); got != 3 {
		t.Errorf("expected 3 repair events, got %d", got)
	}
	snap := g.Snapshot()
	if len(snap) != 1 || snap[0].Identity != "GOOD" {
		t.Errorf("expected only GOOD in snapshot, got %+v", snap)
	}
	sums := g.Summaries()
	if len(sums) != 1 || sums[0].Identity != "GOOD" {
		t.Errorf("expected only GOOD listed, got %+v", sums)
	}

	if err := g.Enroll(ctx, "RAGGED", attendance.Embedding{0, 1}, "new.jpg"); err != nil {
		t.Fatalf("enroll into repaired record: %v", err)
	}
	rec, _ := g.Get("RAGGED")
	if len(rec.Embeddings) != 1 || !rec.Valid() {
		t.Errorf("expected healed record with 1 embedding, got %+v", rec)
	}
	sums = g.Summaries()
	if len(sums) != 2 || sums[1].Identity != "RAGGED" || sums[1].Embeddings != 1 {
		t.Errorf("expected RAGGED listed again after enrollment, got %+v", sums)
	}
}

func TestGallery_SnapshotOrder(t *testing.T) {
	ctx := context.Background()
	g, _ := Open(ctx, &memBackend{})
	for _, id := range []string{"C", "A", "B"} {
		g.Enroll(ctx, id, attendance.Embedding{1}, id+".jpg")
	}

	snap := g.Snapshot()
	got := []string{snap[0].Identity, snap[1].Identity, snap[2].Identity}
	if fmt.Sprint(got) != "[C A B]" {
		t.Errorf("expected enrollment order [C A B], got %v", got)
	}
	sums := g.Summaries()
	if sums[0].Identity != "A" {
		t.Errorf("expected summaries sorted by id, got %v", sums)
	}
}

func TestGallery_ConcurrentEnrollAndSnapshot(t *testing.T) {
	ctx := context.Background()
	g, _ := Open(ctx, &memBackend{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 20 {
				g.Enroll(ctx, fmt.Sprintf("S%d", i), attendance.Embedding{float32(j), 1}, "x.jpg")
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				for _, e := range g.Snapshot() {
					if len(e.Embeddings) == 0 {
						t.Error("snapshot exposed an identity without embeddings")
					}
				}
			}
		}()
	}
	wg.Wait()

	if g.Len() != 8 {
		t.Errorf("expected 8 identities, got %d", g.Len())
	}
	rec, _ := g.Get("S3")
	if len(rec.Embeddings) != 20 {
		t.Errorf("expected 20 embeddings for S3, got %d", len(rec.Embeddings))
	}
}

func TestFileBackend_RoundTripAndCorruption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gallery.json")

	g, err := Open(ctx, NewFileBackend(path))
	if err != nil {
		t.Fatalf("open empty: %v", err)
	}
	g.Enroll(ctx, "S1", attendance.Embedding{0.5, 0.5}, "s1.jpg")
	g.Enroll(ctx, "S2", attendance.Embedding{0.1, 0.9}, "s2.jpg")

	reopened, err := Open(ctx, NewFileBackend(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 identities after reopen, got %d", reopened.Len())
	}

	// Corrupt one record on disk by hand.
	data := `{"S1": {"embeddings": [[0.5, 0.5]], "imagePaths": ["s1.jpg"], "registeredOn": "2026-01-01T00:00:00Z"},
	          "S2": "not a record"}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	emitter := &recordingEmitter{}
	healed, err := Open(ctx, NewFileBackend(path), WithEmitter(emitter))
	if err != nil {
		t.Fatalf("open corrupted: %v", err)
	}
	if healed.Len() != 1 {
		t.Errorf("expected 1 usable identity, got %d", healed.Len())
	}
	if emitter.count("gallery.repaired") != 1 {
		t.Errorf("expected 1 repair event, got %d", emitter.count("gallery.repaired"))
	}
	if err := healed.Enroll(ctx, "S2", attendance.Embedding{0.2, 0.8}, "s2b.jpg"); err != nil {
		t.Fatalf("enroll healed identity: %v", err)
	}

	final, err := Open(ctx, NewFileBackend(path))
	if err != nil {
		t.Fatalf("final open: %v", err)
	}
	if final.Len() != 2 {
		t.Errorf("expected 2 identities once healed, got %d", final.Len())
	}
}

func TestFileBackend_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	if err := os.WriteFile(path, []byte("[1,2,3]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), NewFileBackend(path)); err == nil {
		t.Error("expected error for non-object gallery file")
	}
}
