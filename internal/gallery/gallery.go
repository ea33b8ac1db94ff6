// Package gallery is the enrollment gallery: a concurrency-safe map from
// identity to stored face embeddings, persisted after every enrollment.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/events"
)

// ErrDimensionMismatch is returned when an embedding does not match the
// dimension of the identity's existing embeddings.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Record is the persisted form of one identity.
type Record struct {
	Embeddings   []attendance.Embedding `json:"embeddings"`
	ImagePaths   []string               `json:"imagePaths"`
	RegisteredOn time.Time              `json:"registeredOn"`
}

// Valid reports whether the record is structurally sound: at least one
// embedding, all of one non-zero dimension, one image path per embedding and
// a registration time.
func (r Record) Valid() bool {
	if len(r.Embeddings) == 0 || len(r.ImagePaths) != len(r.Embeddings) || r.RegisteredOn.IsZero() {
		return false
	}
	dim := len(r.Embeddings[0])
	if dim == 0 {
		return false
	}
	for _, e := range r.Embeddings[1:] {
		if len(e) != dim {
			return false
		}
	}
	return true
}

// Loaded is what a backend returns on startup.
type Loaded struct {
	Records   map[string]Record
	Order     []string // enumeration order, oldest first
	Corrupted []string // identities whose stored record could not be used
}

// Backend persists gallery records.
type Backend interface {
	// Load reads every stored identity.
	Load(ctx context.Context) (*Loaded, error)

	// Save durably stores one identity's full record.
	Save(ctx context.Context, identity string, rec Record) error

	// Close releases backend resources.
	Close() error
}

// Entry is a read-only view of one enrolled identity.
type Entry struct {
	Identity   string
	Embeddings []attendance.Embedding
}

// Summary describes an identity for listings.
type Summary struct {
	Identity     string    `json:"identity"`
	Embeddings   int       `json:"embeddings"`
	RegisteredOn time.Time `json:"registered_on"`
}

// Gallery guards identity records with a single read/write lock. Records are
// replaced rather than mutated, so slices handed to readers never change.
type Gallery struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	backend Backend
	emitter events.Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Gallery.
type Option func(*Gallery)

// WithEmitter publishes self-heal and enrollment events.
func WithEmitter(e events.Emitter) Option {
	return func(g *Gallery) { g.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gallery) { g.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gallery) { g.now = now }
}

// Open loads the gallery from the backend. Corrupted records are
// reinitialized in memory and reported; they never fail the load.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Gallery, error) {
	g := &Gallery{
		records: make(map[string]Record),
		backend: backend,
		emitter: events.Discard{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}

	for _, id := range loaded.Order {
		rec, ok := loaded.Records[id]
		if !ok {
			continue
		}
		g.records[id] = rec
		g.order = append(g.order, id)
	}
	for _, id := range g.order {
		if rec := g.records[id]; !rec.Valid() {
			g.repair(id, "stored record structurally invalid")
		}
	}
	for _, id := range loaded.Corrupted {
		g.repair(id, "stored record unreadable")
	}
	return g, nil
}

// repair reinitializes an identity record. The caller holds the write lock or
// has exclusive access.
func (g *Gallery) repair(identity, why string) {
	if _, exists := g.records[identity]; !exists {
		g.order = append(g.order, identity)
	}
	g.records[identity] = Record{RegisteredOn: g.now()}
	g.logger.Warn("gallery record reinitialized", "identity", identity, "reason", why)
	g.emitter.Emit(events.TypeGalleryRepaired, "gallery record reinitialized", map[string]string{
		"identity": identity,
		"reason":   why,
	})
}

// Enroll appends an embedding to an identity, creating it if absent, and
// persists the result before returning. On persistence failure the in-memory
// state is left unchanged and the error wraps attendance.ErrPersistence.
func (g *Gallery) Enroll(ctx context.Context, identity string, emb attendance.Embedding, imagePath string) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	if len(emb) == 0 {
		return fmt.Errorf("%w: empty embedding", attendance.ErrEmbeddingExtractionFailed)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, exists := g.records[identity]
	if exists && len(prev.Embeddings) > 0 && !prev.Valid() {
		g.repair(identity, "record structurally invalid at enrollment")
		prev = g.records[identity]
	}
	if len(prev.Embeddings) > 0 && len(prev.Embeddings[0]) != len(emb) {
		return fmt.Errorf("%w: identity %s has dimension %d, got %d",
			ErrDimensionMismatch, identity, len(prev.Embeddings[0]), len(emb))
	}

	next := Record{
		Embeddings:   append(slices.Clip(prev.Embeddings), slices.Clone(emb)),
		ImagePaths:   append(slices.Clip(prev.ImagePaths), imagePath),
		RegisteredOn: prev.RegisteredOn,
	}
	if next.RegisteredOn.IsZero() {
		next.RegisteredOn = g.now()
	}

	if err := g.backend.Save(ctx, identity, next); err != nil {
		return fmt.Errorf("%w: save identity %s: %w", attendance.ErrPersistence, identity, err)
	}

	if _, ok := g.records[identity]; !ok {
		g.order = append(g.order, identity)
	}
	g.records[identity] = next

	g.emitter.Emit(events.TypeEnrolled, "embedding enrolled", map[string]any{
		"identity":   identity,
		"embeddings": len(next.Embeddings),
	})
	return nil
}

// Snapshot returns every identity with at least one embedding, in
// enumeration order.
func (g *Gallery) Snapshot() []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entries := make([]Entry, 0, len(g.order))
	for _, id := range g.order {
		rec := g.records[id]
		if len(rec.Embeddings) == 0 {
			continue
		}
		entries = append(entries, Entry{Identity: id, Embeddings: rec.Embeddings})
	}
	return entries
}

// Get returns a copy of one identity's record.
func (g *Gallery) Get(identity string) (Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[identity]
	if !ok {
		return Record{}, false
	}
	return Record{
		Embeddings:   slices.Clone(rec.Embeddings),
		ImagePaths:   slices.Clone(rec.ImagePaths),
		RegisteredOn: rec.RegisteredOn,
	}, true
}

// Len returns the number of identities with at least one embedding.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, rec := range g.records {
		if len(rec.Embeddings) > 0 {
			n++
		}
	}
	return n
}

// Summaries lists identities sorted by id. Records emptied by self-repair
// are left out until they are enrolled again.
func (g *Gallery) Summaries() []Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Summary, 0, len(g.records))
	for id, rec := range g.records {
		if len(rec.Embeddings) == 0 {
			continue
		}
		out = append(out, Summary{Identity: id, Embeddings: len(rec.Embeddings), RegisteredOn: rec.RegisteredOn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Close closes the backend.
func (g *Gallery) Close() error {
	return g.backend.Close()
}
