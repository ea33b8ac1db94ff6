package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileBackend stores the gallery as a single JSON object keyed by identity.
// The whole file is rewritten atomically on every save.
type FileBackend struct {
	path string
	mu   sync.Mutex
	raw  map[string]json.RawMessage
}

// NewFileBackend creates a backend for the JSON file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, raw: make(map[string]json.RawMessage)}
}

// Load reads the file. A missing file is an empty gallery; a file that is not
// a JSON object is an error; individual undecodable records are reported as
// corrupted and kept on disk until they are overwritten.
func (b *FileBackend) Load(_ context.Context) (*Loaded, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loaded := &Loaded{Records: make(map[string]Record)}

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return loaded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gallery file: %w", err)
	}
	if len(data) == 0 {
		return loaded, nil
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse gallery file %s: %w", b.path, err)
	}
	b.raw = raw

	for id, msg := range raw {
		var rec Record
		if err := json.Unmarshal(msg, &rec); err != nil {
			loaded.Corrupted = append(loaded.Corrupted, id)
			continue
		}
		loaded.Records[id] = rec
		loaded.Order = append(loaded.Order, id)
	}

	// JSON objects carry no order; registration time stands in for it.
	sort.SliceStable(loaded.Order, func(i, j int) bool {
		ri, rj := loaded.Records[loaded.Order[i]], loaded.Records[loaded.Order[j]]
		if !ri.RegisteredOn.Equal(rj.RegisteredOn) {
			return ri.RegisteredOn.Before(rj.RegisteredOn)
		}
		return loaded.Order[i] < loaded.Order[j]
	})
	sort.Strings(loaded.Corrupted)
	return loaded, nil
}

// Save replaces one identity and rewrites the file.
func (b *FileBackend) Save(_ context.Context, identity string, rec Record) error {
	msg, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev, had := b.raw[identity]
	b.raw[identity] = msg
	if err := b.writeFile(); err != nil {
		if had {
			b.raw[identity] = prev
		} else {
			delete(b.raw, identity)
		}
		return err
	}
	return nil
}

func (b *FileBackend) writeFile() error {
	data, err := json.MarshalIndent(b.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal gallery: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create gallery dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".gallery-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write gallery: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync gallery: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close gallery: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace gallery: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}
