package intake

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func newTestMover(t *testing.T) (*Mover, string) {
	t.Helper()
	root := t.TempDir()
	m, err := NewMover(
		filepath.Join(root, "processed"),
		filepath.Join(root, "rejected"),
		filepath.Join(root, "failed"),
	)
	if err != nil {
		t.Fatalf("new mover: %v", err)
	}
	m.now = func() time.Time { return time.Date(2026, 3, 2, 9, 5, 7, 0, time.Local) }
	return m, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMover_Move(t *testing.T) {
	m, root := newTestMover(t)

	tests := []struct {
		outcome attendance.Outcome
		dir     string
	}{
		{attendance.OutcomeProcessed, "processed"},
		{attendance.OutcomeRejected, "rejected"},
		{attendance.OutcomeFailed, "failed"},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			src := filepath.Join(root, "S1_Math.jpg")
			writeFile(t, src, "jpeg")

			dest, err := m.Move(src, tt.outcome)
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			want := filepath.Join(root, tt.dir, "20260302090507_S1_Math.jpg")
			if dest != want {
				t.Errorf("expected %s, got %s", want, dest)
			}
			if _, err := os.Stat(src); !os.IsNotExist(err) {
				t.Error("expected source to be gone")
			}
		})
	}
}

func TestMover_AvoidsCollisions(t *testing.T) {
	m, root := newTestMover(t)

	var dests []string
	for range 3 {
		src := filepath.Join(root, "S1.jpg")
		writeFile(t, src, "jpeg")
		dest, err := m.Move(src, attendance.OutcomeProcessed)
		if err != nil {
			t.Fatalf("move: %v", err)
		}
		dests = append(dests, filepath.Base(dest))
	}

	want := []string{"20260302090507_S1.jpg", "20260302090507_S1_1.jpg", "20260302090507_S1_2.jpg"}
	for i := range want {
		if dests[i] != want[i] {
			t.Errorf("expected %s, got %s", want[i], dests[i])
		}
	}
}

func TestMover_MissingSource(t *testing.T) {
	m, root := newTestMover(t)
	_, err := m.Move(filepath.Join(root, "gone.jpg"), attendance.OutcomeProcessed)
	if !errors.Is(err, attendance.ErrArchivalMoveFailed) {
		t.Errorf("expected ErrArchivalMoveFailed, got %v", err)
	}
}
