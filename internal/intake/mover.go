package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Mover relocates decided captures into the processed, rejected or failed
// directory under a timestamp-prefixed name.
type Mover struct {
	dirs map[attendance.Outcome]string
	now  func() time.Time
}

// NewMover creates the archive directories if needed.
func NewMover(processed, rejected, failed string) (*Mover, error) {
	m := &Mover{
		dirs: map[attendance.Outcome]string{
			attendance.OutcomeProcessed: processed,
			attendance.OutcomeRejected:  rejected,
			attendance.OutcomeFailed:    failed,
		},
		now: time.Now,
	}
	for _, dir := range m.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
		}
	}
	return m, nil
}

// Dir returns the directory for an outcome.
func (m *Mover) Dir(outcome attendance.Outcome) string {
	return m.dirs[outcome]
}

// Move archives path for the given outcome and returns the new location.
// Errors wrap attendance.ErrArchivalMoveFailed; nothing is retried.
func (m *Mover) Move(path string, outcome attendance.Outcome) (string, error) {
	dir, ok := m.dirs[outcome]
	if !ok {
		dir = m.dirs[attendance.OutcomeFailed]
	}

	dest, err := m.destination(dir, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("%w: %w", attendance.ErrArchivalMoveFailed, err)
	}
	if err := os.Rename(path, dest); err != nil {
		var linkErr *os.LinkError
		if !errors.As(err, &linkErr) || errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %w", attendance.ErrArchivalMoveFailed, err)
		}
		// Rename fails across filesystems; fall back to copy and remove.
		if cerr := copyAndRemove(path, dest); cerr != nil {
			return "", fmt.Errorf("%w: %w", attendance.ErrArchivalMoveFailed, cerr)
		}
	}
	return dest, nil
}

// destination picks a free name "YYYYmmddHHMMSS_name", adding a counter
// when two captures land in the same second.
func (m *Mover) destination(dir, name string) (string, error) {
	prefix := m.now().Format(constants.ArchiveTimestampLayout)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, prefix+"_"+name)
	for i := 1; ; i++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if i > 1000 {
			return "", fmt.Errorf("no free archive name for %s", name)
		}
		candidate = filepath.Join(dir, prefix+"_"+stem+"_"+strconv.Itoa(i)+ext)
	}
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
