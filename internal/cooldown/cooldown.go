// Package cooldown tracks the last accepted decision per identity and
// context so rapid resubmissions are rejected as duplicates.
package cooldown

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Key identifies a cooldown slot.
type Key struct {
	Identity string
	Context  string
}

// Tracker is an in-memory map of last-accepted timestamps. Entries older than
// the current window are dropped by Sweep; nothing is persisted.
type Tracker struct {
	mu   sync.Mutex
	last map[Key]time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{last: make(map[Key]time.Time)}
}

// Check reports whether an acceptance at the given time falls inside the
// window of the previous acceptance for key, and how long remains if so.
func (t *Tracker) Check(key Key, at time.Time, window time.Duration) (time.Duration, bool) {
	if window <= 0 {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.last[key]
	if !ok {
		return 0, false
	}
	elapsed := at.Sub(last)
	if elapsed < window {
		return window - elapsed, true
	}
	return 0, false
}

// Record stores an accepted decision, restarting the window for key.
func (t *Tracker) Record(key Key, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[key] = at
}

// Last returns the last accepted time for key.
func (t *Tracker) Last(key Key) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.last[key]
	return at, ok
}

// Sweep drops entries whose window has elapsed at now and returns how many
// were removed.
func (t *Tracker) Sweep(now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, at := range t.last {
		if now.Sub(at) >= window {
			delete(t.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

// ScheduleSweep registers a periodic sweep on the scheduler. window is read
// on every run so settings changes apply to the next sweep.
func (t *Tracker) ScheduleSweep(s *gocron.Scheduler, every time.Duration, window func() time.Duration, logger *slog.Logger) (*gocron.Job, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return s.Every(every).SingletonMode().Do(func() {
		if removed := t.Sweep(time.Now(), window()); removed > 0 {
			logger.Debug("cooldown entries expired", "removed", removed, "remaining", t.Len())
		}
	})
}
