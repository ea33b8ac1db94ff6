package engine

import (
	"sync"

	"github.com/kozaktomas/face-attendance/internal/cooldown"
)

// keyLocks serializes decisions per identity and context. Entries are
// removed when no goroutine holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[cooldown.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key cooldown.Key) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[cooldown.Key]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
