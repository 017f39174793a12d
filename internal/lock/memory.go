package lock

import (
	"context"
	"sync"
)

// MemoryLocker serializes operations within a single process
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock acquires all keys or returns ErrLocked
func (l *MemoryLocker) TryLock(_ context.Context, keys ...string) (Release, error) {
	keys = normalizeKeys(keys)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range keys {
		if _, ok := l.held[k]; ok {
			return nil, ErrLocked
		}
	}
	for _, k := range keys {
		l.held[k] = struct{}{}
	}

	return once(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, k := range keys {
			delete(l.held, k)
		}
	}), nil
}
