// Package lock serializes event handling per user.
package lock

import (
	"context"
	"sync"
)

// Locker hands out a per-user exclusive section. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, userID uint64) (func(), error)
}

// MemoryLocker is a keyed mutex for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[uint64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[uint64]*slot)}
}

var _ Locker = (*MemoryLocker)(nil)

func (l *MemoryLocker) Lock(ctx context.Context, userID uint64) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[userID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[userID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(userID, s)
		})
	}, nil
}

func (l *MemoryLocker) release(userID uint64, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, userID)
	}
	l.mu.Unlock()
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
