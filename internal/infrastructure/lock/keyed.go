// Package lock provides per-item locks serializing snapshot cascades.
package lock

import (
	"context"
	"sync"

	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
)

// KeyedMutex is an in-process lock per item key. Entries are refcounted and
// removed once no goroutine holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[entity.ItemKey]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{} // capacity 1: a token in the channel means held
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[entity.ItemKey]*keyedEntry)}
}

var _ snapshot.Locker = (*KeyedMutex)(nil)

// Lock blocks until key is held or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key entity.ItemKey) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}, nil
}

func (m *KeyedMutex) release(key entity.ItemKey, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
