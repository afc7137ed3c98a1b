package files

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type keyedSem struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyedLocker gives mutual exclusion per string key. Entries are dropped once
// no goroutine holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedSem
}

// NewKeyedLocker creates an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedSem)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ks, ok := l.locks[key]
	if !ok {
		ks = &keyedSem{sem: semaphore.NewWeighted(1)}
		l.locks[key] = ks
	}
	ks.refs++
	l.mu.Unlock()

	if err := ks.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, ks)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ks.sem.Release(1)
			l.unref(key, ks)
		})
	}, nil
}

func (l *KeyedLocker) unref(key string, ks *keyedSem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ks.refs--
	if ks.refs == 0 && l.locks[key] == ks {
		delete(l.locks, key)
	}
}

// Len reports how many keys are currently tracked.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
