package games

import (
	"context"
	"github.com/lefinal/flipmatch/errors"
	"sync"
)

// keyedLock provides mutual exclusion per key. Entries are removed when no
// holder or waiter is left.
type keyedLock struct {
	entries map[string]*keyedLockEntry
	// m locks entries.
	m sync.Mutex
}

type keyedLockEntry struct {
	// sem has a capacity of one. Holding the lock means having sent to it.
	sem chan struct{}
	// refs counts holders and waiters.
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{
		entries: make(map[string]*keyedLockEntry),
	}
}

// lock acquires the lock for the given key. It returns the unlock function or
// an error if the context is done before the lock could be acquired.
func (kl *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	kl.m.Lock()
	entry, ok := kl.entries[key]
	if !ok {
		entry = &keyedLockEntry{sem: make(chan struct{}, 1)}
		kl.entries[key] = entry
	}
	entry.refs++
	kl.m.Unlock()

	select {
	case <-ctx.Done():
		kl.release(key, entry)
		return nil, errors.NewContextAbortedError("acquire lock")
	case entry.sem <- struct{}{}:
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			kl.release(key, entry)
		})
	}, nil
}

func (kl *keyedLock) release(key string, entry *keyedLockEntry) {
	kl.m.Lock()
	defer kl.m.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(kl.entries, key)
	}
}

// size returns the number of keys currently held or waited for.
func (kl *keyedLock) size() int {
	kl.m.Lock()
	defer kl.m.Unlock()
	return len(kl.entries)
}
