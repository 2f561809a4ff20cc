package keylock

import (
	"context"
	"sync"
)

// Locks hands out mutual exclusion per key. Entries are removed once no caller holds or waits for a key.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*lock
}

type lock struct {
	// ch has capacity one, holding the lock means having sent to it
	ch   chan struct{}
	refs int
}

func New() *Locks {
	return &Locks{
		locks: make(map[string]*lock),
	}
}

// Lock blocks until the lock for key is acquired or ctx is done. The returned function releases the lock, it must
// be called exactly once.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &lock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.release(key, kl)
		}, nil

	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
}

func (l *Locks) release(key string, kl *lock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or waited for
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
