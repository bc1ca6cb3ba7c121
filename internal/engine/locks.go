package engine

import (
	"context"
	"sync"
)

// threadLocks hands out one mutex per thread id. Entries are dropped when
// no turn holds or waits on them.
type threadLocks struct {
	mu    sync.Mutex
	locks map[int64]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[int64]*threadLock)}
}

// acquire blocks until the thread's lock is held or ctx is done. The
// returned func releases it.
func (l *threadLocks) acquire(ctx context.Context, threadID int64) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	release := func() {
		<-tl.ch
		l.unref(threadID, tl)
	}

	// Uncontended locks are taken even if ctx is already done.
	select {
	case tl.ch <- struct{}{}:
		return release, nil
	default:
	}

	select {
	case tl.ch <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		l.unref(threadID, tl)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) unref(threadID int64, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, threadID)
	}
}

func (l *threadLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
