package redisclient

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// localLocker serializes callers inside a single process. It suits one api-server
// instance without Redis, and tests.
type localLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

func NewLocalLocker(wait time.Duration) Locker {
	return &localLocker{
		entries: make(map[string]*localEntry),
		wait:    wait,
	}
}

func (l *localLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = normalizeKeys(keys)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	var held []*localEntry
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].sem
		}
		l.mu.Lock()
		for _, k := range keys[:len(held)] {
			l.unref(k)
		}
		l.mu.Unlock()
	}()

	for _, k := range keys {
		e := l.ref(k)
		select {
		case e.sem <- struct{}{}:
			held = append(held, e)
		case <-waitCtx.Done():
			l.mu.Lock()
			l.unref(k)
			l.mu.Unlock()
			return ErrLockNotAcquired
		}
	}

	return fn(ctx)
}

func (l *localLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

// unref must be called with l.mu held.
func (l *localLocker) unref(key string) {
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
