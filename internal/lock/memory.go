package lock

import (
	"context"
	"sync"
	"time"

	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/svcerr"
)

const memoryBackend = "memory"

type memoryEntry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is a keyed mutex. Entries exist only while some caller holds
// or waits for them.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	timeout time.Duration
}

// NewMemoryLocker creates a keyed mutex. A zero timeout waits until ctx is done.
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]*memoryEntry),
		timeout: timeout,
	}
}

// UsingLock implements Locker.
func (m *MemoryLocker) UsingLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	release, err := m.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

func (m *MemoryLocker) acquire(ctx context.Context, name string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		e = &memoryEntry{sem: make(chan struct{}, 1)}
		m.entries[name] = e
	}
	e.refs++
	m.mu.Unlock()

	waitCtx, cancel := waitContext(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	select {
	case e.sem <- struct{}{}:
		metrics.RecordLockWait(memoryBackend, time.Since(start))
		return func() {
			<-e.sem
			m.unref(name, e)
		}, nil
	case <-waitCtx.Done():
		m.unref(name, e)
		metrics.RecordLockTimeout(memoryBackend)
		return nil, svcerr.LockTimeout(name, waitCtx.Err())
	}
}

func (m *MemoryLocker) unref(name string, e *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, name)
	}
}

// Len returns the number of live lock entries.
func (m *MemoryLocker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
