package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metorial/custom-server/internal/svcerr"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	locker := NewMemoryLocker(5 * time.Second)

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.UsingLock(context.Background(), "csrv/vers:s1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("UsingLock() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInFlight)
	}
	if locker.Len() != 0 {
		t.Errorf("Len() = %d after all holders released, want 0", locker.Len())
	}
}

func TestMemoryLocker_DifferentNamesDoNotBlock(t *testing.T) {
	locker := NewMemoryLocker(time.Second)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.UsingLock(context.Background(), "a", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := locker.UsingLock(context.Background(), "b", func(ctx context.Context) error { return nil })
	close(done)
	if err != nil {
		t.Errorf("UsingLock(b) error = %v while a is held", err)
	}
}

func TestMemoryLocker_Timeout(t *testing.T) {
	locker := NewMemoryLocker(20 * time.Millisecond)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.UsingLock(context.Background(), "s1", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	called := false
	err := locker.UsingLock(context.Background(), "s1", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !svcerr.IsKind(err, svcerr.KindLockTimeout) {
		t.Fatalf("UsingLock() error = %v, want lock timeout", err)
	}
	if called {
		t.Error("fn should not run when the lock was not acquired")
	}
}

func TestMemoryLocker_ReleasesOnErrorAndPanic(t *testing.T) {
	locker := NewMemoryLocker(100 * time.Millisecond)
	boom := errors.New("boom")

	if err := locker.UsingLock(context.Background(), "s1", func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("UsingLock() error = %v, want %v", err, boom)
	}

	func() {
		defer func() { _ = recover() }()
		_ = locker.UsingLock(context.Background(), "s1", func(ctx context.Context) error { panic("fn panicked") })
	}()

	if err := locker.UsingLock(context.Background(), "s1", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("lock not released after error/panic: %v", err)
	}
	if locker.Len() != 0 {
		t.Errorf("Len() = %d, want 0", locker.Len())
	}
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	locker := NewMemoryLocker(0)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.UsingLock(context.Background(), "s1", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := locker.UsingLock(ctx, "s1", func(ctx context.Context) error { return nil })
	if !svcerr.IsKind(err, svcerr.KindLockTimeout) {
		t.Errorf("UsingLock() error = %v, want lock timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("UsingLock() error = %v, want wrapped deadline", err)
	}
}

func TestNamespace(t *testing.T) {
	locker := NewMemoryLocker(time.Second)
	ns := NewNamespace(locker, "csrv/vers")

	if got := ns.Name("csrv_1"); got != "csrv/vers:csrv_1" {
		t.Errorf("Name() = %q, want csrv/vers:csrv_1", got)
	}

	var gotName bool
	err := ns.UsingLock(context.Background(), "csrv_1", func(ctx context.Context) error {
		locker.mu.Lock()
		_, gotName = locker.entries["csrv/vers:csrv_1"]
		locker.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("UsingLock() error = %v", err)
	}
	if !gotName {
		t.Error("namespaced lock name was not used")
	}
}
