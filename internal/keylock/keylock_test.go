package keylock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMutexSerializesSameKey(t *testing.T) {
	locker := NewMutex()
	ctx := context.Background()

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "entity/1")
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer release()

			// Unsynchronized read-modify-write; the lock is the only guard.
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("lost updates under the key lock: counter = %d, want %d", counter, workers)
	}
}

func TestMutexIndependentKeys(t *testing.T) {
	locker := NewMutex()
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer releaseA()

	// Holding "a" must not block "b".
	done := make(chan struct{})
	go func() {
		releaseB, err := locker.Acquire(ctx, "b")
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("independent key blocked behind an unrelated lock")
	}
}

func TestMutexCancelWhileWaiting(t *testing.T) {
	locker := NewMutex()

	release, err := locker.Acquire(context.Background(), "contended")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// A second writer queues behind the holder; cancelling its context must
	// unblock it even though the lock is never released to it.
	ctx, cancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		r, err := locker.Acquire(ctx, "contended")
		if err == nil {
			r()
		}
		waitErr <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter queue
	cancel()

	select {
	case err := <-waitErr:
		if err == nil {
			t.Fatalf("cancelled waiter acquired the held lock")
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled waiter stayed blocked on the held lock")
	}

	// The holder's lock is intact and still usable.
	release()
	r2, err := locker.Acquire(context.Background(), "contended")
	if err != nil {
		t.Fatalf("reacquire after cancelled waiter failed: %v", err)
	}
	r2()
}

func TestMutexCancelledContext(t *testing.T) {
	locker := NewMutex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := locker.Acquire(ctx, "x"); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestMutexCleansUpIdleKeys(t *testing.T) {
	locker := NewMutex()
	ctx := context.Background()

	release, _ := locker.Acquire(ctx, "short-lived")
	release()

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.locks) != 0 {
		t.Fatalf("released keys must not accumulate: %d entries", len(locker.locks))
	}
}
