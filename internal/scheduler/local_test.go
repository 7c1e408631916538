package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

type firedTasks struct {
	mu    sync.Mutex
	tasks []Task
}

func (f *firedTasks) callback(_ context.Context, task Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

func (f *firedTasks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *firedTasks) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d firings, got %d", n, f.count())
}

func newLocalForTest() (*Local, *firedTasks) {
	sched := NewLocal(testLogger())
	fired := &firedTasks{}
	sched.Bind(fired.callback)
	return sched, fired
}

func TestLocalFiresDueTaskOffCaller(t *testing.T) {
	sched, fired := newLocalForTest()
	defer sched.Stop()

	// Already due. The task must fire, but never on the scheduling
	// goroutine: the engine holds the entity key lock during Schedule and
	// the callback re-acquires it.
	var lock sync.Mutex
	reentered := make(chan struct{})
	sched.Bind(func(_ context.Context, task Task) {
		lock.Lock()
		lock.Unlock()
		fired.callback(context.Background(), task)
		close(reentered)
	})

	lock.Lock()
	task := Task{Name: "t1", RunAt: time.Now().Add(-time.Second), HistoryID: 1}
	if err := sched.Schedule(context.Background(), task); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	// Schedule returned while the lock is still held: no inline execution.
	if fired.count() != 0 {
		t.Fatalf("due task ran on the scheduling goroutine")
	}
	lock.Unlock()

	select {
	case <-reentered:
	case <-time.After(time.Second):
		t.Fatalf("due task never fired")
	}
}

func TestLocalDefersFutureTask(t *testing.T) {
	sched, fired := newLocalForTest()
	defer sched.Stop()

	task := Task{Name: "t1", RunAt: time.Now().Add(50 * time.Millisecond), HistoryID: 1}
	if err := sched.Schedule(context.Background(), task); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if fired.count() != 0 {
		t.Fatalf("future task fired early")
	}
	fired.waitFor(t, 1, time.Second)
}

func TestLocalCancelStopsTimer(t *testing.T) {
	sched, fired := newLocalForTest()
	defer sched.Stop()

	task := Task{Name: "t1", RunAt: time.Now().Add(60 * time.Millisecond), HistoryID: 1}
	sched.Schedule(context.Background(), task)
	if err := sched.Cancel(context.Background(), "t1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if fired.count() != 0 {
		t.Fatalf("cancelled task fired anyway")
	}
}

func TestLocalCancelUnknownIsNoOp(t *testing.T) {
	sched, _ := newLocalForTest()
	defer sched.Stop()

	if err := sched.Cancel(context.Background(), "never-scheduled"); err != nil {
		t.Fatalf("cancelling an unknown task must be a no-op: %v", err)
	}
}

func TestLocalUnboundSchedulerErrors(t *testing.T) {
	sched := NewLocal(testLogger())
	defer sched.Stop()

	err := sched.Schedule(context.Background(), Task{Name: "t1", RunAt: time.Now()})
	if err == nil {
		t.Fatalf("expected error from unbound scheduler")
	}
}

func TestTaskNameUniquePerAttempt(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	a := TaskName("device", id, 7, now)
	b := TaskName("device", id, 7, now)
	if a == b {
		t.Fatalf("task names must be unique per scheduling attempt")
	}
}
