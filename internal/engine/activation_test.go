package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bitempo/bitempo/internal/domain"
	"github.com/bitempo/bitempo/internal/repository"
	"github.com/bitempo/bitempo/internal/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestFutureWriteSchedulesActivation(t *testing.T) {
	eng, clock, sched := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "old"}, domain.VersionCreated, WriteOptions{})

	future := clock.Now().Add(time.Hour)
	record, err := eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "new"}, domain.VersionChanged,
		WriteOptions{EffectiveTime: future})
	if err != nil {
		t.Fatalf("future write failed: %v", err)
	}

	task := sched.lastScheduled(t)
	if !task.RunAt.Equal(future) {
		t.Fatalf("task due at %v, want %v", task.RunAt, future)
	}
	if task.HistoryID != record.HistoryID {
		t.Fatalf("task targets history %d, want %d", task.HistoryID, record.HistoryID)
	}

	meta, _ := eng.SystemHistory(ctx, record.HistoryID)
	latest := meta[len(meta)-1]
	if latest.TaskStatus != domain.TaskScheduled {
		t.Fatalf("expected SCHEDULED task status, got %s", latest.TaskStatus)
	}
	if latest.TaskName == nil || *latest.TaskName != task.Name {
		t.Fatalf("meta record does not own the scheduled task")
	}

	// Until the activation fires, the projection still shows the old version.
	current, _ := eng.Current(ctx, testType, id)
	if current == nil || current.Snapshot["state"] != "old" {
		t.Fatalf("projection moved ahead of valid time: %+v", current)
	}
}

func TestActivationAppliesFutureRecord(t *testing.T) {
	eng, clock, sched := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "old"}, domain.VersionCreated, WriteOptions{})
	future := clock.Now().Add(time.Hour)
	record, _ := eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "new"}, domain.VersionChanged,
		WriteOptions{EffectiveTime: future})
	task := sched.lastScheduled(t)

	clock.Advance(2 * time.Hour)
	eng.activate(ctx, task)

	current, _ := eng.Current(ctx, testType, id)
	if current == nil || current.Snapshot["state"] != "new" {
		t.Fatalf("activation did not promote the future record: %+v", current)
	}

	meta, _ := eng.SystemHistory(ctx, record.HistoryID)
	latest := meta[len(meta)-1]
	if latest.TaskStatus != domain.TaskDone {
		t.Fatalf("expected DONE task status after firing, got %s", latest.TaskStatus)
	}
}

func TestSupersededActivationIsCancelled(t *testing.T) {
	eng, clock, sched := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "old"}, domain.VersionCreated, WriteOptions{})

	future := clock.Now().Add(time.Hour)
	first, _ := eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "a"}, domain.VersionChanged,
		WriteOptions{EffectiveTime: future})
	firstTask := sched.lastScheduled(t)

	// A second write for the same instant collapses the first record's window.
	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"state": "b"}, domain.VersionChanged,
		WriteOptions{EffectiveTime: future})

	sched.mu.Lock()
	cancelled := append([]string(nil), sched.cancelled...)
	sched.mu.Unlock()
	found := false
	for _, name := range cancelled {
		if name == firstTask.Name {
			found = true
		}
	}
	if !found {
		t.Fatalf("superseded task %q was not cancelled (cancelled: %v)", firstTask.Name, cancelled)
	}

	meta, _ := eng.SystemHistory(ctx, first.HistoryID)
	latest := meta[len(meta)-1]
	if latest.TaskStatus != domain.TaskCancelled {
		t.Fatalf("expected CANCELLED task status, got %s", latest.TaskStatus)
	}

	// Firing the stale task anyway must not resurrect the superseded record.
	clock.Advance(2 * time.Hour)
	eng.activate(ctx, firstTask)

	current, _ := eng.Current(ctx, testType, id)
	if current == nil || current.Snapshot["state"] != "b" {
		t.Fatalf("stale activation changed the projection: %+v", current)
	}
}

func TestGraceWindowSkipsScheduling(t *testing.T) {
	eng, clock, sched := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	// 2s ahead, inside the 5s grace window: treated as already effective.
	record, err := eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 1}, domain.VersionCreated,
		WriteOptions{EffectiveTime: clock.Now().Add(2 * time.Second)})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	sched.mu.Lock()
	scheduled := len(sched.scheduled)
	sched.mu.Unlock()
	if scheduled != 0 {
		t.Fatalf("near-future write must not schedule, got %d tasks", scheduled)
	}

	meta, _ := eng.SystemHistory(ctx, record.HistoryID)
	if meta[len(meta)-1].TaskStatus != domain.TaskNone {
		t.Fatalf("expected NONE task status inside grace window, got %s", meta[len(meta)-1].TaskStatus)
	}
}

func TestWriteDueByWallClockReturns(t *testing.T) {
	// The engine gates scheduling with its own clock while the timer backend
	// runs on the wall clock. With a skewed clock a scheduled record can be
	// due immediately; the write must still return, with the activation
	// firing behind it rather than inline under the held key lock.
	registry := NewRegistry()
	if err := registry.Register(testType); err != nil {
		t.Fatalf("failed to register test type: %v", err)
	}
	clock := &manualClock{now: time.Now().UTC().Add(-time.Hour)}
	sched := scheduler.NewLocal(zap.NewNop())
	defer sched.Stop()

	eng := New(
		registry,
		repository.NewMemoryHistoryStore(),
		repository.NewMemoryMetaStore(),
		repository.NewMemoryCurrentStore(),
		sched,
		zap.NewNop(),
		Options{Clock: clock, Grace: 5 * time.Second},
	)

	done := make(chan error, 1)
	go func() {
		_, err := eng.RecordVersion(context.Background(), testType, uuid.New(),
			domain.Snapshot{"v": 1}, domain.VersionCreated,
			WriteOptions{EffectiveTime: clock.Now().Add(10 * time.Second)})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("write failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("write blocked behind its own activation")
	}
}

func TestStaleActivationIsNoOp(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	// The target history record never existed; firing must do nothing.
	eng.activate(ctx, scheduler.Task{
		Name:      "activate_device_missing",
		RunAt:     time.Now(),
		HistoryID: 9999,
	})
}
