// Package scheduler defers activation of future-dated history records.
//
// Two interchangeable backends exist: an in-process timer backend for
// single-node deployments and a durable Postgres-backed backend for
// multi-worker deployments. Both fire tasks off the scheduling goroutine:
// the caller holds the entity's key lock during Schedule and the firing
// callback re-acquires it, so an in-line execution would deadlock. The
// near-future grace policy lives in the engine, which simply does not
// schedule records that are already effective.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task describes one deferred activation. Name doubles as the task handle;
// it is unique per scheduling attempt so re-scheduling never collides.
type Task struct {
	Name       string
	RunAt      time.Time
	EntityType string
	EntityID   uuid.UUID
	HistoryID  int64
}

// Callback is invoked when a task fires. It must tolerate the referenced
// history record having been deleted or superseded since scheduling.
type Callback func(ctx context.Context, task Task)

// Scheduler arms and cancels deferred activations.
type Scheduler interface {
	// Bind registers the firing callback. Must be called before Schedule.
	Bind(cb Callback)
	// Schedule arms a trigger for the task. The task fires asynchronously,
	// never on the calling goroutine; already-due tasks fire as soon as the
	// backend can run them.
	Schedule(ctx context.Context, task Task) error
	// Cancel removes a pending trigger. Cancelling an unknown or already
	// fired task is a no-op.
	Cancel(ctx context.Context, name string) error
}

// TaskName builds the unique name for an activation, derived from the entity
// identity and scheduling time.
func TaskName(entityType string, entityID uuid.UUID, historyID int64, now time.Time) string {
	return fmt.Sprintf("activate_%s_%s_%d_%d_%s",
		entityType, entityID, historyID, now.Unix(), uuid.NewString())
}
