// Package engine implements the bitemporal history engine: valid-time
// history (Level 1), system-time meta-history (Level 2), the derived current
// projection, and deferred activation of future-dated facts.
//
// All derived state is maintained by one explicit pipeline, invoked
// synchronously inside the write path:
//
//	insert version -> rechain history -> write meta -> rechain meta
//	               -> sync current table -> schedule decision
//
// The whole sequence runs under a per-entity lock and is the engine's atomic
// unit. Failures past the initial insert never roll it back: valid-time
// history is append-only and derived projections are allowed to lag.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/auth"
	"github.com/bitempo/bitempo/internal/domain"
	"github.com/bitempo/bitempo/internal/keylock"
	"github.com/bitempo/bitempo/internal/metrics"
	"github.com/bitempo/bitempo/internal/repository"
	"github.com/bitempo/bitempo/internal/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine wires the stores, scheduler, lock and clock into the write pipeline.
type Engine struct {
	registry *Registry
	history  repository.HistoryStore
	meta     repository.MetaStore
	current  repository.CurrentStore
	sched    scheduler.Scheduler
	locks    keylock.Locker
	clock    Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	grace    time.Duration
}

// Options carries the engine's optional collaborators.
type Options struct {
	Clock   Clock
	Locker  keylock.Locker
	Metrics *metrics.Metrics
	// Grace is the near-future tolerance: records becoming valid within it
	// are treated as already effective instead of being scheduled.
	Grace time.Duration
}

// New creates an engine and binds it as the scheduler's firing callback.
func New(
	registry *Registry,
	history repository.HistoryStore,
	meta repository.MetaStore,
	current repository.CurrentStore,
	sched scheduler.Scheduler,
	log *zap.Logger,
	opts Options,
) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Locker == nil {
		opts.Locker = keylock.NewMutex()
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}

	e := &Engine{
		registry: registry,
		history:  history,
		meta:     meta,
		current:  current,
		sched:    sched,
		locks:    opts.Locker,
		clock:    opts.Clock,
		log:      log,
		metrics:  opts.Metrics,
		grace:    opts.Grace,
	}
	sched.Bind(e.activate)
	return e
}

// WriteOptions carries the optional metadata of one version write.
type WriteOptions struct {
	Actor  *string
	Reason string
	// EffectiveTime is the valid-time start of the new version; zero means now.
	EffectiveTime time.Time
}

// RecordVersion is the sole write entry point. It appends a new valid-time
// version and runs the full derivation pipeline under the entity's lock.
//
// Only the history insert itself (and an untracked entity type) fail the
// call; rechaining, meta writes, synchronization and scheduling are repaired
// by later writes or an explicit resync and are logged instead of returned.
func (e *Engine) RecordVersion(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
	snapshot domain.Snapshot,
	versionType domain.VersionType,
	opts WriteOptions,
) (*domain.HistoryRecord, error) {
	if !e.registry.IsTracked(entityType) {
		return nil, fmt.Errorf("%s: %w", entityType, domain.ErrNotTracked)
	}
	if !versionType.Valid() {
		return nil, fmt.Errorf("invalid version type %q", versionType)
	}
	if opts.Actor == nil {
		if actor, ok := auth.ActorFromContext(ctx); ok {
			opts.Actor = &actor
		}
	}

	release, err := e.locks.Acquire(ctx, lockKey(entityType, entityID))
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	defer func() { e.metrics.ObservePipeline(time.Since(started)) }()

	now := e.clock.Now()
	effective := opts.EffectiveTime
	if effective.IsZero() {
		effective = now
	}

	record := &domain.HistoryRecord{
		EntityType:   entityType,
		EntityID:     entityID,
		ValidFrom:    effective,
		VersionType:  versionType,
		ChangeReason: opts.Reason,
		Actor:        opts.Actor,
		Snapshot:     snapshot.Clone(),
	}
	if err := e.history.Insert(ctx, record); err != nil {
		return nil, err
	}

	e.runDerivation(ctx, *record, now)
	return record, nil
}

// runDerivation executes every pipeline stage after the durable insert.
// Callers already hold the entity lock.
func (e *Engine) runDerivation(ctx context.Context, trigger domain.HistoryRecord, now time.Time) {
	changes, err := e.rechainHistory(ctx, trigger.EntityType, trigger.EntityID)
	if err != nil {
		e.reportRechainError(trigger.EntityType, err)
	}

	// The triggering record observes its post-rechain window.
	triggerState := trigger
	for _, change := range changes {
		if change.record.HistoryID == trigger.HistoryID {
			triggerState = change.record
		}
	}
	e.writeMeta(ctx, triggerState, DecisionAppend, now)

	for _, change := range changes {
		if change.record.HistoryID == trigger.HistoryID {
			continue
		}
		e.writeMeta(ctx, change.record, change.decision, now)
	}

	e.cancelSuperseded(ctx, changes, trigger.HistoryID)

	if err := e.syncCurrent(ctx, trigger.EntityType, trigger.EntityID); err != nil {
		e.log.Error("current-table sync failed",
			zap.String("entity_type", trigger.EntityType),
			zap.String("entity_id", trigger.EntityID.String()),
			zap.Error(err))
	}

	e.scheduleDecision(ctx, triggerState, now)
}

// writeMeta records one history row's state at Level 2. A refinement updates
// the open meta record in place, keeping its original sys_from; anything else
// appends a new system-time version and rechains the lineage.
func (e *Engine) writeMeta(ctx context.Context, record domain.HistoryRecord, decision RechainDecision, now time.Time) {
	latest, err := e.meta.LatestByHistory(ctx, record.HistoryID)
	switch {
	case err == nil && decision == DecisionUpdateInPlace && latest.SysTo == nil:
		latest.ValidFrom = record.ValidFrom
		latest.ValidTo = record.ValidTo
		latest.VersionType = record.VersionType
		latest.ChangeReason = record.ChangeReason
		latest.Actor = record.Actor
		latest.Snapshot = record.Snapshot.Clone()
		if err := e.meta.Update(ctx, &latest); err != nil {
			e.log.Error("meta in-place update failed",
				zap.Int64("history_id", record.HistoryID), zap.Error(err))
		}
		return

	case err != nil && !errors.Is(err, domain.ErrNotFound):
		e.log.Error("meta lookup failed",
			zap.Int64("history_id", record.HistoryID), zap.Error(err))
		return
	}

	versionType := domain.VersionChanged
	if errors.Is(err, domain.ErrNotFound) {
		versionType = domain.VersionCreated
	}

	meta := &domain.MetaRecord{
		HistoryID:    record.HistoryID,
		EntityType:   record.EntityType,
		EntityID:     record.EntityID,
		SysFrom:      now,
		ValidFrom:    record.ValidFrom,
		ValidTo:      record.ValidTo,
		VersionType:  versionType,
		ChangeReason: record.ChangeReason,
		Actor:        record.Actor,
		Snapshot:     record.Snapshot.Clone(),
		TaskStatus:   domain.TaskNone,
	}
	if err := e.meta.Insert(ctx, meta); err != nil {
		e.log.Error("meta insert failed",
			zap.Int64("history_id", record.HistoryID), zap.Error(err))
		return
	}
	if err := e.rechainMeta(ctx, record.HistoryID); err != nil {
		e.log.Error("meta rechain failed",
			zap.Int64("history_id", record.HistoryID), zap.Error(err))
	}
}

// scheduleDecision arms a deferred activation when the record only becomes
// valid in the future. A scheduling failure is non-fatal: the record
// activates late, via the next incidental write or an explicit resync.
func (e *Engine) scheduleDecision(ctx context.Context, record domain.HistoryRecord, now time.Time) {
	if !record.ValidFrom.After(now.Add(e.grace)) {
		return
	}

	latest, err := e.meta.LatestByHistory(ctx, record.HistoryID)
	if err != nil {
		e.log.Error("cannot schedule activation without a meta record",
			zap.Int64("history_id", record.HistoryID), zap.Error(err))
		e.metrics.IncSchedule("error")
		return
	}

	// Re-scheduling replaces the previous pending trigger.
	if latest.TaskName != nil && latest.TaskStatus == domain.TaskScheduled {
		if err := e.sched.Cancel(ctx, *latest.TaskName); err != nil {
			e.log.Warn("failed to cancel stale activation",
				zap.String("task", *latest.TaskName), zap.Error(err))
		}
	}

	name := scheduler.TaskName(record.EntityType, record.EntityID, record.HistoryID, now)
	task := scheduler.Task{
		Name:       name,
		RunAt:      record.ValidFrom,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		HistoryID:  record.HistoryID,
	}
	if err := e.sched.Schedule(ctx, task); err != nil {
		e.log.Error("failed to schedule activation",
			zap.String("task", name),
			zap.Int64("history_id", record.HistoryID),
			zap.Error(err))
		e.metrics.IncSchedule("error")
		return
	}
	if err := e.meta.UpdateTask(ctx, latest.MetaID, &name, domain.TaskScheduled); err != nil {
		e.log.Error("failed to mark meta record scheduled",
			zap.Int64("meta_id", latest.MetaID), zap.Error(err))
	}
	e.metrics.IncSchedule("scheduled")
}

// cancelSuperseded cancels pending activations of sibling records whose
// validity window collapsed during rechaining: a superseded future-dated fact
// must not fire and resurrect itself.
func (e *Engine) cancelSuperseded(ctx context.Context, changes []rechainChange, triggerID int64) {
	for _, change := range changes {
		record := change.record
		if record.HistoryID == triggerID {
			continue
		}
		if record.ValidTo == nil || record.ValidTo.After(record.ValidFrom) {
			continue
		}
		e.cancelScheduledFor(ctx, record.HistoryID)
	}
}

// cancelScheduledFor cancels every pending activation owned by one history
// row's meta lineage.
func (e *Engine) cancelScheduledFor(ctx context.Context, historyID int64) {
	scheduled, err := e.meta.ListScheduledByHistory(ctx, historyID)
	if err != nil {
		e.log.Error("failed to list scheduled activations",
			zap.Int64("history_id", historyID), zap.Error(err))
		return
	}
	for _, meta := range scheduled {
		if meta.TaskName != nil {
			if err := e.sched.Cancel(ctx, *meta.TaskName); err != nil {
				e.log.Warn("failed to cancel activation",
					zap.String("task", *meta.TaskName), zap.Error(err))
			}
		}
		if err := e.meta.UpdateTask(ctx, meta.MetaID, nil, domain.TaskCancelled); err != nil {
			e.log.Error("failed to mark meta record cancelled",
				zap.Int64("meta_id", meta.MetaID), zap.Error(err))
		}
		e.metrics.IncSchedule("cancelled")
	}
}

// activate fires when a deferred activation is due. The record may have been
// deleted or superseded since scheduling; a missing record is a no-op and a
// superseded one just gets an extra idempotent rechain/sync pass.
func (e *Engine) activate(ctx context.Context, task scheduler.Task) {
	record, err := e.history.GetByID(ctx, task.HistoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.log.Debug("activation target gone, skipping",
				zap.String("task", task.Name),
				zap.Int64("history_id", task.HistoryID))
			e.metrics.IncActivation("stale")
			return
		}
		e.log.Error("failed to resolve activation target",
			zap.String("task", task.Name), zap.Error(err))
		return
	}

	release, err := e.locks.Acquire(ctx, lockKey(record.EntityType, record.EntityID))
	if err != nil {
		e.log.Error("failed to acquire lock for activation",
			zap.String("task", task.Name), zap.Error(err))
		return
	}
	defer release()

	now := e.clock.Now()
	changes, err := e.rechainHistory(ctx, record.EntityType, record.EntityID)
	if err != nil {
		e.reportRechainError(record.EntityType, err)
	}
	for _, change := range changes {
		e.writeMeta(ctx, change.record, change.decision, now)
	}
	if err := e.syncCurrent(ctx, record.EntityType, record.EntityID); err != nil {
		e.log.Error("activation sync failed",
			zap.String("task", task.Name), zap.Error(err))
	}

	latest, err := e.meta.LatestByHistory(ctx, task.HistoryID)
	if err == nil && latest.TaskName != nil && *latest.TaskName == task.Name &&
		latest.TaskStatus == domain.TaskScheduled {
		if err := e.meta.UpdateTask(ctx, latest.MetaID, nil, domain.TaskDone); err != nil {
			e.log.Error("failed to mark activation done",
				zap.Int64("meta_id", latest.MetaID), zap.Error(err))
		}
	}
	e.metrics.IncActivation("applied")

	e.log.Info("activation applied",
		zap.String("task", task.Name),
		zap.Int64("history_id", task.HistoryID))
}

func (e *Engine) reportRechainError(entityType string, err error) {
	var corrupt *domain.ChainCorruptionError
	if errors.As(err, &corrupt) {
		e.metrics.IncCorruption(entityType)
		e.log.Error("chain corruption detected",
			zap.String("entity_type", corrupt.EntityType),
			zap.String("entity_id", corrupt.EntityID.String()),
			zap.Int64("history_id", corrupt.HistoryID),
			zap.String("detail", corrupt.Detail))
		return
	}
	e.log.Error("rechain failed", zap.String("entity_type", entityType), zap.Error(err))
}

func lockKey(entityType string, entityID uuid.UUID) string {
	return entityType + "/" + entityID.String()
}
