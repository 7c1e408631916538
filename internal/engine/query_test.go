package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

func TestAsOfValidExcludesDeletionMarkers(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()
	base := clock.Now()

	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 1}, domain.VersionCreated, WriteOptions{EffectiveTime: base})
	eng.RecordVersion(ctx, testType, id, domain.Snapshot{}, domain.VersionDeleted, WriteOptions{EffectiveTime: base.Add(time.Hour)})

	records, err := eng.AsOfValid(ctx, testType, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("as-of query failed: %v", err)
	}
	for _, record := range records {
		if record.EntityID == id {
			t.Fatalf("deleted entity leaked into as-of results: %+v", record)
		}
	}

	// Before the deletion the created record is visible.
	records, _ = eng.AsOfValid(ctx, testType, base.Add(30*time.Minute))
	found := false
	for _, record := range records {
		if record.EntityID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("entity missing from as-of results inside its lifetime")
	}
}

func TestAsOfSystemSeesRetractedKnowledge(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	// What the system knew at sysT0: an open-ended first version.
	record, _ := eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 1}, domain.VersionCreated, WriteOptions{})
	sysT0 := clock.Now()

	clock.Advance(time.Hour)
	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 2}, domain.VersionChanged, WriteOptions{})

	known, err := eng.AsOfSystem(ctx, testType, sysT0)
	if err != nil {
		t.Fatalf("system as-of failed: %v", err)
	}
	var atT0 *domain.MetaRecord
	for i := range known {
		if known[i].HistoryID == record.HistoryID {
			atT0 = &known[i]
		}
	}
	if atT0 == nil {
		t.Fatalf("first version missing from system as-of at %v", sysT0)
	}
	if atT0.ValidTo != nil {
		t.Fatalf("at sysT0 the first version was still believed open, got valid_to %v", atT0.ValidTo)
	}

	// The lineage itself shows the belief was later replaced.
	meta, _ := eng.SystemHistory(ctx, record.HistoryID)
	if len(meta) != 2 {
		t.Fatalf("expected 2 system versions for the closed record, got %d", len(meta))
	}
	if meta[0].SysTo == nil || !meta[0].SysTo.Equal(meta[1].SysFrom) {
		t.Fatalf("system-time chain broken: %v vs %v", meta[0].SysTo, meta[1].SysFrom)
	}
}

func TestTimelineNestsSystemHistory(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 1}, domain.VersionCreated, WriteOptions{})
	clock.Advance(time.Hour)
	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 2}, domain.VersionChanged, WriteOptions{})

	timeline, err := eng.Timeline(ctx, testType, id)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(timeline))
	}
	// The closed first record accumulated two system versions.
	if len(timeline[0].SystemHistory) != 2 {
		t.Fatalf("expected 2 system versions on the first entry, got %d", len(timeline[0].SystemHistory))
	}
	if len(timeline[1].SystemHistory) != 1 {
		t.Fatalf("expected 1 system version on the open entry, got %d", len(timeline[1].SystemHistory))
	}
}

func TestResyncRebuildsDroppedProjection(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()
	id := uuid.New()

	eng.RecordVersion(ctx, testType, id, domain.Snapshot{"v": 1}, domain.VersionCreated, WriteOptions{})
	clock.Advance(time.Minute)

	// Simulate a lost projection row.
	if err := eng.current.Delete(ctx, testType, id); err != nil {
		t.Fatalf("failed to drop projection: %v", err)
	}
	if err := eng.Resync(ctx, testType, id); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	current, _ := eng.Current(ctx, testType, id)
	if current == nil || current.Snapshot["v"] != 1 {
		t.Fatalf("projection not rebuilt: %+v", current)
	}
}

func TestResyncAll(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		eng.RecordVersion(ctx, testType, id, domain.Snapshot{"i": i}, domain.VersionCreated, WriteOptions{})
		eng.current.Delete(ctx, testType, id)
	}
	clock.Advance(time.Minute)

	if err := eng.ResyncAll(ctx, testType); err != nil {
		t.Fatalf("resync-all failed: %v", err)
	}
	for i, id := range ids {
		current, _ := eng.Current(ctx, testType, id)
		if current == nil || current.Snapshot["i"] != i {
			t.Fatalf("entity %d projection missing after resync-all: %+v", i, current)
		}
	}
}
