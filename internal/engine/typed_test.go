package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bitempo/bitempo/internal/domain"

	"github.com/google/uuid"
)

type testDevice struct {
	Name string `json:"name"`
	RPM  int    `json:"rpm"`
}

func TestTrackedRoundTrip(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()

	devices, err := NewTracked[testDevice](eng, "typed_device")
	if err != nil {
		t.Fatalf("failed to create typed handle: %v", err)
	}

	id := uuid.New()
	if _, err := devices.Record(ctx, id, testDevice{Name: "pump", RPM: 1200}, domain.VersionCreated, WriteOptions{}); err != nil {
		t.Fatalf("typed write failed: %v", err)
	}

	current, err := devices.Current(ctx, id)
	if err != nil {
		t.Fatalf("typed read failed: %v", err)
	}
	if current == nil || current.Name != "pump" || current.RPM != 1200 {
		t.Fatalf("typed round-trip lost data: %+v", current)
	}

	clock.Advance(time.Minute)
	if _, err := devices.Delete(ctx, id, WriteOptions{}); err != nil {
		t.Fatalf("typed delete failed: %v", err)
	}
	current, err = devices.Current(ctx, id)
	if err != nil {
		t.Fatalf("typed read after delete failed: %v", err)
	}
	if current != nil {
		t.Fatalf("expected nil after delete, got %+v", current)
	}
}

func TestTrackedAsOfValid(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	ctx := context.Background()

	devices, err := NewTracked[testDevice](eng, "typed_device")
	if err != nil {
		t.Fatalf("failed to create typed handle: %v", err)
	}

	t0 := clock.Now()
	devices.Record(ctx, uuid.New(), testDevice{Name: "a", RPM: 1}, domain.VersionCreated, WriteOptions{})
	devices.Record(ctx, uuid.New(), testDevice{Name: "b", RPM: 2}, domain.VersionCreated, WriteOptions{})

	values, err := devices.AsOfValid(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("typed as-of failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
}

func TestTrackedRegistrationRespectsFreeze(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.registry.Freeze()

	if _, err := NewTracked[testDevice](eng, "novel_type"); err == nil {
		t.Fatalf("expected registration failure after freeze")
	}
	// A known type stays available.
	if _, err := NewTracked[testDevice](eng, testType); err != nil {
		t.Fatalf("known type must remain registrable: %v", err)
	}
}
