package domain

import (
	"testing"
	"time"
)

func TestVersionTypeValid(t *testing.T) {
	for _, vt := range []VersionType{VersionCreated, VersionChanged, VersionDeleted} {
		if !vt.Valid() {
			t.Errorf("%q must be valid", vt)
		}
	}
	if VersionType("x").Valid() {
		t.Errorf("unknown marker must be invalid")
	}
	if VersionType("").Valid() {
		t.Errorf("empty marker must be invalid")
	}
}

func TestHistoryRecordCoversAt(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	closed := HistoryRecord{ValidFrom: from, ValidTo: &to}
	cases := []struct {
		at   time.Time
		want bool
	}{
		{from.Add(-time.Second), false},
		{from, true}, // inclusive start
		{from.Add(30 * time.Minute), true},
		{to, false}, // exclusive end
		{to.Add(time.Second), false},
	}
	for _, c := range cases {
		if got := closed.CoversAt(c.at); got != c.want {
			t.Errorf("closed window CoversAt(%v) = %v, want %v", c.at, got, c.want)
		}
	}

	open := HistoryRecord{ValidFrom: from}
	if !open.CoversAt(to.Add(24 * time.Hour)) {
		t.Errorf("open window must cover any later instant")
	}
	if open.CoversAt(from.Add(-time.Second)) {
		t.Errorf("open window must not cover instants before valid_from")
	}
}

func TestIsDeletion(t *testing.T) {
	if !(HistoryRecord{VersionType: VersionDeleted}).IsDeletion() {
		t.Errorf("deletion marker not recognized")
	}
	if (HistoryRecord{VersionType: VersionChanged}).IsDeletion() {
		t.Errorf("change marker misread as deletion")
	}
}
