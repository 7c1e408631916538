package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Snapshot holds the tracked field values of an entity at one version.
// Stored as JSONB, so values follow JSON typing (numbers are float64 after a
// round-trip through storage).
type Snapshot map[string]any

// Clone returns an independent deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := make(Snapshot, len(s))
	for key, value := range s {
		out[key] = cloneValue(value)
	}
	return out
}

// Equal reports whether two snapshots carry the same field values.
// Comparison is JSON-semantic, so int(1) and float64(1) compare equal.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for key, value := range s {
		otherValue, ok := other[key]
		if !ok || !valuesEqual(value, otherValue) {
			return false
		}
	}
	return true
}

// ChangedFields returns the sorted keys whose values differ between the
// snapshot and target, including keys present on only one side. The
// synchronizer uses this to write only fields that actually changed.
func (s Snapshot) ChangedFields(target Snapshot) []string {
	changed := map[string]struct{}{}
	for key, value := range s {
		if otherValue, ok := target[key]; !ok || !valuesEqual(value, otherValue) {
			changed[key] = struct{}{}
		}
	}
	for key := range target {
		if _, ok := s[key]; !ok {
			changed[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(changed))
	for key := range changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSONB serializes the snapshot for storage. A nil snapshot is stored
// as an empty object rather than SQL NULL.
func (s Snapshot) MarshalJSONB() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// SnapshotFromJSONB deserializes a stored snapshot.
func SnapshotFromJSONB(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, nil
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if out == nil {
		out = Snapshot{}
	}
	return out, nil
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			out[key] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return value
	}
}

func valuesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Fall back to JSON normalization so values that differ only in Go type
	// (int vs float64, Snapshot vs map) still compare equal.
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}
