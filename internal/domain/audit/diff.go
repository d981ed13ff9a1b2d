package audit

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ChangeRecord is one field-level difference between a before and after payload.
type ChangeRecord struct {
	Field  string      `json:"field"`
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// ComputeChanges returns the field-level diff between two payloads. Both nil
// yields nil. Values are compared by JSON serialization, which is coarse:
// semantically equal structures that serialize differently report as changed.
// Pure and deterministic; records come back in field-name order.
func ComputeChanges(before, after map[string]interface{}) []ChangeRecord {
	if before == nil && after == nil {
		return nil
	}
	if before == nil {
		before = map[string]interface{}{}
	}
	if after == nil {
		after = map[string]interface{}{}
	}

	keys := make([]string, 0, len(before)+len(after))
	seen := make(map[string]bool, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range after {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []ChangeRecord
	for _, k := range keys {
		b, _ := json.Marshal(before[k])
		a, _ := json.Marshal(after[k])
		if bytes.Equal(b, a) {
			continue
		}
		changes = append(changes, ChangeRecord{Field: k, Before: before[k], After: after[k]})
	}
	return changes
}
