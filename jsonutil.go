package memory

import "encoding/json"

// encodeIDs serializes an ordered int64 slice for storage in a TEXT column
// (source_fact_ids on observations and dreams).
func encodeIDs(ids []int64) string {
	if ids == nil {
		ids = []int64{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

// dedupPreserveOrder removes duplicate ids, keeping the first occurrence.
func dedupPreserveOrder(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// unionPreserveOrder appends b's ids onto a, skipping ones already in a.
func unionPreserveOrder(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a))
	out := make([]int64, len(a), len(a)+len(b))
	copy(out, a)
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
