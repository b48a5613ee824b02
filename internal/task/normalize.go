package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeDocument parses a stored JSON document into normalized records.
// The second return value counts records dropped by normalization (no id,
// or an active record with no text); callers report it for telemetry.
//
// Empty or absent content decodes to an empty document.
func DecodeDocument(data []byte, nowMs int64) ([]Record, int, error) {
	if len(data) == 0 {
		return []Record{}, 0, nil
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("failed to parse document: %w", err)
	}
	recs, dropped := Normalize(raw, nowMs)
	return recs, dropped, nil
}

// EncodeDocument renders the document in its canonical stored form:
// a top-level JSON array with 2-space indentation, tombstones included.
func EncodeDocument(doc []Record) ([]byte, error) {
	if doc == nil {
		doc = []Record{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// Normalize coerces loosely typed record maps (freshly imported, or loaded
// from a document written by an older client) into the invariant shape.
//
// Records without an id, and active records without non-empty text, are
// dropped. Duplicate ids are repaired: a tombstone shadows an active
// record, otherwise the larger lastModified wins. The returned count is
// the number of dropped or shadowed records.
func Normalize(raw []map[string]any, nowMs int64) ([]Record, int) {
	dropped := 0
	seen := make(map[string]int) // id -> index in out
	out := make([]Record, 0, len(raw))

	for _, m := range raw {
		r, ok := normalizeOne(m, nowMs)
		if !ok {
			dropped++
			continue
		}

		i, dup := seen[r.ID]
		if !dup {
			seen[r.ID] = len(out)
			out = append(out, r)
			continue
		}

		// Duplicate id: tombstone wins, then newer lastModified.
		keep := out[i]
		if betterDuplicate(r, keep) {
			out[i] = r
		}
		dropped++
	}

	return out, dropped
}

// betterDuplicate reports whether candidate should replace current when
// both carry the same id.
func betterDuplicate(candidate, current Record) bool {
	if candidate.Deleted != current.Deleted {
		return candidate.Deleted
	}
	return candidate.LastModified > current.LastModified
}

func normalizeOne(m map[string]any, nowMs int64) (Record, bool) {
	r := Record{
		ID:        asString(m["id"]),
		Text:      asString(m["text"]),
		Tags:      normTags(asStrings(m["tags"])),
		Priority:  normPriority(asInt(m["priority"])),
		Completed: asBool(m["completed"]),
		Order:     asInt(m["order"]),
		Deleted:   asBool(m["deleted"]),
	}
	r.Timestamp = asInt64(m["timestamp"])
	r.LastModified = asInt64(m["lastModified"])
	r.DeletedAt = asInt64(m["deletedAt"])

	if r.ID == "" {
		return Record{}, false
	}
	if !r.Deleted && strings.TrimSpace(r.Text) == "" {
		return Record{}, false
	}

	// Repair missing or inconsistent timestamps from older writers.
	if r.Timestamp <= 0 {
		if r.LastModified > 0 {
			r.Timestamp = r.LastModified
		} else {
			r.Timestamp = nowMs
		}
	}
	if r.LastModified < r.Timestamp {
		r.LastModified = r.Timestamp
	}
	if r.Deleted {
		if r.DeletedAt <= 0 {
			r.DeletedAt = r.LastModified
		}
		if r.LastModified < r.DeletedAt {
			r.LastModified = r.DeletedAt
		}
	} else {
		r.DeletedAt = 0
	}

	return r, true
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func asInt(v any) int {
	return int(asInt64(v))
}
