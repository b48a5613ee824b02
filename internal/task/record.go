package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Priority bounds. DefaultPriority is assumed when a stored record
// carries no priority at all.
const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// ErrInvalidRecord is wrapped by Validate for any malformed record.
var ErrInvalidRecord = errors.New("invalid record")

// Record represents a single task. Timestamps are wall-clock epoch
// milliseconds, matching the stored JSON document format.
//
// A record with Deleted=true is a tombstone: a deletion marker that keeps
// its ID occupied so other devices learn about the delete. Tombstones keep
// their remaining fields so a future "undelete" feature could restore them.
type Record struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
	Priority  int      `json:"priority"`
	Completed bool     `json:"completed"`

	// Order is the position within the same-priority group. Purely local
	// presentation; never treated as a content change by the resolver.
	Order int `json:"order"`

	// ===== Timestamps (conflict resolution) =====
	Timestamp    int64 `json:"timestamp"`    // creation time, never mutated
	LastModified int64 `json:"lastModified"` // last content-changing edit

	// ===== Deletion =====
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedAt int64 `json:"deletedAt,omitempty"`
}

// New creates an active record with the given id and text at nowMs.
func New(id, text string, nowMs int64) Record {
	return Record{
		ID:           id,
		Text:         text,
		Priority:     DefaultPriority,
		Timestamp:    nowMs,
		LastModified: nowMs,
	}
}

// Active reports whether the record is a live task (not a tombstone).
func (r Record) Active() bool {
	return !r.Deleted
}

// Touch returns a copy of r with LastModified set to nowMs.
func Touch(r Record, nowMs int64) Record {
	r.LastModified = nowMs
	return r
}

// Tombstone converts r into a deletion marker. The returned record keeps
// the same ID and content fields but carries Deleted=true, DeletedAt and
// LastModified stamped at nowMs.
func Tombstone(r Record, nowMs int64) Record {
	r.Deleted = true
	r.DeletedAt = nowMs
	r.LastModified = nowMs
	return r
}

// Validate checks the record against the document invariants.
// All failures wrap ErrInvalidRecord.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Text) == "" && !r.Deleted {
		return fmt.Errorf("%w: text is required for active record %s", ErrInvalidRecord, r.ID)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d (got %d)",
			ErrInvalidRecord, MinPriority, MaxPriority, r.Priority)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp is required for record %s", ErrInvalidRecord, r.ID)
	}
	if r.LastModified < r.Timestamp {
		return fmt.Errorf("%w: lastModified %d predates creation %d for record %s",
			ErrInvalidRecord, r.LastModified, r.Timestamp, r.ID)
	}
	if r.Deleted {
		if r.DeletedAt <= 0 {
			return fmt.Errorf("%w: tombstone %s has no deletedAt", ErrInvalidRecord, r.ID)
		}
		if r.LastModified < r.DeletedAt {
			return fmt.Errorf("%w: tombstone %s has lastModified before deletedAt", ErrInvalidRecord, r.ID)
		}
	}
	return nil
}

// Sanitize fills the defaulted fields of a caller-supplied record: an
// absent (zero) priority becomes DefaultPriority, out-of-range
// priorities clamp, and tags are cleaned the way document
// normalization cleans them. Identity and timestamps are untouched.
func Sanitize(r Record) Record {
	r.Priority = normPriority(r.Priority)
	r.Tags = normTags(r.Tags)
	return r
}

// normTags returns a sorted, deduplicated copy of tags with blank entries
// removed. Tag order is never significant.
func normTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// normPriority maps an absent (zero) priority to the default and clamps
// out-of-range values coming from older writers.
func normPriority(p int) int {
	if p == 0 {
		return DefaultPriority
	}
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// SameContent reports whether a and b carry the same normalized content:
// text (trimmed), completed, tags (as sets), priority (default 3) and
// order (default 0). Timestamps and deletion state are ignored.
func SameContent(a, b Record) bool {
	return OnlyOrderDiffers(a, b) && a.Order == b.Order
}

// OnlyOrderDiffers is SameContent with the order field excluded, so two
// records whose only divergence is drag-and-drop position compare equal.
func OnlyOrderDiffers(a, b Record) bool {
	if strings.TrimSpace(a.Text) != strings.TrimSpace(b.Text) {
		return false
	}
	if a.Completed != b.Completed {
		return false
	}
	if normPriority(a.Priority) != normPriority(b.Priority) {
		return false
	}
	return slices.Equal(normTags(a.Tags), normTags(b.Tags))
}

// ConflictingFields lists which content fields differ between a and b,
// using the same normalization as SameContent. Used to annotate conflict
// bundles so the UI can highlight what actually changed.
func ConflictingFields(a, b Record) []string {
	var fields []string
	if strings.TrimSpace(a.Text) != strings.TrimSpace(b.Text) {
		fields = append(fields, "text")
	}
	if a.Completed != b.Completed {
		fields = append(fields, "completed")
	}
	if !slices.Equal(normTags(a.Tags), normTags(b.Tags)) {
		fields = append(fields, "tags")
	}
	if normPriority(a.Priority) != normPriority(b.Priority) {
		fields = append(fields, "priority")
	}
	if a.Order != b.Order {
		fields = append(fields, "order")
	}
	return fields
}

// ActiveOnly returns the active records of doc, in order.
func ActiveOnly(doc []Record) []Record {
	out := make([]Record, 0, len(doc))
	for _, r := range doc {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out
}

// ByID builds an id → record index. Later duplicates overwrite earlier
// ones; duplicate ids violate the document invariants and are repaired by
// the normaliser before any other code sees them.
func ByID(doc []Record) map[string]Record {
	m := make(map[string]Record, len(doc))
	for _, r := range doc {
		m[r.ID] = r
	}
	return m
}
