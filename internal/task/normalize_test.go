package task

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeDocumentEmpty(t *testing.T) {
	recs, dropped, err := DecodeDocument(nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 || dropped != 0 {
		t.Errorf("expected empty document, got %d records, %d dropped", len(recs), dropped)
	}
}

func TestDecodeDocumentMalformed(t *testing.T) {
	if _, _, err := DecodeDocument([]byte(`{"not":"an array"}`), 1000); err == nil {
		t.Fatal("expected error for non-array document")
	}
}

func TestNormalizeCoercion(t *testing.T) {
	// A document written by an older client: numeric id, missing priority,
	// string booleans, missing timestamps.
	doc := `[
	  {"id": 42, "text": "numeric id", "completed": "true"},
	  {"id": "b", "text": "full", "tags": ["x", "", "x"], "priority": 9,
	   "timestamp": 1000, "lastModified": 500, "order": 2},
	  {"id": "c", "text": "", "deleted": true, "lastModified": 3000}
	]`

	recs, dropped, err := DecodeDocument([]byte(doc), 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 0 {
		t.Errorf("expected 0 dropped, got %d", dropped)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	a := recs[0]
	if a.ID != "42" || !a.Completed || a.Priority != DefaultPriority {
		t.Errorf("bad coercion for first record: %+v", a)
	}
	if a.Timestamp != 9000 || a.LastModified != 9000 {
		t.Errorf("missing timestamps should fall back to now: %+v", a)
	}

	b := recs[1]
	if b.Priority != MaxPriority {
		t.Errorf("out-of-range priority should clamp, got %d", b.Priority)
	}
	if len(b.Tags) != 1 || b.Tags[0] != "x" {
		t.Errorf("tags should be deduplicated and cleaned: %v", b.Tags)
	}
	if b.LastModified != 1000 {
		t.Errorf("lastModified must not precede creation, got %d", b.LastModified)
	}

	c := recs[2]
	if !c.Deleted || c.DeletedAt != 3000 {
		t.Errorf("tombstone repair failed: %+v", c)
	}

	for _, r := range recs {
		if err := r.Validate(); err != nil {
			t.Errorf("normalized record %s should validate: %v", r.ID, err)
		}
	}
}

func TestNormalizeDrops(t *testing.T) {
	doc := `[
	  {"text": "no id"},
	  {"id": "a", "text": "   "},
	  {"id": "b", "text": "keep", "timestamp": 1000, "lastModified": 1000}
	]`

	recs, dropped, err := DecodeDocument([]byte(doc), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", dropped)
	}
	if len(recs) != 1 || recs[0].ID != "b" {
		t.Errorf("unexpected survivors: %+v", recs)
	}
}

func TestNormalizeDuplicateIDs(t *testing.T) {
	doc := `[
	  {"id": "a", "text": "older", "timestamp": 1000, "lastModified": 1000},
	  {"id": "a", "text": "newer", "timestamp": 1000, "lastModified": 2000},
	  {"id": "b", "text": "active", "timestamp": 1000, "lastModified": 9000},
	  {"id": "b", "text": "active", "deleted": true, "deletedAt": 2000,
	   "timestamp": 1000, "lastModified": 2000}
	]`

	recs, dropped, err := DecodeDocument([]byte(doc), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 2 {
		t.Errorf("expected 2 shadowed duplicates, got %d", dropped)
	}

	byID := ByID(recs)
	if byID["a"].Text != "newer" {
		t.Errorf("newer lastModified should win for id a, got %q", byID["a"].Text)
	}
	if !byID["b"].Deleted {
		t.Error("tombstone should shadow the active duplicate for id b")
	}
}

func TestEncodeDocumentRoundTrip(t *testing.T) {
	doc := []Record{
		New("a", "first", 1000),
		Tombstone(New("b", "second", 1000), 2000),
	}

	data, err := EncodeDocument(doc)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Canonical form: top-level array, 2-space indentation.
	if !strings.HasPrefix(string(data), "[\n  {") {
		t.Errorf("expected 2-space indented array, got prefix %q", string(data[:8]))
	}

	var back []Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
	if len(back) != 2 || !reflect.DeepEqual(back, doc) {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestEncodeDocumentNil(t *testing.T) {
	data, err := EncodeDocument(nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("nil document should encode as empty array, got %q", data)
	}
}

func TestPhotoRefs(t *testing.T) {
	text := "before ![pic](external:photos/photo_1712000000000_abc123def.jpg) after " +
		"![](external:photos/photo_1712000000001_zzzzzzzzz.jpg) plain ![x](https://example.com/a.jpg)"

	refs := PhotoRefs(text)
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %v", refs)
	}
	if refs[0] != "photos/photo_1712000000000_abc123def.jpg" {
		t.Errorf("unexpected first ref: %s", refs[0])
	}

	if refs := PhotoRefs("no photos here"); refs != nil {
		t.Errorf("expected nil, got %v", refs)
	}
}

func TestNewPhotoName(t *testing.T) {
	name := NewPhotoName(1712000000000)
	if !strings.HasPrefix(name, "photo_1712000000000_") || !strings.HasSuffix(name, ".jpg") {
		t.Errorf("unexpected name shape: %s", name)
	}
	random := strings.TrimSuffix(strings.TrimPrefix(name, "photo_1712000000000_"), ".jpg")
	if len(random) != 9 {
		t.Errorf("expected 9-char random segment, got %q", random)
	}
	if name == NewPhotoName(1712000000000) {
		t.Error("names should not repeat for the same millisecond")
	}
}

func TestPhotoRefRoundTrip(t *testing.T) {
	name := NewPhotoName(1000)
	text := "task with " + PhotoRef("receipt", name)

	refs := PhotoRefs(text)
	if len(refs) != 1 || refs[0] != PhotoFolder+"/"+name {
		t.Errorf("round trip failed: %v", refs)
	}
}
