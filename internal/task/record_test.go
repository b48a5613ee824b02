package task

import (
	"errors"
	"slices"
	"testing"
)

func TestNew(t *testing.T) {
	r := New("a", "buy milk", 1000)

	if r.ID != "a" || r.Text != "buy milk" {
		t.Errorf("unexpected identity: %+v", r)
	}
	if r.Priority != DefaultPriority {
		t.Errorf("expected default priority %d, got %d", DefaultPriority, r.Priority)
	}
	if r.Timestamp != 1000 || r.LastModified != 1000 {
		t.Errorf("expected timestamps 1000, got ts=%d lm=%d", r.Timestamp, r.LastModified)
	}
	if !r.Active() {
		t.Error("new record should be active")
	}
	if err := r.Validate(); err != nil {
		t.Errorf("new record should validate: %v", err)
	}
}

func TestTouch(t *testing.T) {
	r := New("a", "x", 1000)
	touched := Touch(r, 2000)

	if touched.LastModified != 2000 {
		t.Errorf("expected lastModified 2000, got %d", touched.LastModified)
	}
	if r.LastModified != 1000 {
		t.Error("Touch must not mutate its input")
	}
	if touched.Timestamp != 1000 {
		t.Error("Touch must not change the creation timestamp")
	}
}

func TestTombstone(t *testing.T) {
	r := New("a", "x", 1000)
	ts := Tombstone(r, 5000)

	if !ts.Deleted {
		t.Error("tombstone should be deleted")
	}
	if ts.DeletedAt != 5000 || ts.LastModified != 5000 {
		t.Errorf("expected deletedAt=lastModified=5000, got %d/%d", ts.DeletedAt, ts.LastModified)
	}
	if ts.ID != "a" || ts.Text != "x" {
		t.Error("tombstone should preserve identity and content")
	}
	if ts.Active() {
		t.Error("tombstone should not be active")
	}
	if err := ts.Validate(); err != nil {
		t.Errorf("tombstone should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr bool
	}{
		{"valid", func(r *Record) {}, false},
		{"missing id", func(r *Record) { r.ID = "" }, true},
		{"blank text", func(r *Record) { r.Text = "   " }, true},
		{"priority too low", func(r *Record) { r.Priority = 0 }, true},
		{"priority too high", func(r *Record) { r.Priority = 6 }, true},
		{"zero timestamp", func(r *Record) { r.Timestamp = 0 }, true},
		{"lastModified before creation", func(r *Record) { r.LastModified = 1 }, true},
		{"tombstone without deletedAt", func(r *Record) { r.Deleted = true }, true},
		{"tombstone blank text ok", func(r *Record) {
			r.Text = ""
			r.Deleted = true
			r.DeletedAt = r.LastModified
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("a", "x", 1000)
			tt.mutate(&r)

			err := r.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("error should wrap ErrInvalidRecord: %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	r := Sanitize(Record{ID: "a", Text: "x", Tags: []string{" work ", "", "work"}})

	if r.Priority != DefaultPriority {
		t.Errorf("absent priority = %d, want default %d", r.Priority, DefaultPriority)
	}
	if !slices.Equal(r.Tags, []string{"work"}) {
		t.Errorf("tags not cleaned: %v", r.Tags)
	}

	if got := Sanitize(Record{Priority: 9}).Priority; got != MaxPriority {
		t.Errorf("out-of-range priority = %d, want clamp to %d", got, MaxPriority)
	}
	if got := Sanitize(Record{Priority: 2}).Priority; got != 2 {
		t.Errorf("in-range priority changed to %d", got)
	}
}

func TestSameContent(t *testing.T) {
	base := Record{ID: "a", Text: "hello", Tags: []string{"work", "home"}, Priority: 3, Order: 2}

	tests := []struct {
		name   string
		other  Record
		same   bool
		orderX bool // OnlyOrderDiffers result
	}{
		{
			name:   "identical",
			other:  base,
			same:   true,
			orderX: true,
		},
		{
			name:   "whitespace and tag order ignored",
			other:  Record{ID: "a", Text: "  hello ", Tags: []string{"home", "work"}, Priority: 3, Order: 2},
			same:   true,
			orderX: true,
		},
		{
			name:   "absent priority means default",
			other:  Record{ID: "a", Text: "hello", Tags: []string{"work", "home"}, Priority: 0, Order: 2},
			same:   true,
			orderX: true,
		},
		{
			name:   "order differs",
			other:  Record{ID: "a", Text: "hello", Tags: []string{"work", "home"}, Priority: 3, Order: 7},
			same:   false,
			orderX: true,
		},
		{
			name:   "text differs",
			other:  Record{ID: "a", Text: "goodbye", Tags: []string{"work", "home"}, Priority: 3, Order: 2},
			same:   false,
			orderX: false,
		},
		{
			name:   "completed differs",
			other:  Record{ID: "a", Text: "hello", Tags: []string{"work", "home"}, Priority: 3, Order: 2, Completed: true},
			same:   false,
			orderX: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameContent(base, tt.other); got != tt.same {
				t.Errorf("SameContent = %v, want %v", got, tt.same)
			}
			if got := OnlyOrderDiffers(base, tt.other); got != tt.orderX {
				t.Errorf("OnlyOrderDiffers = %v, want %v", got, tt.orderX)
			}
		})
	}
}

func TestConflictingFields(t *testing.T) {
	a := Record{ID: "a", Text: "hello", Tags: []string{"x"}, Priority: 3, Order: 1}
	b := Record{ID: "a", Text: "bye", Tags: []string{"y"}, Priority: 5, Order: 2, Completed: true}

	got := ConflictingFields(a, b)
	want := []string{"text", "completed", "tags", "priority", "order"}
	if !slices.Equal(got, want) {
		t.Errorf("ConflictingFields = %v, want %v", got, want)
	}

	if fields := ConflictingFields(a, a); len(fields) != 0 {
		t.Errorf("identical records should report no conflicting fields, got %v", fields)
	}
}

func TestActiveOnly(t *testing.T) {
	doc := []Record{
		New("a", "x", 1000),
		Tombstone(New("b", "y", 1000), 2000),
		New("c", "z", 1000),
	}

	active := ActiveOnly(doc)
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "c" {
		t.Errorf("unexpected active set: %+v", active)
	}
}
