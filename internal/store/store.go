// Package store provides local persistence for the sync engine.
//
// The engine keeps a mirror of the task document plus a handful of
// bookkeeping values (sync timestamps, session flags, UI preferences)
// in a simple key-value store. The SQLite implementation is the one
// used in production; an in-memory implementation backs tests.
//
// The database runs embedded with WAL mode so the engine can read the
// mirror while a sync write is in flight.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/taskvault/taskvault/internal/task"
)

// Well-known keys. Everything the engine persists locally lives under
// one of these.
const (
	// KeyMirror holds the JSON mirror of the task document. It is
	// written before any network activity so a crash never loses edits.
	KeyMirror = "document.mirror"

	// KeyLastLocalModified is the epoch-ms timestamp of the newest
	// local edit.
	KeyLastLocalModified = "sync.last_local_modified"

	// KeyLastRemoteSync is the consistency token of the last document
	// version successfully written to or read from the remote.
	KeyLastRemoteSync = "sync.last_remote_token"

	// KeyPendingDeletes holds the ids deleted locally but not yet
	// propagated to the remote, as a JSON array. Without it a crash
	// between a delete and the next sync would resurrect the record
	// from the remote copy.
	KeyPendingDeletes = "sync.pending_deletes"

	// KeyManualLogout is "true" when the user logged out explicitly,
	// which suppresses automatic re-authentication on startup.
	KeyManualLogout = "session.manual_logout"

	// KeyQuickFilters holds the saved quick-filter tag set as JSON.
	KeyQuickFilters = "ui.quick_filters"

	// KeyPreferredStorage selects the remote backing: "cloud" or "folder".
	KeyPreferredStorage = "storage.preferred"

	// KeyNotifications holds notification preferences as JSON.
	KeyNotifications = "ui.notifications"
)

// ErrNotFound is returned by Get when a key has never been set.
var ErrNotFound = fmt.Errorf("store: key not found")

// KV is the minimal key-value contract the engine needs.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}

// NotificationSettings are the user's reminder preferences.
type NotificationSettings struct {
	Enabled    bool   `json:"enabled"`
	DailyHour  int    `json:"dailyHour"`
	Sound      bool   `json:"sound"`
	QuietUntil string `json:"quietUntil,omitempty"`
}

// SaveMirror writes the document mirror. A nil slice is stored as an
// empty document.
func SaveMirror(kv KV, records []task.Record) error {
	data, err := task.EncodeDocument(records)
	if err != nil {
		return fmt.Errorf("failed to encode mirror: %w", err)
	}
	return kv.Set(KeyMirror, string(data))
}

// LoadMirror reads the document mirror. An absent mirror yields an
// empty document, not an error.
func LoadMirror(kv KV, nowMs int64) ([]task.Record, error) {
	raw, err := kv.Get(KeyMirror)
	if err == ErrNotFound {
		return []task.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	records, _, err := task.DecodeDocument([]byte(raw), nowMs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mirror: %w", err)
	}
	return records, nil
}

// SavePendingDeletes writes the set of locally deleted ids awaiting
// sync. An empty set removes the key.
func SavePendingDeletes(kv KV, ids map[string]bool) error {
	if len(ids) == 0 {
		return kv.Remove(KeyPendingDeletes)
	}
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Strings(list)
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode pending deletes: %w", err)
	}
	return kv.Set(KeyPendingDeletes, string(data))
}

// LoadPendingDeletes reads the pending-delete set, empty when unset.
func LoadPendingDeletes(kv KV) (map[string]bool, error) {
	raw, err := kv.Get(KeyPendingDeletes)
	if err == ErrNotFound {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("invalid pending deletes: %w", err)
	}
	ids := make(map[string]bool, len(list))
	for _, id := range list {
		ids[id] = true
	}
	return ids, nil
}

// SetInt64 stores an integer value under key.
func SetInt64(kv KV, key string, v int64) error {
	return kv.Set(key, strconv.FormatInt(v, 10))
}

// GetInt64 reads an integer value, returning 0 for an absent key.
func GetInt64(kv KV, key string) (int64, error) {
	raw, err := kv.Get(key)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

// SetBool stores a boolean value under key.
func SetBool(kv KV, key string, v bool) error {
	return kv.Set(key, strconv.FormatBool(v))
}

// GetBool reads a boolean value, returning false for an absent key.
func GetBool(kv KV, key string) (bool, error) {
	raw, err := kv.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}

// SaveQuickFilters stores the quick-filter tag set.
func SaveQuickFilters(kv KV, tags []string) error {
	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode quick filters: %w", err)
	}
	return kv.Set(KeyQuickFilters, string(data))
}

// LoadQuickFilters reads the quick-filter tag set, empty when unset.
func LoadQuickFilters(kv KV) ([]string, error) {
	raw, err := kv.Get(KeyQuickFilters)
	if err == ErrNotFound {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("invalid quick filters: %w", err)
	}
	return tags, nil
}

// SaveNotifications stores notification preferences.
func SaveNotifications(kv KV, s NotificationSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode notification settings: %w", err)
	}
	return kv.Set(KeyNotifications, string(data))
}

// LoadNotifications reads notification preferences. Absent settings
// yield the zero value with notifications disabled.
func LoadNotifications(kv KV) (NotificationSettings, error) {
	raw, err := kv.Get(KeyNotifications)
	if err == ErrNotFound {
		return NotificationSettings{}, nil
	}
	if err != nil {
		return NotificationSettings{}, err
	}
	var s NotificationSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return NotificationSettings{}, fmt.Errorf("invalid notification settings: %w", err)
	}
	return s, nil
}
