package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/taskvault/taskvault/internal/resolve"
	"github.com/taskvault/taskvault/internal/task"
)

// Status is the engine's externally visible sync state.
type Status string

const (
	// StatusIdle means no sync activity and nothing pending.
	StatusIdle Status = "idle"
	// StatusSyncing means a pipeline run is in flight.
	StatusSyncing Status = "syncing"
	// StatusSynced means the last pipeline run wrote successfully.
	StatusSynced Status = "synced"
	// StatusQueued means a save is waiting for connectivity.
	StatusQueued Status = "queued"
	// StatusConflict means the resolver surfaced conflicts and writes
	// are paused until the user decides.
	StatusConflict Status = "conflict"
	// StatusError means the last pipeline run failed non-retryably or
	// exhausted its retries.
	StatusError Status = "error"
)

// QueueStatus describes the offline queue.
type QueueStatus struct {
	Count        int       `json:"count"`
	IsProcessing bool      `json:"isProcessing"`
	Oldest       time.Time `json:"oldest,omitzero"`
}

// Snapshot is the full status surface handed to subscribers on every
// state change.
type Snapshot struct {
	Status       Status      `json:"status"`
	LastSyncTime time.Time   `json:"lastSyncTime,omitzero"`
	Online       bool        `json:"online"`
	Queue        QueueStatus `json:"queue"`
	HasConflict  bool        `json:"hasConflict"`
	Error        string      `json:"error,omitempty"`
}

// ConflictBundle is the hand-off to the UI when the resolver reports
// simultaneous edits. Snapshots are the exact resolver inputs so a
// use_local or use_remote decision reproduces them faithfully.
type ConflictBundle struct {
	Conflicts      []resolve.Conflict `json:"conflicts"`
	LocalSnapshot  []task.Record      `json:"localSnapshot"`
	RemoteSnapshot []task.Record      `json:"remoteSnapshot"`
	Timestamp      int64              `json:"timestamp"`
}

// Decision is the user's answer to a conflict bundle.
type Decision string

const (
	DecisionUseLocal  Decision = "use_local"
	DecisionUseRemote Decision = "use_remote"
	DecisionMerge     Decision = "merge"
)

// queueOp is one entry in the offline queue. Only saves exist today;
// the Kind field keeps the wire shape open for other operation types.
type queueOp struct {
	ID         string
	Kind       string
	EnqueuedAt time.Time
}

const opSave = "save"

func newSaveOp(now time.Time) queueOp {
	return queueOp{ID: uuid.NewString(), Kind: opSave, EnqueuedAt: now}
}
