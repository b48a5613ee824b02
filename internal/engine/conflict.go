package engine

import (
	"context"
	"fmt"

	"github.com/taskvault/taskvault/internal/resolve"
	"github.com/taskvault/taskvault/internal/task"
)

// ErrNoConflict is returned by ResolveConflicts when no bundle is
// pending.
var ErrNoConflict = fmt.Errorf("engine: no conflict awaiting resolution")

// ResolveConflicts commits the user's decision on the pending conflict
// bundle. The chosen document becomes the local mirror, the contested
// records are stamped with a fresh lastModified so the resolver favors
// them, and the result is synced through the regular pipeline without
// debounce delay. Remote edits that landed while the user deliberated
// are therefore picked up by the pipeline's read instead of being
// overwritten. For DecisionMerge, merged is the record list to adopt;
// a nil merged falls back to the default merger (remote base, local
// overlay, local-only records appended).
//
// Offline, the resolved save queues like any other; the decision
// itself is already durable in the mirror.
func (e *Engine) ResolveConflicts(ctx context.Context, decision Decision, merged []task.Record) error {
	e.mu.Lock()
	bundle := e.bundle
	if bundle == nil {
		e.mu.Unlock()
		return ErrNoConflict
	}
	if e.inFlight {
		e.mu.Unlock()
		return fmt.Errorf("engine: sync in flight, retry resolution shortly")
	}

	var chosen []task.Record
	switch decision {
	case DecisionUseLocal:
		chosen = bundle.LocalSnapshot
	case DecisionUseRemote:
		chosen = bundle.RemoteSnapshot
	case DecisionMerge:
		chosen = merged
		if chosen == nil {
			chosen = resolve.DefaultMerge(bundle.LocalSnapshot, bundle.RemoteSnapshot)
		}
	default:
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown decision %q", decision)
	}

	now := e.nowFn().UnixMilli()
	contested := make(map[string]bool, len(bundle.Conflicts))
	for _, c := range bundle.Conflicts {
		contested[c.ID] = true
	}
	adopted := make([]task.Record, len(chosen))
	for i, r := range chosen {
		if contested[r.ID] {
			r = task.Touch(r, now)
		}
		adopted[i] = r
	}

	// Edits made while the user was deciding stay on top of the decision.
	e.doc = e.overlayLateEditsLocked(adopted, bundle.Timestamp)
	e.bundle = nil
	for id := range contested {
		delete(e.deleted, id)
	}
	if err := e.persistLocked(now); err != nil {
		e.bundle = bundle
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	return e.SaveNow(ctx)
}
