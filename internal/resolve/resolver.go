package resolve

import (
	"time"

	"github.com/taskvault/taskvault/internal/config"
	"github.com/taskvault/taskvault/internal/task"
)

// Options carries the resolver thresholds. Zero values are not usable;
// build from DefaultOptions or OptionsFrom.
type Options struct {
	// GracePeriod: a local edit younger than this always wins.
	GracePeriod time.Duration

	// ClearWinner: above this timestamp distance the newer edit auto-wins.
	ClearWinner time.Duration

	// ConflictWindow: inside this distance (and outside ClearWinner) a
	// differing edit pair is a genuine conflict.
	ConflictWindow time.Duration

	// TombstoneTTL: tombstones older than this are pruned at resolve time.
	TombstoneTTL time.Duration
}

// DefaultOptions returns the resolver thresholds from the engine defaults.
func DefaultOptions() Options {
	return OptionsFrom(config.DefaultConfig())
}

// OptionsFrom extracts the resolver thresholds from an engine config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		GracePeriod:    cfg.GracePeriod,
		ClearWinner:    cfg.ClearWinner,
		ConflictWindow: cfg.ConflictWindow,
		TombstoneTTL:   cfg.TombstoneTTL,
	}
}

// Conflict describes one record that needs user arbitration.
type Conflict struct {
	ID     string      `json:"id"`
	Local  task.Record `json:"local"`
	Remote task.Record `json:"remote"`

	// Fields lists which content fields differ (text, completed, tags,
	// priority, order), computed with the same normalization as the
	// content-equality predicate.
	Fields []string `json:"conflictingFields"`
}

// Result is the resolver output. Records is the document to persist both
// remotely and locally; it is complete even when Conflicts is non-empty
// (conflicted ids keep their local version), but callers must not persist
// it while Conflicts is non-empty.
type Result struct {
	Records   []task.Record
	Conflicts []Conflict
}

// Resolve reconciles the current local records (active only), the current
// remote records (active and tombstones) and the set of ids deleted
// locally since the last successful sync.
//
// The function is pure: equal inputs and nowMs produce equal outputs, and
// the inputs are never mutated.
//
// The algorithm runs in four ordered phases:
//  1. Apply remote tombstones: a delete made elsewhere drops the local copy.
//  2. Reconcile active remote records against their local counterparts.
//  3. Handle local-only records: deleted ids become tombstones, the rest
//     are new local creations.
//  4. Carry pre-existing remote tombstones, then prune expired ones.
func Resolve(local, remote []task.Record, deleted map[string]bool, nowMs int64, opts Options) Result {
	localByID := task.ByID(local)
	processed := make(map[string]bool, len(remote))

	var out []task.Record
	var conflicts []Conflict

	// Phase 1: remote tombstones shadow any same-id local record.
	for _, r := range remote {
		if r.Deleted {
			processed[r.ID] = true
		}
	}

	// Phase 2: reconcile active remote records. An active record whose id
	// is tombstoned elsewhere in the document is shadowed outright; the
	// tombstone itself is carried in phase 4.
	for _, r := range remote {
		if r.Deleted {
			continue
		}
		if processed[r.ID] {
			continue // shadowed by a remote tombstone (or duplicate id)
		}
		processed[r.ID] = true

		l, hasLocal := localByID[r.ID]
		switch {
		case !hasLocal && deleted[r.ID]:
			// Deleted locally this session: re-assert the deletion.
			out = append(out, task.Tombstone(r, nowMs))

		case !hasLocal:
			// New remote creation.
			out = append(out, r)

		default:
			if isConflict(l, r, nowMs, opts) {
				conflicts = append(conflicts, Conflict{
					ID:     r.ID,
					Local:  l,
					Remote: r,
					Fields: task.ConflictingFields(l, r),
				})
				out = append(out, l)
				continue
			}
			out = append(out, autoResolve(l, r, nowMs, opts))
		}
	}

	// Phase 3: local-only records.
	for _, l := range local {
		if processed[l.ID] {
			continue
		}
		processed[l.ID] = true

		if deleted[l.ID] {
			out = append(out, task.Tombstone(l, nowMs))
			continue
		}
		out = append(out, l)
	}

	// Phase 4: carry remote tombstones, pruning expired ones.
	cutoff := nowMs - opts.TombstoneTTL.Milliseconds()
	for _, r := range remote {
		if !r.Deleted {
			continue
		}
		if r.DeletedAt <= cutoff {
			continue
		}
		out = append(out, r)
	}

	// Freshly created tombstones carry deletedAt=nowMs and never expire in
	// the same run, so only the carried remote set needed the cutoff.
	if out == nil {
		out = []task.Record{}
	}

	return Result{Records: out, Conflicts: conflicts}
}

// isConflict applies the conflict predicate to an active local/remote pair.
// The rules run in order; the first match decides.
func isConflict(l, r task.Record, nowMs int64, opts Options) bool {
	// Identical content (order included) can never conflict.
	if task.SameContent(l, r) {
		return false
	}

	// Order-only divergence is local presentation, not a content change.
	if task.OnlyOrderDiffers(l, r) {
		return false
	}

	// Grace period: the user's most recent edit always wins.
	if nowMs-l.LastModified < opts.GracePeriod.Milliseconds() {
		return false
	}

	delta := l.LastModified - r.LastModified
	if delta < 0 {
		delta = -delta
	}

	// Clearly sequential edits: the newer one wins.
	if delta > opts.ConflictWindow.Milliseconds() {
		return false
	}

	// A clear temporal winner exists.
	if delta > opts.ClearWinner.Milliseconds() {
		return false
	}

	// Simultaneous edit of the same content within the conflict window.
	return true
}

// autoResolve picks the surviving version of a non-conflicting pair. The
// winner's lastModified is stamped to the pair maximum so the loser cannot
// out-rank it on a later device.
func autoResolve(l, r task.Record, nowMs int64, opts Options) task.Record {
	maxLM := l.LastModified
	if r.LastModified > maxLM {
		maxLM = r.LastModified
	}

	var winner task.Record
	switch {
	case task.SameContent(l, r):
		winner = l
	case task.OnlyOrderDiffers(l, r):
		// Local ordering wins; order is presentation, not content.
		winner = l
	case nowMs-l.LastModified < opts.GracePeriod.Milliseconds():
		winner = l
	case l.LastModified > r.LastModified:
		winner = l
	default:
		// Ties break toward remote for cross-device determinism.
		winner = r
	}

	winner.LastModified = maxLM
	return winner
}
