package resolve

import "github.com/taskvault/taskvault/internal/task"

// DefaultMerge builds the record list used when the user resolves a
// conflict bundle with the merge strategy but supplies no hand-edited
// list: start from the remote snapshot, overlay every local record by id
// (local wins on collision), then append local-only records.
//
// This biases toward keeping the local user's work while retaining
// remote-only creations.
func DefaultMerge(local, remote []task.Record) []task.Record {
	localByID := task.ByID(local)

	merged := make([]task.Record, 0, len(remote)+len(local))
	overlaid := make(map[string]bool, len(local))

	for _, r := range remote {
		if l, ok := localByID[r.ID]; ok {
			merged = append(merged, l)
			overlaid[r.ID] = true
			continue
		}
		merged = append(merged, r)
	}

	for _, l := range local {
		if overlaid[l.ID] {
			continue
		}
		merged = append(merged, l)
	}

	return merged
}
