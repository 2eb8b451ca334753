package sync

import (
	"github.com/destacey/calsync/pkg/event"
)

// Update pairs a remote event with the local record it overwrites. The local
// record is carried along so that the apply step can preserve the local ID
// and any fields outside the synced set.
type Update struct {
	Local  event.Local
	Remote event.Remote
}

// Changeset is the set of store operations needed to reconcile the local
// events with the remote ones. It's computed purely from its inputs; applying
// it is the engine's job.
type Changeset struct {
	Creates []event.Remote
	Updates []Update

	// Deletes holds the local IDs of events removed upstream.
	Deletes []string
}

// Empty returns whether the changeset contains no operations.
func (cs Changeset) Empty() bool {
	return len(cs.Creates) == 0 && len(cs.Updates) == 0 && len(cs.Deletes) == 0
}

// Size returns the number of operations in the changeset.
func (cs Changeset) Size() int {
	return len(cs.Creates) + len(cs.Updates) + len(cs.Deletes)
}

// ResolveFull compares the full remote set against the previously synced
// local events:
//   - Remote events with no local match are created.
//   - Matches whose synced fields differ are updated, overwriting the local
//     values but keeping the local ID.
//   - Local events absent from the remote set were removed upstream, so
//     they're deleted.
//
// Only events with an external ID are considered; the caller passes the
// synced subset, so events created locally and never synced are implicitly
// preserved.
func ResolveFull(local []event.Local, remote []event.Remote) Changeset {
	byExternalID := map[string]event.Local{}
	for _, l := range local {
		if l.ExternalID != "" {
			byExternalID[l.ExternalID] = l
		}
	}

	var cs Changeset
	seen := map[string]bool{}
	for _, r := range remote {
		seen[r.ExternalID] = true
		l, ok := byExternalID[r.ExternalID]
		if !ok {
			cs.Creates = append(cs.Creates, r)
			continue
		}
		if !l.SyncedFieldsEqual(r) {
			cs.Updates = append(cs.Updates, Update{Local: l, Remote: r})
		}
	}

	for _, l := range local {
		if l.ExternalID != "" && !seen[l.ExternalID] {
			cs.Deletes = append(cs.Deletes, l.ID)
		}
	}
	return cs
}

// ResolveDelta computes the operations for one delta page. The local lookup
// only needs to contain events matching the page's external IDs.
//
// Deletion markers delete the matching local event if there is one; deleting
// an event that's already gone is a no-op, so re-applying a page is
// idempotent. Upserts create or overwrite. Unlike full mode, absence from
// the page means "unchanged", never "deleted".
func ResolveDelta(local map[string]event.Local, page []event.Remote) Changeset {
	var cs Changeset
	for _, r := range page {
		l, ok := local[r.ExternalID]
		if r.Deleted {
			if ok {
				cs.Deletes = append(cs.Deletes, l.ID)
			}
			continue
		}
		if !ok {
			cs.Creates = append(cs.Creates, r)
			continue
		}
		if !l.SyncedFieldsEqual(r) {
			cs.Updates = append(cs.Updates, Update{Local: l, Remote: r})
		}
	}
	return cs
}

// externalIDs returns the external IDs mentioned by a delta page, for the
// store lookup.
func externalIDs(page []event.Remote) []string {
	ids := make([]string, 0, len(page))
	for _, r := range page {
		if r.ExternalID != "" {
			ids = append(ids, r.ExternalID)
		}
	}
	return ids
}
