package event

import (
	"sort"
	"strings"
	"time"
)

// ShowAs is the free/busy status of an event, matching the values used by the
// remote calendar source.
type ShowAs string

const (
	ShowAsFree             ShowAs = "free"
	ShowAsTentative        ShowAs = "tentative"
	ShowAsBusy             ShowAs = "busy"
	ShowAsOOF              ShowAs = "oof"
	ShowAsWorkingElsewhere ShowAs = "workingElsewhere"
)

// ParseShowAs normalizes a free/busy string from the remote source. Unknown
// values fall back to busy, which is also what the source reports for events
// without an explicit status.
func ParseShowAs(s string) ShowAs {
	switch ShowAs(s) {
	case ShowAsFree, ShowAsTentative, ShowAsBusy, ShowAsOOF, ShowAsWorkingElsewhere:
		return ShowAs(s)
	}
	return ShowAsBusy
}

// Local is an event as it exists in the local store.
type Local struct {
	// ID is the stable local identifier. It never changes, even when the
	// event is overwritten with remote values during a sync.
	ID string

	// ExternalID is the identifier of the event on the remote source. It's
	// empty for events that were created locally and never synced. Non-empty
	// values are unique within the store.
	ExternalID string

	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	ShowAs      ShowAs
	Categories  []string

	CreatedAt time.Time
	UpdatedAt time.Time

	// SyncedAt is set by the sync engine when the event is written during a
	// sync. Manual edits never touch it.
	SyncedAt *time.Time
}

// Remote is an event as reported by the remote calendar source. The End of an
// all-day event follows the source's end-date-exclusive convention: it's
// midnight of the day after the last included day.
type Remote struct {
	ExternalID  string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	ShowAs      ShowAs
	Categories  []string

	// Modified is when the event was last changed on the remote source. It's
	// informational (the sync status records the newest one seen) and takes
	// no part in field comparison.
	Modified time.Time

	// Deleted is only set on entries of delta pages, marking an event that
	// was removed upstream.
	Deleted bool
}

// NormalizeCategories trims whitespace, drops empty entries, deduplicates,
// and sorts so that category lists compare as sets.
func NormalizeCategories(categories []string) []string {
	seen := map[string]bool{}
	var normalized []string
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		normalized = append(normalized, c)
	}
	sort.Strings(normalized)
	return normalized
}

// NormalizeAllDayEnd converts an all-day end from the remote source's
// end-date-exclusive convention to the inclusive representation the local
// store uses: the returned time is midnight of the last included day. Timed
// events are returned unchanged.
//
// Both the diff resolver and anything iterating date ranges must go through
// this function so the two representations are never compared raw.
func NormalizeAllDayEnd(end time.Time, allDay bool) time.Time {
	if !allDay {
		return end
	}
	return end.AddDate(0, 0, -1)
}

// DenormalizeAllDayEnd is the inverse of NormalizeAllDayEnd, restoring the
// end-date-exclusive convention expected by the remote source and by the
// iCalendar format.
func DenormalizeAllDayEnd(end time.Time, allDay bool) time.Time {
	if !allDay {
		return end
	}
	return end.AddDate(0, 0, 1)
}

// SyncedFieldsEqual reports whether the synced fields of the local event
// match the remote event. Only the fields owned by the sync are compared;
// anything else on the local record is ignored. The remote end is normalized
// before comparison.
func (l Local) SyncedFieldsEqual(r Remote) bool {
	if l.Title != r.Title ||
		l.Description != r.Description ||
		l.AllDay != r.AllDay ||
		l.ShowAs != r.ShowAs {
		return false
	}
	if !l.Start.Equal(r.Start) {
		return false
	}
	if !l.End.Equal(NormalizeAllDayEnd(r.End, r.AllDay)) {
		return false
	}
	return categoriesEqual(l.Categories, r.Categories)
}

func categoriesEqual(a, b []string) bool {
	a, b = NormalizeCategories(a), NormalizeCategories(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplyRemote overwrites the synced fields of the local event with the remote
// values, preserving the local ID and any fields outside the synced set. The
// remote end is normalized to the local representation.
func (l Local) ApplyRemote(r Remote) Local {
	l.ExternalID = r.ExternalID
	l.Title = r.Title
	l.Description = r.Description
	l.Start = r.Start
	l.End = NormalizeAllDayEnd(r.End, r.AllDay)
	l.AllDay = r.AllDay
	l.ShowAs = r.ShowAs
	l.Categories = NormalizeCategories(r.Categories)
	return l
}
