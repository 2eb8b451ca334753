package store

import (
	"time"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/event"
)

// ErrNotFound is returned when an event lookup doesn't match any record.
var ErrNotFound = errors.New("not found")

// SyncConfig is the persisted window of remote events fetched by a full sync.
type SyncConfig struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// Validate checks that both dates are set and that the window isn't inverted.
func (c SyncConfig) Validate() error {
	if c.StartDate.IsZero() {
		return errors.MissingFieldError{Field: "startDate"}
	}
	if c.EndDate.IsZero() {
		return errors.MissingFieldError{Field: "endDate"}
	}
	if c.StartDate.After(c.EndDate) {
		return errors.InvalidRangeError{Start: c.StartDate, End: c.EndDate}
	}
	return nil
}

// SyncStatus is the persisted state of the sync engine. It starts out empty
// on first run, is replaced atomically at the end of a successful sync, and
// is only ever cleared by an explicit user action.
type SyncStatus struct {
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`

	// ContinuationToken is the opaque token handed back by the remote source.
	// It's never parsed locally, only checked for presence.
	ContinuationToken string `json:"continuationToken,omitempty"`

	LastEventModified *time.Time `json:"lastEventModified,omitempty"`
}

// Store is the local persistence consumed by the sync engine and the CLI.
type Store interface {
	// ListEvents returns the events overlapping [start, end], ordered by
	// start time.
	ListEvents(start, end time.Time) ([]event.Local, error)

	// ListSynced returns every event with a non-empty external ID, i.e. the
	// set of previously synced events.
	ListSynced() ([]event.Local, error)

	// GetByExternalIDs returns the events matching the given external IDs,
	// keyed by external ID. IDs with no local match are simply absent.
	GetByExternalIDs(ids []string) (map[string]event.Local, error)

	// CreateEvent inserts the event and returns it with its assigned ID and
	// timestamps filled in.
	CreateEvent(e event.Local) (event.Local, error)

	// UpdateEvent overwrites the event with the given local ID.
	UpdateEvent(id string, e event.Local) error

	// DeleteEvent removes the event and reports whether it existed.
	DeleteEvent(id string) (bool, error)

	GetSyncConfig() (SyncConfig, error)
	SetSyncConfig(SyncConfig) error
	GetSyncStatus() (SyncStatus, error)
	SetSyncStatus(SyncStatus) error

	// ClearSyncData resets the sync status without touching events.
	ClearSyncData() error

	// ClearAllData deletes every event and then resets the sync status, since
	// a continuation token referencing deleted state is meaningless.
	ClearAllData() error

	Close() error
}
