package sync

import (
	"context"
	"time"

	"github.com/destacey/calsync/pkg/event"
)

// Page is one page of results from the remote source.
type Page struct {
	Events []event.Remote

	// NextToken is the opaque continuation token that resumes tracking after
	// this page. It's typically only set on the final page.
	NextToken string

	// Done is true when this is the last page.
	Done bool
}

// Pager iterates over the pages of a fetch. Next must not be called again
// after it returns a page with Done set.
type Pager interface {
	Next(ctx context.Context) (Page, error)
}

// Source is the remote calendar the engine syncs against.
//
// FetchDelta must return an errors.TokenExpiredError (possibly wrapped) when
// the token is rejected as expired or invalid, so that the engine can
// distinguish it from transient failures.
type Source interface {
	// FetchRange returns every event overlapping [start, end]. The final
	// page's NextToken, if any, establishes differential tracking for the
	// window.
	FetchRange(ctx context.Context, start, end time.Time) (Pager, error)

	// FetchDelta returns the changes since the given continuation token:
	// upserts mixed with deletion markers.
	FetchDelta(ctx context.Context, token string) (Pager, error)
}
