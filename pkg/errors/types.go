package errors

import (
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned by Engine.Start when a sync is in progress.
// Syncs are never queued; the caller should retry after the current run ends.
var ErrAlreadyRunning = New("a sync is already running")

// ErrOffline is returned by Engine.Start when the connectivity signal reports
// that the remote source is unreachable.
var ErrOffline = New("not connected to the network")

// ErrCancelled marks a run that was stopped by the user. It is a terminal
// outcome, not a failure: changes applied before the cancellation point are
// kept.
var ErrCancelled = New("sync cancelled")

// ErrNotRunning is returned by Engine.Cancel when there is no active run.
var ErrNotRunning = New("no sync is running")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// InvalidRangeError represents a sync window whose start date is after its
// end date.
type InvalidRangeError struct {
	Start, End time.Time
}

func (err InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid sync range: start %s is after end %s",
		err.Start.Format("2006-01-02"), err.End.Format("2006-01-02"))
}

// TokenExpiredError represents a continuation token that the remote source
// rejected as expired or invalid. The engine never falls back to a full sync
// on its own; the user has to request one explicitly.
type TokenExpiredError struct {
	Err error
}

func (err TokenExpiredError) Error() string {
	if err.Err == nil {
		return "continuation token expired; run a full sync to re-establish tracking"
	}
	return fmt.Sprintf("continuation token expired; run a full sync to re-establish tracking: %s", err.Err)
}

func (err TokenExpiredError) Unwrap() error {
	return err.Err
}
