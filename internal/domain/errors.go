package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable indicates the health source cannot exist on this
	// platform or deployment. Not retriable without user intervention.
	ErrSourceUnavailable = errors.New("health source unavailable")
	// ErrAuthorizationDenied indicates the user declined or revoked access.
	// Requires an explicit reconnect.
	ErrAuthorizationDenied = errors.New("health authorization denied")
	// ErrFetchFailed indicates a transient provider or network failure.
	// Retriable; the watermark is never advanced on this error.
	ErrFetchFailed = errors.New("health record fetch failed")
	// ErrPersistenceFailed indicates a store write failed at run level.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrSyncInProgress is returned when a sync is already running for the
	// same user.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrNotConnected is returned when sync is requested without an
	// authorized connection.
	ErrNotConnected = errors.New("health source not connected")
)

// SyncError wraps a run-level failure with its taxonomy sentinel so callers
// can match with errors.Is while keeping the underlying cause.
type SyncError struct {
	Kind error // one of the sentinels above
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.Error(), e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) Is(target error) bool { return errors.Is(e.Kind, target) }

// NewSyncError builds a SyncError; a nil cause is allowed.
func NewSyncError(kind, cause error) *SyncError {
	return &SyncError{Kind: kind, Err: cause}
}
