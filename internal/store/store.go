// Package store declares the persistence boundary used by the sync
// pipeline. The backing store is a per-user document model: one user record
// holding connection state and lifetime stats, plus an activities
// subcollection. No multi-record transaction is assumed anywhere; numeric
// counters rely on the store's native atomic increment.
package store

import (
	"context"
	"time"

	"github.com/rahulr8/trailblazer/internal/domain"
)

// ActivityStore persists workout activities.
type ActivityStore interface {
	// Exists reports whether an activity with the given natural dedup key
	// (source, externalID) is already stored for the user. This is the
	// idempotence boundary, queried immediately before Insert.
	Exists(ctx context.Context, uid string, source domain.Source, externalID string) (bool, error)

	// Insert stores a new activity and returns its assigned ID. CreatedAt
	// is assigned by the store.
	Insert(ctx context.Context, uid string, activity domain.Activity) (string, error)

	// ListByUser returns the most recent activities, newest first.
	ListByUser(ctx context.Context, uid string, limit int) ([]domain.Activity, error)

	// DistinctActivityDays returns the distinct UTC calendar days (midnight
	// truncated) that have at least one activity, across all sources.
	DistinctActivityDays(ctx context.Context, uid string) ([]time.Time, error)
}

// UserStore persists per-user connection state and aggregate stats.
type UserStore interface {
	// GetConnection returns the health connection state, or nil when the
	// user has never connected or the connection was cleared.
	GetConnection(ctx context.Context, uid string) (*domain.Connection, error)

	// SetConnection overwrites the connection state.
	SetConnection(ctx context.Context, uid string, conn domain.Connection) error

	// TouchLastSync advances the sync watermark.
	TouchLastSync(ctx context.Context, uid string, at time.Time) error

	// ClearConnection removes the connection fields entirely. A subsequent
	// GetConnection returns nil, which signals that a fresh authorization
	// request is required on the next connect.
	ClearConnection(ctx context.Context, uid string) error

	// IncrementStats applies the delta to the lifetime counters using the
	// store's atomic numeric increment.
	IncrementStats(ctx context.Context, uid string, delta domain.StatsDelta) error

	// GetStats returns the current counters and streaks.
	GetStats(ctx context.Context, uid string) (domain.Stats, error)

	// SetStreaks overwrites both streak fields from one consistent
	// computation.
	SetStreaks(ctx context.Context, uid string, current, longest int) error
}
