// Package postgres provides the pgx-backed implementation of the store
// boundary.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rahulr8/trailblazer/internal/domain"
)

// Repository implements store.ActivityStore and store.UserStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Exists checks the dedup key (uid, source, external_id).
func (r *Repository) Exists(ctx context.Context, uid string, source domain.Source, externalID string) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM activities WHERE uid=$1 AND source=$2 AND external_id=$3)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, uid, string(source), externalID).Scan(&exists)
	return exists, err
}

// Insert stores a new activity. The store assigns ID and created_at.
func (r *Repository) Insert(ctx context.Context, uid string, activity domain.Activity) (string, error) {
	const stmt = `INSERT INTO activities
        (id, uid, source, external_id, activity_type, duration_seconds, distance_km, started_at, name, sport_type, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())`

	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, stmt,
		id,
		uid,
		string(activity.Source),
		nullIfEmpty(activity.ExternalID),
		string(activity.Type),
		activity.DurationSeconds,
		activity.DistanceKm,
		activity.StartedAt.UTC(),
		activity.Name,
		activity.SportType,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListByUser returns the most recent activities, newest first.
func (r *Repository) ListByUser(ctx context.Context, uid string, limit int) ([]domain.Activity, error) {
	const query = `SELECT id, source, COALESCE(external_id, ''), activity_type, duration_seconds, distance_km, started_at, name, sport_type, created_at
        FROM activities WHERE uid=$1 ORDER BY started_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var a domain.Activity
		var source, activityType string
		if err := rows.Scan(&a.ID, &source, &a.ExternalID, &activityType, &a.DurationSeconds, &a.DistanceKm, &a.StartedAt, &a.Name, &a.SportType, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Source = domain.Source(source)
		a.Type = domain.ActivityType(activityType)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// DistinctActivityDays returns distinct UTC calendar days with activity.
func (r *Repository) DistinctActivityDays(ctx context.Context, uid string) ([]time.Time, error) {
	const query = `SELECT DISTINCT date_trunc('day', started_at AT TIME ZONE 'UTC')
        FROM activities WHERE uid=$1 ORDER BY 1`

	rows, err := r.pool.Query(ctx, query, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day.UTC())
	}
	return days, rows.Err()
}

// GetConnection returns nil when the user row is absent or the connection
// fields were cleared.
func (r *Repository) GetConnection(ctx context.Context, uid string) (*domain.Connection, error) {
	const query = `SELECT health_authorized, health_connected_at, health_last_sync_at
        FROM users WHERE uid=$1`

	var authorized *bool
	var connectedAt, lastSyncAt *time.Time
	err := r.pool.QueryRow(ctx, query, uid).Scan(&authorized, &connectedAt, &lastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if authorized == nil {
		return nil, nil
	}

	conn := &domain.Connection{IsAuthorized: *authorized}
	if connectedAt != nil {
		conn.ConnectedAt = connectedAt.UTC()
	}
	if lastSyncAt != nil {
		conn.LastSyncAt = lastSyncAt.UTC()
	}
	return conn, nil
}

// SetConnection upserts the connection fields on the user row.
func (r *Repository) SetConnection(ctx context.Context, uid string, conn domain.Connection) error {
	const stmt = `INSERT INTO users (uid, health_authorized, health_connected_at, health_last_sync_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (uid) DO UPDATE SET
            health_authorized=$2, health_connected_at=$3, health_last_sync_at=$4`

	_, err := r.pool.Exec(ctx, stmt, uid, conn.IsAuthorized, nullIfZeroTime(conn.ConnectedAt), nullIfZeroTime(conn.LastSyncAt))
	return err
}

// TouchLastSync advances the watermark without touching other fields.
func (r *Repository) TouchLastSync(ctx context.Context, uid string, at time.Time) error {
	const stmt = `UPDATE users SET health_last_sync_at=$2 WHERE uid=$1`
	_, err := r.pool.Exec(ctx, stmt, uid, at.UTC())
	return err
}

// ClearConnection nulls out the connection fields, the relational analogue
// of deleting the healthConnection document field.
func (r *Repository) ClearConnection(ctx context.Context, uid string) error {
	const stmt = `UPDATE users SET
        health_authorized=NULL, health_connected_at=NULL, health_last_sync_at=NULL
        WHERE uid=$1`
	_, err := r.pool.Exec(ctx, stmt, uid)
	return err
}

// IncrementStats applies the delta with in-database atomic increments, so
// concurrent writers (manual entry vs. sync finalization) compose additively.
func (r *Repository) IncrementStats(ctx context.Context, uid string, delta domain.StatsDelta) error {
	const stmt = `INSERT INTO users (uid, total_minutes, total_km, total_steps)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (uid) DO UPDATE SET
            total_minutes = users.total_minutes + $2,
            total_km      = users.total_km + $3,
            total_steps   = users.total_steps + $4`

	_, err := r.pool.Exec(ctx, stmt, uid, delta.Minutes, delta.Km, delta.Steps)
	return err
}

// GetStats reads the lifetime counters and streaks.
func (r *Repository) GetStats(ctx context.Context, uid string) (domain.Stats, error) {
	const query = `SELECT total_minutes, total_km, total_steps, current_streak, longest_streak
        FROM users WHERE uid=$1`

	var stats domain.Stats
	err := r.pool.QueryRow(ctx, query, uid).Scan(&stats.TotalMinutes, &stats.TotalKm, &stats.TotalSteps, &stats.CurrentStreak, &stats.LongestStreak)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stats{}, nil
	}
	return stats, err
}

// SetStreaks overwrites both streak fields together.
func (r *Repository) SetStreaks(ctx context.Context, uid string, current, longest int) error {
	const stmt = `INSERT INTO users (uid, current_streak, longest_streak)
        VALUES ($1,$2,$3)
        ON CONFLICT (uid) DO UPDATE SET current_streak=$2, longest_streak=$3`

	_, err := r.pool.Exec(ctx, stmt, uid, current, longest)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC()
}
