// Package stats maintains per-user lifetime counters and streaks.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahulr8/trailblazer/internal/domain"
	"github.com/rahulr8/trailblazer/internal/store"
)

// Updater applies aggregate deltas and recomputes streaks.
type Updater struct {
	users      store.UserStore
	activities store.ActivityStore
	log        zerolog.Logger
}

// NewUpdater constructs an Updater.
func NewUpdater(users store.UserStore, activities store.ActivityStore, log zerolog.Logger) *Updater {
	return &Updater{
		users:      users,
		activities: activities,
		log:        log.With().Str("component", "stats").Logger(),
	}
}

// ApplyDelta increments the lifetime counters. It is purely additive; the
// activity collection is never rescanned here.
func (u *Updater) ApplyDelta(ctx context.Context, uid string, delta domain.StatsDelta) error {
	if delta == (domain.StatsDelta{}) {
		return nil
	}
	if err := u.users.IncrementStats(ctx, uid, delta); err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	u.log.Debug().Str("uid", uid).
		Int("minutes", delta.Minutes).
		Float64("km", delta.Km).
		Int("steps", delta.Steps).
		Msg("applied stats delta")
	return nil
}

// RecomputeStreak reads the distinct activity days across all sources and
// overwrites both streak fields from that single consistent read.
func (u *Updater) RecomputeStreak(ctx context.Context, uid string, today time.Time) error {
	days, err := u.activities.DistinctActivityDays(ctx, uid)
	if err != nil {
		return fmt.Errorf("list activity days: %w", err)
	}

	current, longest := ComputeStreaks(days, today)
	if err := u.users.SetStreaks(ctx, uid, current, longest); err != nil {
		return fmt.Errorf("write streaks: %w", err)
	}
	u.log.Debug().Str("uid", uid).Int("current", current).Int("longest", longest).Msg("recomputed streak")
	return nil
}
