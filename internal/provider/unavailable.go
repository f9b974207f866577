package provider

import (
	"context"
	"time"

	"github.com/rahulr8/trailblazer/internal/domain"
)

// Unavailable is the adapter variant selected when no health source is
// configured for this deployment. Every operation fails fast with
// domain.ErrSourceUnavailable except Available, which never errors.
type Unavailable struct{}

func (Unavailable) Available(context.Context) bool { return false }

func (Unavailable) RequestAuthorization(context.Context) error {
	return domain.ErrSourceUnavailable
}

func (Unavailable) FetchWorkoutsSince(context.Context, string, time.Time) ([]domain.RawWorkout, error) {
	return nil, domain.ErrSourceUnavailable
}
