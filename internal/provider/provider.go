// Package provider defines the source adapter boundary to the external
// health-data provider. Concrete adapters are selected once at startup based
// on deployment capability rather than checked at every call site.
package provider

import (
	"context"
	"time"

	"github.com/rahulr8/trailblazer/internal/domain"
)

// Provider is the boundary to the health records source.
type Provider interface {
	// Available reports whether the source can supply data at all. It is
	// safe to call speculatively: no side effects, never an error.
	Available(ctx context.Context) bool

	// RequestAuthorization asks the source for read access. It is
	// idempotent: already-authorized returns nil without re-prompting,
	// previously-denied returns domain.ErrAuthorizationDenied.
	RequestAuthorization(ctx context.Context) error

	// FetchWorkoutsSince returns raw workout records whose start time is at
	// or after since. Callers bound the call with a context deadline.
	// Revoked access surfaces as domain.ErrAuthorizationDenied.
	FetchWorkoutsSince(ctx context.Context, uid string, since time.Time) ([]domain.RawWorkout, error)
}
