// Package sync drives health-source sync runs: authorization check, fetch
// since the watermark, per-record canonicalize/dedup/persist, aggregate
// accumulation, and finalization. Runs are idempotent: re-fetching an
// already-processed window is absorbed by the dedup gate, so a cancelled or
// partially failed run is always safe to retry.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahulr8/trailblazer/internal/connection"
	"github.com/rahulr8/trailblazer/internal/domain"
	"github.com/rahulr8/trailblazer/internal/observability"
	"github.com/rahulr8/trailblazer/internal/provider"
	"github.com/rahulr8/trailblazer/internal/stats"
	"github.com/rahulr8/trailblazer/internal/store"
)

// Result is the per-run accounting returned to callers.
type Result struct {
	Synced  int // new activities persisted
	Skipped int // records rejected by the dedup gate
	Fetched int // raw records returned by the provider
	Failed  int // records dropped by transform or per-record persist errors
}

// EventSink receives best-effort notifications about sync outcomes.
// Implementations must never block a run on delivery failure.
type EventSink interface {
	ActivitySynced(ctx context.Context, uid string, activity domain.Activity)
	SyncCompleted(ctx context.Context, uid string, result Result)
}

// Config carries the orchestrator tunables.
type Config struct {
	// Lookback bounds the first fetch window when no watermark exists.
	Lookback time.Duration
	// StepsPerKm is the synthetic step estimation constant.
	StepsPerKm int
	// FetchTimeout bounds the provider fetch call.
	FetchTimeout time.Duration
}

// Orchestrator coordinates one sync run per user at a time.
type Orchestrator struct {
	provider    provider.Provider
	activities  store.ActivityStore
	connections *connection.Service
	stats       *stats.Updater
	events      EventSink // nil disables event publishing
	cfg         Config
	flights     *flightTable
	now         func() time.Time
	log         zerolog.Logger
}

// NewOrchestrator constructs an Orchestrator. events may be nil.
func NewOrchestrator(p provider.Provider, activities store.ActivityStore, connections *connection.Service, updater *stats.Updater, events EventSink, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}
	if cfg.StepsPerKm <= 0 {
		cfg.StepsPerKm = domain.DefaultStepsPerKm
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Orchestrator{
		provider:    p,
		activities:  activities,
		connections: connections,
		stats:       updater,
		events:      events,
		cfg:         cfg,
		flights:     newFlightTable(),
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With().Str("component", "sync").Logger(),
	}
}

// Connect ensures the source is available and authorized, then records the
// connection. Idempotent: reconnecting an authorized user succeeds without
// re-prompting.
func (o *Orchestrator) Connect(ctx context.Context, uid string) error {
	if !o.provider.Available(ctx) {
		return domain.NewSyncError(domain.ErrSourceUnavailable, nil)
	}
	if err := o.provider.RequestAuthorization(ctx); err != nil {
		if errors.Is(err, domain.ErrAuthorizationDenied) {
			return domain.NewSyncError(domain.ErrAuthorizationDenied, err)
		}
		if errors.Is(err, domain.ErrSourceUnavailable) {
			return domain.NewSyncError(domain.ErrSourceUnavailable, err)
		}
		return domain.NewSyncError(domain.ErrFetchFailed, err)
	}
	return o.connections.Connect(ctx, uid, o.now())
}

// Disconnect clears the stored connection entirely.
func (o *Orchestrator) Disconnect(ctx context.Context, uid string) error {
	return o.connections.Clear(ctx, uid)
}

// Sync executes one run for the user. At most one run per user is in
// flight; concurrent calls for the same user fail with ErrSyncInProgress.
func (o *Orchestrator) Sync(ctx context.Context, uid string) (Result, error) {
	if !o.flights.tryAcquire(uid) {
		return Result{}, domain.NewSyncError(domain.ErrSyncInProgress, nil)
	}
	defer o.flights.release(uid)

	started := o.now()
	result, err := o.run(ctx, uid)
	elapsed := o.now().Sub(started)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordSyncRun(outcome, result.Synced, result.Skipped, elapsed)

	if err == nil && o.events != nil {
		o.events.SyncCompleted(ctx, uid, result)
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, uid string) (Result, error) {
	log := o.log.With().Str("uid", uid).Logger()

	conn, err := o.connections.Get(ctx, uid)
	if err != nil {
		return Result{}, domain.NewSyncError(domain.ErrPersistenceFailed, err)
	}
	if conn == nil || !conn.IsAuthorized {
		return Result{}, domain.NewSyncError(domain.ErrNotConnected, nil)
	}

	// Authorizing. The request is idempotent: it only re-prompts when the
	// OS reports access as not yet determined.
	if !o.provider.Available(ctx) {
		return Result{}, domain.NewSyncError(domain.ErrSourceUnavailable, nil)
	}
	if err := o.provider.RequestAuthorization(ctx); err != nil {
		if errors.Is(err, domain.ErrAuthorizationDenied) {
			return Result{}, o.authorizationLost(ctx, uid, err)
		}
		return Result{}, domain.NewSyncError(domain.ErrFetchFailed, err)
	}

	// Fetching. The watermark is only ever advanced in finalization, so a
	// failed fetch leaves the next run re-attempting the same window.
	watermark := conn.LastSyncAt
	if watermark.IsZero() {
		watermark = o.now().Add(-o.cfg.Lookback)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	records, err := o.provider.FetchWorkoutsSince(fetchCtx, uid, watermark)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrAuthorizationDenied) {
			return Result{}, o.authorizationLost(ctx, uid, err)
		}
		return Result{}, domain.NewSyncError(domain.ErrFetchFailed, err)
	}
	log.Debug().Time("since", watermark).Int("fetched", len(records)).Msg("fetched workout records")

	// Processing. Records run sequentially so dedup-check-then-insert pairs
	// never interleave within a run; a single bad record never aborts it.
	result := Result{Fetched: len(records)}
	var delta domain.StatsDelta
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if raw.RecordID == "" || raw.StartedAt.IsZero() {
			result.Failed++
			log.Warn().Str("record_id", raw.RecordID).Msg("dropping malformed workout record")
			continue
		}
		activity := domain.Canonicalize(raw)

		exists, err := o.activities.Exists(ctx, uid, activity.Source, activity.ExternalID)
		if err != nil {
			result.Failed++
			log.Warn().Err(err).Str("external_id", activity.ExternalID).Msg("dedup check failed, skipping record")
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		id, err := o.activities.Insert(ctx, uid, activity)
		if err != nil {
			result.Failed++
			log.Warn().Err(err).Str("external_id", activity.ExternalID).Msg("persist failed, skipping record")
			continue
		}
		activity.ID = id

		delta.Add(activity, o.cfg.StepsPerKm)
		result.Synced++
		if o.events != nil {
			o.events.ActivitySynced(ctx, uid, activity)
		}
	}

	// Finalizing. Counters move once per run; the watermark advances even
	// on zero-synced runs so the fetch window never widens without bound.
	if result.Synced > 0 {
		if err := o.stats.ApplyDelta(ctx, uid, delta); err != nil {
			return result, domain.NewSyncError(domain.ErrPersistenceFailed, err)
		}
		if err := o.stats.RecomputeStreak(ctx, uid, o.now()); err != nil {
			return result, domain.NewSyncError(domain.ErrPersistenceFailed, err)
		}
	}
	if err := o.connections.TouchLastSync(ctx, uid, o.now()); err != nil {
		return result, domain.NewSyncError(domain.ErrPersistenceFailed, err)
	}

	log.Info().Int("synced", result.Synced).Int("skipped", result.Skipped).Int("failed", result.Failed).Msg("sync complete")
	return result, nil
}

// authorizationLost clears the stored connection so the UI prompts for a
// reconnect, then reports the run as denied.
func (o *Orchestrator) authorizationLost(ctx context.Context, uid string, cause error) error {
	if err := o.connections.Clear(ctx, uid); err != nil {
		o.log.Error().Err(err).Str("uid", uid).Msg("failed to clear connection after authorization loss")
	}
	return domain.NewSyncError(domain.ErrAuthorizationDenied, cause)
}
