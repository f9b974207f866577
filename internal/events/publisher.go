// Package events publishes sync outcomes to Kafka for downstream consumers
// (leaderboards, notifications). Delivery is best effort: a publish failure
// is logged and never fails the sync run that produced it.
package events

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rahulr8/trailblazer/internal/domain"
	syncpipeline "github.com/rahulr8/trailblazer/internal/sync"
)

// Topic carries all health sync events, partitioned by user.
const Topic = "health_sync_events"

// Event type header values.
const (
	EventActivitySynced = "activity.synced"
	EventSyncCompleted  = "health.sync_completed"
)

// Writer is the minimal kafka.Writer surface the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds the production kafka writer for the events topic.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        Topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
}

// Publisher implements the orchestrator's event sink on Kafka.
type Publisher struct {
	writer Writer
	log    zerolog.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(writer Writer, log zerolog.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		log:    log.With().Str("component", "events").Logger(),
	}
}

type activitySyncedPayload struct {
	UID             string    `json:"uid"`
	ActivityID      string    `json:"activity_id"`
	Source          string    `json:"source"`
	ExternalID      string    `json:"external_id"`
	ActivityType    string    `json:"activity_type"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceKm      float64   `json:"distance_km"`
	StartedAt       time.Time `json:"started_at"`
}

type syncCompletedPayload struct {
	UID     string `json:"uid"`
	Synced  int    `json:"synced_count"`
	Skipped int    `json:"skipped_count"`
	Fetched int    `json:"fetched_count"`
	Failed  int    `json:"failed_count"`
}

// ActivitySynced emits one event per newly persisted activity.
func (p *Publisher) ActivitySynced(ctx context.Context, uid string, activity domain.Activity) {
	p.publish(ctx, uid, EventActivitySynced, activitySyncedPayload{
		UID:             uid,
		ActivityID:      activity.ID,
		Source:          string(activity.Source),
		ExternalID:      activity.ExternalID,
		ActivityType:    string(activity.Type),
		DurationSeconds: activity.DurationSeconds,
		DistanceKm:      activity.DistanceKm,
		StartedAt:       activity.StartedAt,
	})
}

// SyncCompleted emits the per-run accounting after a successful run.
func (p *Publisher) SyncCompleted(ctx context.Context, uid string, result syncpipeline.Result) {
	p.publish(ctx, uid, EventSyncCompleted, syncCompletedPayload{
		UID:     uid,
		Synced:  result.Synced,
		Skipped: result.Skipped,
		Fetched: result.Fetched,
		Failed:  result.Failed,
	})
}

func (p *Publisher) publish(ctx context.Context, uid, eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", eventType).Msg("encode event")
		return
	}

	msg := kafka.Message{
		Key:   []byte(uid),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Str("uid", uid).Msg("publish failed")
	}
}

// Close releases the underlying writer.
func (p *Publisher) Close() error { return p.writer.Close() }
