// Package memory provides an in-memory store implementation used by unit
// tests and local development without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rahulr8/trailblazer/internal/domain"
)

type userRecord struct {
	connection *domain.Connection
	stats      domain.Stats
}

// Store keeps all state in process memory behind one mutex.
type Store struct {
	mu         sync.Mutex
	users      map[string]*userRecord
	activities map[string][]domain.Activity
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*userRecord),
		activities: make(map[string][]domain.Activity),
	}
}

func (s *Store) user(uid string) *userRecord {
	if rec, ok := s.users[uid]; ok {
		return rec
	}
	rec := &userRecord{}
	s.users[uid] = rec
	return rec
}

// Exists implements the dedup gate.
func (s *Store) Exists(_ context.Context, uid string, source domain.Source, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.activities[uid] {
		if a.Source == source && a.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

// Insert appends the activity with an assigned ID and creation time.
func (s *Store) Insert(_ context.Context, uid string, activity domain.Activity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity.ID = uuid.NewString()
	activity.CreatedAt = time.Now().UTC()
	s.activities[uid] = append(s.activities[uid], activity)
	return activity.ID, nil
}

// ListByUser returns newest-first activities.
func (s *Store) ListByUser(_ context.Context, uid string, limit int) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append([]domain.Activity(nil), s.activities[uid]...)
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// DistinctActivityDays returns sorted distinct UTC days with activity.
func (s *Store) DistinctActivityDays(_ context.Context, uid string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[time.Time]struct{})
	for _, a := range s.activities[uid] {
		day := a.StartedAt.UTC().Truncate(24 * time.Hour)
		seen[day] = struct{}{}
	}
	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// GetConnection returns a copy of the stored connection, or nil.
func (s *Store) GetConnection(_ context.Context, uid string) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[uid]
	if !ok || rec.connection == nil {
		return nil, nil
	}
	conn := *rec.connection
	return &conn, nil
}

// SetConnection overwrites the connection state.
func (s *Store) SetConnection(_ context.Context, uid string, conn domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(uid).connection = &conn
	return nil
}

// TouchLastSync advances the watermark.
func (s *Store) TouchLastSync(_ context.Context, uid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.user(uid)
	if rec.connection != nil {
		rec.connection.LastSyncAt = at.UTC()
	}
	return nil
}

// ClearConnection removes the connection fields entirely.
func (s *Store) ClearConnection(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[uid]; ok {
		rec.connection = nil
	}
	return nil
}

// IncrementStats applies the delta atomically under the store lock.
func (s *Store) IncrementStats(_ context.Context, uid string, delta domain.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.user(uid)
	rec.stats.TotalMinutes += delta.Minutes
	rec.stats.TotalKm += delta.Km
	rec.stats.TotalSteps += delta.Steps
	return nil
}

// GetStats returns the current counters.
func (s *Store) GetStats(_ context.Context, uid string) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[uid]; ok {
		return rec.stats, nil
	}
	return domain.Stats{}, nil
}

// SetStreaks overwrites both streak fields.
func (s *Store) SetStreaks(_ context.Context, uid string, current, longest int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.user(uid)
	rec.stats.CurrentStreak = current
	rec.stats.LongestStreak = longest
	return nil
}
