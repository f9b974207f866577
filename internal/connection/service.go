// Package connection tracks per-user health source connection state and
// fans out state changes to subscribers.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahulr8/trailblazer/internal/domain"
	"github.com/rahulr8/trailblazer/internal/store"
)

// State is the snapshot delivered to subscribers and status queries.
type State struct {
	Connected  bool
	LastSyncAt time.Time
}

// Listener receives connection state changes for one user.
type Listener func(State)

// Service is the source of truth the orchestrator reads and writes around a
// sync run. All writes go through it so subscribers stay current.
type Service struct {
	users store.UserStore
	log   zerolog.Logger

	mu        sync.Mutex
	listeners map[string]map[int]Listener
	nextID    int
}

// NewService constructs a Service.
func NewService(users store.UserStore, log zerolog.Logger) *Service {
	return &Service{
		users:     users,
		log:       log.With().Str("component", "connection").Logger(),
		listeners: make(map[string]map[int]Listener),
	}
}

// Get returns the stored connection, or nil when absent.
func (s *Service) Get(ctx context.Context, uid string) (*domain.Connection, error) {
	return s.users.GetConnection(ctx, uid)
}

// Connect records a successful authorization grant. The watermark starts
// empty so the first sync uses the default lookback window.
func (s *Service) Connect(ctx context.Context, uid string, at time.Time) error {
	conn := domain.Connection{IsAuthorized: true, ConnectedAt: at.UTC()}
	if err := s.users.SetConnection(ctx, uid, conn); err != nil {
		return err
	}
	s.log.Info().Str("uid", uid).Msg("health source connected")
	s.notify(uid, State{Connected: true})
	return nil
}

// TouchLastSync advances the fetch watermark.
func (s *Service) TouchLastSync(ctx context.Context, uid string, at time.Time) error {
	if err := s.users.TouchLastSync(ctx, uid, at); err != nil {
		return err
	}
	s.notify(uid, State{Connected: true, LastSyncAt: at.UTC()})
	return nil
}

// Clear removes the connection entirely; used on explicit disconnect and on
// detected authorization revocation. The next connect must re-authorize.
func (s *Service) Clear(ctx context.Context, uid string) error {
	if err := s.users.ClearConnection(ctx, uid); err != nil {
		return err
	}
	s.log.Info().Str("uid", uid).Msg("health connection cleared")
	s.notify(uid, State{Connected: false})
	return nil
}

// Subscribe registers a listener for one user's connection state changes
// and returns its unsubscribe function. Listeners are invoked synchronously
// after each successful state write.
func (s *Service) Subscribe(uid string, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners[uid] == nil {
		s.listeners[uid] = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.listeners[uid][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[uid], id)
		if len(s.listeners[uid]) == 0 {
			delete(s.listeners, uid)
		}
	}
}

func (s *Service) notify(uid string, state State) {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners[uid]))
	for _, fn := range s.listeners[uid] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
