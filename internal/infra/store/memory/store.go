package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

type entry struct {
	rec       *domain.Record
	expiresAt time.Time
}

// Store keeps records in process memory. Intended for local runs and tests;
// records do not survive a restart.
type Store struct {
	mu      sync.Mutex
	records map[domain.ID]entry
	now     func() time.Time
}

func New() *Store {
	return &Store{records: make(map[domain.ID]entry), now: time.Now}
}

// NewWithClock is New with a custom time source for expiry.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

func (s *Store) Put(_ context.Context, r *domain.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.RequestID] = entry{rec: r.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, id domain.ID) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return nil, nil
	}
	return e.rec.Clone(), nil
}

func (s *Store) Update(_ context.Context, id domain.ID, ttl time.Duration, fn domain.Mutation) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return nil, nil
	}
	next := e.rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.RequestID = id
	s.records[id] = entry{rec: next, expiresAt: s.now().Add(ttl)}
	return next.Clone(), nil
}

func (s *Store) Ping(context.Context) error { return nil }

// lookup must be called with mu held.
func (s *Store) lookup(id domain.ID) (entry, bool) {
	e, ok := s.records[id]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.records, id)
		return entry{}, false
	}
	return e, true
}
