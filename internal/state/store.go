package state

import (
	"sync"
	"time"

	"attune/internal/model"
)

// Store keeps the most recent classification per session.
type Store struct {
	mu        sync.RWMutex
	bySession map[string]model.Classification
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySession: make(map[string]model.Classification),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(sessionID string, c model.Classification) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[sessionID] = c
	s.updatedAt[sessionID] = time.Now().UTC()
	if len(s.bySession) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(sessionID string) (model.Classification, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.bySession[sessionID]
	if !ok {
		return model.Classification{}, time.Time{}, false
	}
	return c, s.updatedAt[sessionID], true
}

func (s *Store) GetAll() map[string]model.Classification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Classification, len(s.bySession))
	for sessionID, c := range s.bySession {
		out[sessionID] = c
	}
	return out
}

func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySession, sessionID)
	delete(s.updatedAt, sessionID)
}

func (s *Store) evictOldest() {
	var oldestSession string
	var oldest time.Time
	for session, ts := range s.updatedAt {
		if oldestSession == "" || ts.Before(oldest) {
			oldestSession = session
			oldest = ts
		}
	}
	if oldestSession != "" {
		delete(s.bySession, oldestSession)
		delete(s.updatedAt, oldestSession)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession = make(map[string]model.Classification)
	s.updatedAt = make(map[string]time.Time)
}
