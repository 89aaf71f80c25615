package history

import (
	"sync"
	"time"

	"attune/internal/model"
)

// Store is a bounded in-memory log of recent classifications across
// all sessions, newest last.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Classification
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(c model.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, c)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = c
}

func (s *Store) List(limit int) []model.Classification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Classification, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Classification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Classification, 0)
	for _, c := range s.buf {
		if !c.Timestamp.Before(ts) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) Session(sessionID string, limit int) []model.Classification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Classification, 0)
	for _, c := range s.buf {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
