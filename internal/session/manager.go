package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"attune/internal/config"
	"attune/internal/engine"
	"attune/internal/history"
	"attune/internal/model"
	"attune/internal/profile"
	"attune/internal/state"
	"attune/internal/storage"
)

// Manager routes ingested feature frames to per-session classifiers and
// fans classification results out to the state, history, and storage
// layers. Session IDs double as profile IDs: a frame for session "leo"
// is classified with the profile registered under "leo" when one exists.
type Manager struct {
	logger    *slog.Logger
	profiles  *profile.Store
	state     *state.Store
	history   *history.Store
	store     storage.Store
	publisher *state.Publisher
	reasoner  engine.Reasoner
	cfg       atomic.Value
	mu        sync.Mutex
	sessions  map[string]*sessionState
	deDupe    *dedupeCache
	started   time.Time
}

type sessionState struct {
	classifier *engine.Classifier
	lastSeen   time.Time
}

func NewManager(cfg *config.Config, logger *slog.Logger, profiles *profile.Store, stateStore *state.Store, historyStore *history.Store, store storage.Store, publisher *state.Publisher, reasoner engine.Reasoner) *Manager {
	m := &Manager{
		logger:    logger,
		profiles:  profiles,
		state:     stateStore,
		history:   historyStore,
		store:     store,
		publisher: publisher,
		reasoner:  reasoner,
		sessions:  make(map[string]*sessionState),
		deDupe:    newDedupeCache(),
		started:   time.Now().UTC(),
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.cfg.Store(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.classifier.UpdateConfig(cfg)
		if cfg.Reasoning.Enabled && m.reasoner != nil {
			s.classifier.EnableReasoning(m.reasoner)
		} else {
			s.classifier.DisableReasoning()
		}
	}
}

func (m *Manager) config() *config.Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (m *Manager) Started() time.Time {
	return m.started
}

func (m *Manager) Start(ctx context.Context, in <-chan model.FeatureFrame) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case frame := <-in:
				if _, err := m.ProcessFrame(ctx, frame); err != nil && ctx.Err() == nil {
					if m.logger != nil {
						m.logger.Warn("frame processing failed", "session_id", frame.SessionID, "err", err)
					}
				}
			case now := <-ticker.C:
				m.evictIdle(now.UTC())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) ProcessFrame(ctx context.Context, frame model.FeatureFrame) (model.Classification, error) {
	cfg := m.config()
	now := time.Now().UTC()
	if frame.Timestamp.IsZero() {
		frame.Timestamp = now
	}
	if cfg.Ingest.DedupeWindow > 0 && m.deDupe.seen(hashFrame(frame), now, cfg.Ingest.DedupeWindow) {
		return model.Classification{}, nil
	}

	classifier := m.getClassifier(frame.SessionID, cfg)
	result, err := classifier.ClassifyFrame(ctx, frame.Pose, frame.Facial, frame.Vocal, frame.Context)
	if err != nil {
		return model.Classification{}, err
	}
	result.SessionID = frame.SessionID

	if m.state != nil {
		m.state.Update(frame.SessionID, result)
	}
	if m.history != nil {
		m.history.Add(result)
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, frame.SessionID, result); err != nil && m.logger != nil {
			m.logger.Warn("state publish failed", "session_id", frame.SessionID, "err", err)
		}
	}
	if m.store != nil {
		if err := m.store.SaveClassification(context.Background(), result); err != nil && m.logger != nil {
			m.logger.Warn("classification persist failed", "session_id", frame.SessionID, "err", err)
		}
	}
	return result, nil
}

func (m *Manager) getClassifier(sessionID string, cfg *config.Config) *engine.Classifier {
	if sessionID == "" {
		sessionID = "unknown"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.lastSeen = time.Now().UTC()
		return s.classifier
	}
	classifier := engine.NewClassifier(cfg, m.logger, nil, nil, nil)
	if m.profiles != nil {
		if p, ok := m.profiles.Get(sessionID); ok {
			classifier.SetProfile(p)
			personal, err := m.profiles.PersonalModel(sessionID)
			if err != nil {
				if m.logger != nil {
					m.logger.Error("personal model rejected", "session_id", sessionID, "err", err)
				}
			} else if personal != nil {
				classifier.SetPersonalModel(personal)
			}
		}
	}
	if cfg.Reasoning.Enabled && m.reasoner != nil {
		classifier.EnableReasoning(m.reasoner)
	}
	m.sessions[sessionID] = &sessionState{classifier: classifier, lastSeen: time.Now().UTC()}
	if m.logger != nil {
		m.logger.Info("session started", "session_id", sessionID)
	}
	return classifier
}

// Classifier returns the live classifier for a session, if any.
func (m *Manager) Classifier(sessionID string) (*engine.Classifier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.classifier, true
}

func (m *Manager) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Reset drops a session's classifier so the next frame starts with an
// empty smoothing window.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) ResetAll() {
	m.mu.Lock()
	m.sessions = make(map[string]*sessionState)
	m.mu.Unlock()
	m.deDupe = newDedupeCache()
}

func (m *Manager) evictIdle(now time.Time) {
	idle := m.config().Engine.SessionIdle
	if idle <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > idle {
			delete(m.sessions, id)
			if m.logger != nil {
				m.logger.Info("session evicted", "session_id", id, "idle", now.Sub(s.lastSeen).String())
			}
		}
	}
}
