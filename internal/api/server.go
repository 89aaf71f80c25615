package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attune/internal/config"
	"attune/internal/history"
	"attune/internal/model"
	"attune/internal/profile"
	"attune/internal/state"
)

type SessionControl interface {
	UpdateConfig(cfg *config.Config)
	Reset(sessionID string)
	ResetAll()
	SessionIDs() []string
	ProcessFrame(ctx context.Context, frame model.FeatureFrame) (model.Classification, error)
}

type Server struct {
	cfg      *config.Manager
	state    *state.Store
	history  *history.Store
	profiles *profile.Store
	sessions SessionControl
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string           `json:"status"`
	Time       string           `json:"time"`
	Version    string           `json:"version"`
	ConfigPath string           `json:"config_path"`
	Ingest     ingestStatus     `json:"ingest"`
	API        apiStatus        `json:"api"`
	Engine     engineStatus     `json:"engine"`
	Reasoning  reasoningStatus  `json:"reasoning"`
	Sessions   []string         `json:"sessions"`
	Thresholds model.Thresholds `json:"default_thresholds"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
	MQTT  bool `json:"mqtt"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type engineStatus struct {
	SmoothingWindow int `json:"smoothing_window"`
}

type reasoningStatus struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
}

func Start(ctx context.Context, cfg *config.Manager, stateStore *state.Store, historyStore *history.Store, profiles *profile.Store, sessions SessionControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		state:    stateStore,
		history:  historyStore,
		profiles: profiles,
		sessions: sessions,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/state", server.handleState)
	mux.HandleFunc("/state/", server.handleState)
	mux.HandleFunc("/classifications", server.handleClassifications)
	mux.HandleFunc("/classify", server.handleClassify)
	mux.HandleFunc("/profiles", server.handleProfiles)
	mux.HandleFunc("/config/thresholds", server.handleThresholds)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/reset", server.handleReset)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	var sessionIDs []string
	if s.sessions != nil {
		sessionIDs = s.sessions.SessionIDs()
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
			MQTT:  cfg.Ingest.MQTT.Enabled,
		},
		API:       apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Engine:    engineStatus{SmoothingWindow: cfg.Engine.SmoothingWindow},
		Reasoning: reasoningStatus{Enabled: cfg.Reasoning.Enabled, BaseURL: cfg.Reasoning.BaseURL},
		Sessions:  sessionIDs,
		Thresholds: model.Thresholds{
			Shutdown: cfg.Engine.Thresholds.Shutdown,
			Green:    cfg.Engine.Thresholds.Green,
			Yellow:   cfg.Engine.Thresholds.Yellow,
			Orange:   cfg.Engine.Thresholds.Orange,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/state")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		current, updated, ok := s.state.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": path,
			"updated_at": updated.Format(time.RFC3339Nano),
			"current":    current,
		})
		return
	}
	all := s.state.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": all,
		"count":    len(all),
	})
}

func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Classification
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		list = s.history.Session(sessionID, limit)
	} else if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.history.Since(ts)
	} else {
		list = s.history.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"classifications": list,
		"count":           len(list),
	})
}

// handleClassify runs one frame through the pipeline synchronously and
// returns the result, bypassing the ingest channel.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var frame model.FeatureFrame
	if err := json.Unmarshal(body, &frame); err != nil || frame.SessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	frame.Source = "api"
	result, err := s.sessions.ProcessFrame(r.Context(), frame)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("classify request failed", "session_id", frame.SessionID, "err", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.profiles == nil {
		writeJSON(w, http.StatusOK, map[string]any{"profiles": []string{}, "count": 0})
		return
	}
	ids := s.profiles.IDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": ids,
		"count":    len(ids),
	})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"thresholds": cfg.Engine.Thresholds,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var t config.ThresholdsConfig
		if err := json.Unmarshal(body, &t); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Engine.Thresholds = t
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.sessions != nil {
			s.sessions.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.state != nil {
			s.state.Clear()
		}
		if s.history != nil {
			s.history.Clear()
		}
	case "state":
		if s.state != nil {
			s.state.Clear()
		}
	case "classifications", "history":
		if s.history != nil {
			s.history.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReset drops session classifiers so smoothing windows restart
// empty. With a session_id it resets one session, otherwise all.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(body, &req)
	if req.SessionID != "" {
		s.sessions.Reset(req.SessionID)
	} else {
		s.sessions.ResetAll()
		if s.state != nil {
			s.state.Clear()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
