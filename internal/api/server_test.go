package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"attune/internal/config"
	"attune/internal/history"
	"attune/internal/model"
	"attune/internal/state"
)

type stubSessions struct {
	lastConfig *config.Config
	resets     []string
	resetAll   bool
	result     model.Classification
}

func (s *stubSessions) UpdateConfig(cfg *config.Config) { s.lastConfig = cfg }
func (s *stubSessions) Reset(sessionID string)          { s.resets = append(s.resets, sessionID) }
func (s *stubSessions) ResetAll()                       { s.resetAll = true }
func (s *stubSessions) SessionIDs() []string            { return []string{"leo"} }
func (s *stubSessions) ProcessFrame(ctx context.Context, frame model.FeatureFrame) (model.Classification, error) {
	res := s.result
	res.SessionID = frame.SessionID
	return res, nil
}

func testServer() (*Server, *stubSessions, *state.Store, *history.Store) {
	stateStore := state.NewStore(100)
	historyStore := history.NewStore(100)
	sessions := &stubSessions{result: model.Classification{ID: "c1", Band: model.BandYellow, Confidence: 0.6}}
	srv := &Server{
		cfg:      config.NewStaticManager(config.DefaultConfig()),
		state:    stateStore,
		history:  historyStore,
		sessions: sessions,
		version:  "test",
	}
	return srv, sessions, stateStore, historyStore
}

func TestHandleStatus(t *testing.T) {
	srv, _, _, _ := testServer()
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Thresholds.Orange != 0.85 {
		t.Fatalf("thresholds: %+v", resp.Thresholds)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0] != "leo" {
		t.Fatalf("sessions: %v", resp.Sessions)
	}
}

func TestHandleStateBySession(t *testing.T) {
	srv, _, stateStore, _ := testServer()
	stateStore.Update("leo", model.Classification{ID: "c9", Band: model.BandOrange})

	rec := httptest.NewRecorder()
	srv.handleState(rec, httptest.NewRequest(http.MethodGet, "/state/leo", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var resp struct {
		SessionID string               `json:"session_id"`
		Current   model.Classification `json:"current"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "leo" || resp.Current.Band != model.BandOrange {
		t.Fatalf("response: %+v", resp)
	}

	rec = httptest.NewRecorder()
	srv.handleState(rec, httptest.NewRequest(http.MethodGet, "/state/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: got %d", rec.Code)
	}
}

func TestHandleClassifications(t *testing.T) {
	srv, _, _, historyStore := testServer()
	base := time.Now().UTC()
	historyStore.Add(model.Classification{SessionID: "leo", Band: model.BandGreen, Timestamp: base})
	historyStore.Add(model.Classification{SessionID: "mia", Band: model.BandRed, Timestamp: base.Add(time.Second)})

	rec := httptest.NewRecorder()
	srv.handleClassifications(rec, httptest.NewRequest(http.MethodGet, "/classifications?session_id=leo", nil))
	var resp struct {
		Classifications []model.Classification `json:"classifications"`
		Count           int                    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Classifications[0].SessionID != "leo" {
		t.Fatalf("response: %+v", resp)
	}
}

func TestHandleClassify(t *testing.T) {
	srv, _, _, _ := testServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(`{"session_id":"leo"}`))
	srv.handleClassify(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	var res model.Classification
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.SessionID != "leo" || res.Band != model.BandYellow {
		t.Fatalf("result: %+v", res)
	}
}

func TestHandleClassifyRequiresSessionID(t *testing.T) {
	srv, _, _, _ := testServer()
	rec := httptest.NewRecorder()
	srv.handleClassify(rec, httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestHandleThresholdsUpdate(t *testing.T) {
	srv, sessions, _, _ := testServer()
	body := `{"shutdown":0.25,"green":0.50,"yellow":0.70,"orange":0.85}`
	rec := httptest.NewRecorder()
	srv.handleThresholds(rec, httptest.NewRequest(http.MethodPost, "/config/thresholds", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	if srv.cfg.Get().Engine.Thresholds.Shutdown != 0.25 {
		t.Fatalf("config not updated: %+v", srv.cfg.Get().Engine.Thresholds)
	}
	if sessions.lastConfig == nil {
		t.Fatalf("sessions not notified of config change")
	}
}

func TestHandleThresholdsRejectsUnordered(t *testing.T) {
	srv, _, _, _ := testServer()
	body := `{"shutdown":0.90,"green":0.50,"yellow":0.70,"orange":0.85}`
	rec := httptest.NewRecorder()
	srv.handleThresholds(rec, httptest.NewRequest(http.MethodPost, "/config/thresholds", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if srv.cfg.Get().Engine.Thresholds.Shutdown != 0.20 {
		t.Fatalf("invalid update must not apply")
	}
}

func TestHandleClear(t *testing.T) {
	srv, _, stateStore, historyStore := testServer()
	stateStore.Update("leo", model.Classification{ID: "c1"})
	historyStore.Add(model.Classification{ID: "c1"})

	rec := httptest.NewRecorder()
	srv.handleClear(rec, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"all"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if len(stateStore.GetAll()) != 0 || len(historyStore.List(0)) != 0 {
		t.Fatalf("stores not cleared")
	}
}

func TestHandleResetSingleSession(t *testing.T) {
	srv, sessions, _, _ := testServer()
	rec := httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest(http.MethodPost, "/admin/reset", strings.NewReader(`{"session_id":"leo"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if len(sessions.resets) != 1 || sessions.resets[0] != "leo" {
		t.Fatalf("resets: %v", sessions.resets)
	}
	if sessions.resetAll {
		t.Fatalf("single reset should not reset all")
	}
}
