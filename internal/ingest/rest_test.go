package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"attune/internal/model"
)

func newTestRESTServer(out chan<- model.FeatureFrame) *RESTServer {
	return &RESTServer{out: out}
}

func postFrames(t *testing.T, s *RESTServer, body string) (*httptest.ResponseRecorder, map[string]int) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleFrames(rec, req)
	var counts map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec, counts
}

func TestHandleFramesSingle(t *testing.T) {
	out := make(chan model.FeatureFrame, 4)
	s := newTestRESTServer(out)
	rec, counts := postFrames(t, s, `{"session_id":"leo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if counts["accepted"] != 1 || counts["failed"] != 0 {
		t.Fatalf("counts: %v", counts)
	}
	frame := <-out
	if frame.SessionID != "leo" || frame.Source != "rest" {
		t.Fatalf("frame: %+v", frame)
	}
}

func TestHandleFramesBatch(t *testing.T) {
	out := make(chan model.FeatureFrame, 4)
	s := newTestRESTServer(out)
	rec, counts := postFrames(t, s, `[{"session_id":"leo"},{"session_id":"mia"},{}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if counts["accepted"] != 2 || counts["failed"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestHandleFramesRejectsInvalid(t *testing.T) {
	out := make(chan model.FeatureFrame, 1)
	s := newTestRESTServer(out)
	rec, counts := postFrames(t, s, `{"no_session":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if counts["accepted"] != 0 || counts["failed"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestHandleFramesMethodNotAllowed(t *testing.T) {
	s := newTestRESTServer(make(chan model.FeatureFrame, 1))
	req := httptest.NewRequest(http.MethodGet, "/frames", nil)
	rec := httptest.NewRecorder()
	s.handleFrames(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestHandleFramesFullChannelDrops(t *testing.T) {
	out := make(chan model.FeatureFrame) // unbuffered, nobody reading
	s := newTestRESTServer(out)
	rec, counts := postFrames(t, s, `{"session_id":"leo"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if counts["accepted"] != 0 || counts["failed"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}
