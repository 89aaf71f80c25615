package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"attune/internal/config"
	"attune/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ReasoningConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, nil)
}

func TestDetect(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/arousal/assess", r.URL.Path)

		var req model.ReasoningRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Profile)
		require.Equal(t, "leo", req.Profile.ID)
		require.Contains(t, req.Behaviors, "covering ears")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"band":       "orange",
			"confidence": 0.82,
			"rationale":  "escalating pattern with sensory triggers",
		})
	})

	band, conf, err := c.Detect(context.Background(), model.ReasoningRequest{
		Profile:   &model.ChildProfile{ID: "leo"},
		Behaviors: []string{"covering ears"},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, model.BandOrange, band)
	require.Equal(t, 0.82, conf)
}

func TestDetectServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, _, err := c.Detect(context.Background(), model.ReasoningRequest{})
	require.Error(t, err)
}

func TestDetectUnknownBand(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"band": "purple", "confidence": 0.5})
	})
	_, _, err := c.Detect(context.Background(), model.ReasoningRequest{})
	require.Error(t, err)
}

func TestDetectConfidenceOutOfRange(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"band": "green", "confidence": 1.4})
	})
	_, _, err := c.Detect(context.Background(), model.ReasoningRequest{})
	require.Error(t, err)
}

func TestDetectTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"band": "green", "confidence": 0.9})
	}))
	t.Cleanup(srv.Close)
	c := NewClient(config.ReasoningConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, _, err := c.Detect(context.Background(), model.ReasoningRequest{})
	require.Error(t, err)
}
