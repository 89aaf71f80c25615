package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"attune/internal/config"
	"attune/internal/model"
)

func testPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p, err := NewPublisher(context.Background(), config.RedisConfig{
		Enabled:   true,
		Addr:      mr.Addr(),
		KeyPrefix: "attune:state:",
		TTL:       time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, mr
}

func TestPublisherWritesKeyedJSON(t *testing.T) {
	p, mr := testPublisher(t)
	cls := model.Classification{
		ID:         "abc",
		SessionID:  "leo",
		Band:       model.BandOrange,
		Confidence: 0.7,
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), "leo", cls))

	raw, err := mr.Get("attune:state:leo")
	require.NoError(t, err)
	var got model.Classification
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	require.Equal(t, model.BandOrange, got.Band)
	require.Equal(t, "leo", got.SessionID)

	ttl := mr.TTL("attune:state:leo")
	require.Equal(t, time.Minute, ttl)
}

func TestPublisherOverwritesPreviousState(t *testing.T) {
	p, mr := testPublisher(t)
	require.NoError(t, p.Publish(context.Background(), "leo", model.Classification{Band: model.BandGreen}))
	require.NoError(t, p.Publish(context.Background(), "leo", model.Classification{Band: model.BandRed}))

	raw, err := mr.Get("attune:state:leo")
	require.NoError(t, err)
	var got model.Classification
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	require.Equal(t, model.BandRed, got.Band)
}

func TestNewPublisherFailsOnUnreachableServer(t *testing.T) {
	_, err := NewPublisher(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
}
