package ingest

import (
	"testing"
)

func TestParseFrameBytes(t *testing.T) {
	data := []byte(`{
		"session_id": "leo",
		"timestamp": "2026-08-30T10:15:00Z",
		"pose": {"movement_intensity": 0.8, "body_tension": 0.7, "posture_openness": 0.2, "confidence": 0.9}
	}`)
	frame, err := ParseFrameBytes(data, "rest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.SessionID != "leo" {
		t.Fatalf("session_id: got %q", frame.SessionID)
	}
	if frame.Source != "rest" {
		t.Fatalf("source should default to the ingest channel, got %q", frame.Source)
	}
	if frame.Pose == nil || frame.Pose.MovementIntensity != 0.8 {
		t.Fatalf("pose not parsed: %+v", frame.Pose)
	}
}

func TestParseFrameBytesKeepsExplicitSource(t *testing.T) {
	frame, err := ParseFrameBytes([]byte(`{"session_id":"leo","source":"gateway"}`), "kafka")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Source != "gateway" {
		t.Fatalf("explicit source overridden: %q", frame.Source)
	}
}

func TestParseFrameBytesErrors(t *testing.T) {
	if _, err := ParseFrameBytes([]byte(`not json`), "rest"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := ParseFrameBytes([]byte(`{"pose":{"confidence":1}}`), "rest"); err == nil {
		t.Fatalf("expected missing session_id error")
	}
}

func TestParseFrameBatch(t *testing.T) {
	data := []byte(`[
		{"session_id": "leo"},
		{"timestamp": "2026-08-30T10:15:00Z"},
		{"session_id": "mia"}
	]`)
	frames, failed := ParseFrameBatch(data, "rest")
	if len(frames) != 2 {
		t.Fatalf("frames: got %d, want 2", len(frames))
	}
	if failed != 1 {
		t.Fatalf("failed: got %d, want 1", failed)
	}
}

func TestParseFrameBatchMalformed(t *testing.T) {
	frames, failed := ParseFrameBatch([]byte(`{"session_id":"leo"}`), "rest")
	if frames != nil || failed != 1 {
		t.Fatalf("non-array batch should count one failure, got %v %d", frames, failed)
	}
}
