package ingest

import (
	"encoding/json"
	"fmt"

	"attune/internal/model"
	"attune/internal/normalize"
)

// ParseFrameBytes decodes one JSON feature frame and validates it. Used by
// every ingest source; frames arrive as single objects, batches use
// ParseFrameBatch.
func ParseFrameBytes(data []byte, source string) (model.FeatureFrame, error) {
	var payload normalize.FramePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.FeatureFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if payload.Source == "" {
		payload.Source = source
	}
	return normalize.Frame(payload)
}

// ParseFrameBatch decodes a JSON array of frames; malformed entries are
// returned alongside the good ones so callers can count failures without
// discarding the batch.
func ParseFrameBatch(data []byte, source string) ([]model.FeatureFrame, int) {
	var payloads []normalize.FramePayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, 1
	}
	frames := make([]model.FeatureFrame, 0, len(payloads))
	failed := 0
	for _, payload := range payloads {
		if payload.Source == "" {
			payload.Source = source
		}
		frame, err := normalize.Frame(payload)
		if err != nil {
			failed++
			continue
		}
		frames = append(frames, frame)
	}
	return frames, failed
}
