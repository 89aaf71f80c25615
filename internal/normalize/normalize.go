package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"attune/internal/model"
)

// FramePayload is the loosely-typed shape of an ingested feature frame
// before validation. Collaborator extractors emit it as JSON over REST,
// Kafka, or MQTT; timestamps arrive in whatever format the gateway uses.
type FramePayload struct {
	SessionID string                  `json:"session_id"`
	Timestamp string                  `json:"timestamp"`
	Pose      *model.PoseFeatures     `json:"pose,omitempty"`
	Facial    *model.FacialFeatures   `json:"facial,omitempty"`
	Vocal     *model.VocalFeatures    `json:"vocal,omitempty"`
	Context   *model.ReasoningContext `json:"context,omitempty"`
	Source    string                  `json:"source,omitempty"`
}

// Frame validates a payload into a model.FeatureFrame. Sub-features are
// clamped into [0,1]; a modality with a non-positive detection confidence is
// dropped as absent. A frame with no session ID cannot be routed and is the
// only hard error.
func Frame(p FramePayload) (model.FeatureFrame, error) {
	session := strings.TrimSpace(p.SessionID)
	if session == "" {
		return model.FeatureFrame{}, errors.New("feature frame missing session_id")
	}

	ts := time.Now().UTC()
	if p.Timestamp != "" {
		parsed, err := ParseTimestamp(p.Timestamp, time.UTC)
		if err != nil {
			return model.FeatureFrame{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	frame := model.FeatureFrame{
		SessionID: session,
		Timestamp: ts,
		Context:   p.Context,
		Source:    p.Source,
	}
	if p.Pose != nil && p.Pose.Confidence > 0 {
		pose := *p.Pose
		pose.MovementIntensity = clamp01(pose.MovementIntensity)
		pose.BodyTension = clamp01(pose.BodyTension)
		pose.PostureOpenness = clamp01(pose.PostureOpenness)
		pose.Confidence = clamp01(pose.Confidence)
		frame.Pose = &pose
	}
	if p.Facial != nil && p.Facial.Confidence > 0 {
		facial := *p.Facial
		facial.ExpressionIntensity = clamp01(facial.ExpressionIntensity)
		facial.MouthOpenness = clamp01(facial.MouthOpenness)
		facial.EyeOpenness = clamp01(facial.EyeOpenness)
		facial.BrowTension = clamp01(facial.BrowTension)
		facial.Confidence = clamp01(facial.Confidence)
		frame.Facial = &facial
	}
	if p.Vocal != nil && p.Vocal.Confidence > 0 {
		vocal := *p.Vocal
		vocal.Volume = clamp01(vocal.Volume)
		vocal.Pitch = clamp01(vocal.Pitch)
		vocal.Energy = clamp01(vocal.Energy)
		vocal.SpeechRate = clamp01(vocal.SpeechRate)
		vocal.VoiceQuality = clamp01(vocal.VoiceQuality)
		vocal.Confidence = clamp01(vocal.Confidence)
		frame.Vocal = &vocal
	}
	return frame, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
