package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Band is one of the five ordered arousal bands, from under-arousal
// (shutdown) through crisis (red). The ordering is load-bearing: bands are
// compared against monotone thresholds.
type Band int

const (
	BandShutdown Band = iota
	BandGreen
	BandYellow
	BandOrange
	BandRed
)

var bandNames = [...]string{"shutdown", "green", "yellow", "orange", "red"}

func (b Band) String() string {
	if b < BandShutdown || b > BandRed {
		return "unknown"
	}
	return bandNames[b]
}

func (b Band) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Band) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBand(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func ParseBand(s string) (Band, error) {
	for i, name := range bandNames {
		if name == s {
			return Band(i), nil
		}
	}
	return BandGreen, fmt.Errorf("unknown arousal band %q", s)
}

// PoseFeatures is a body-pose feature record produced by an external pose
// adapter. Sub-features are normalized to [0,1]; Confidence is the adapter's
// detection quality for this record.
type PoseFeatures struct {
	MovementIntensity float64 `json:"movement_intensity"`
	BodyTension       float64 `json:"body_tension"`
	PostureOpenness   float64 `json:"posture_openness"`
	Confidence        float64 `json:"confidence"`
}

// ArousalContribution blends the pose sub-features into a single [0,1]
// arousal estimate. The weights are design constants, not learned. Open
// posture counts against arousal, so it enters inverted.
func (p PoseFeatures) ArousalContribution() float64 {
	return 0.40*p.MovementIntensity + 0.35*p.BodyTension + 0.25*(1-p.PostureOpenness)
}

// FacialFeatures is a facial-expression feature record from the external
// facial adapter.
type FacialFeatures struct {
	ExpressionIntensity float64 `json:"expression_intensity"`
	MouthOpenness       float64 `json:"mouth_openness"`
	EyeOpenness         float64 `json:"eye_openness"`
	BrowTension         float64 `json:"brow_tension"`
	Confidence          float64 `json:"confidence"`
}

func (f FacialFeatures) ArousalContribution() float64 {
	return 0.45*f.ExpressionIntensity + 0.20*f.MouthOpenness + 0.15*f.EyeOpenness + 0.20*f.BrowTension
}

// VocalFeatures is a vocal-affect feature record from the external vocal
// adapter. VoiceQuality is steadiness, so it enters inverted.
type VocalFeatures struct {
	Volume       float64 `json:"volume"`
	Pitch        float64 `json:"pitch"`
	Energy       float64 `json:"energy"`
	SpeechRate   float64 `json:"speech_rate"`
	VoiceQuality float64 `json:"voice_quality"`
	Confidence   float64 `json:"confidence"`
}

func (v VocalFeatures) ArousalContribution() float64 {
	return 0.30*v.Volume + 0.25*v.Pitch + 0.20*v.Energy + 0.15*v.SpeechRate + 0.10*(1-v.VoiceQuality)
}

// Thresholds holds the four band boundaries. Scores are mapped with
// half-open intervals: score < Shutdown is shutdown, score < Green is green,
// and so on; anything at or above Orange is red. Orange is the crisis
// boundary and is never personalized.
type Thresholds struct {
	Shutdown float64 `json:"shutdown"`
	Green    float64 `json:"green"`
	Yellow   float64 `json:"yellow"`
	Orange   float64 `json:"orange"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Shutdown: 0.20, Green: 0.45, Yellow: 0.65, Orange: 0.85}
}

// BaselineCalibration carries per-child reference levels collected during a
// calibration session. Owned by the profile subsystem; read-only here.
type BaselineCalibration struct {
	MovementEnergy float64 `json:"movement_energy" yaml:"movement_energy"`
	VocalPitchHz   float64 `json:"vocal_pitch_hz" yaml:"vocal_pitch_hz"`
	VocalVolumeDB  float64 `json:"vocal_volume_db" yaml:"vocal_volume_db"`
}

// DiagnosisAdjustments are multiplicative threshold sensitivity factors keyed
// to a diagnosis profile. 1.0 means no adjustment.
type DiagnosisAdjustments struct {
	Movement   float64 `json:"movement" yaml:"movement"`
	Vocal      float64 `json:"vocal" yaml:"vocal"`
	Expression float64 `json:"expression" yaml:"expression"`
}

// ChildProfile is the slice of the child-profile subsystem the classifier
// consumes: identity plus optional calibration and diagnosis adjustments.
type ChildProfile struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name,omitempty" yaml:"name"`
	Diagnosis   string                `json:"diagnosis,omitempty" yaml:"diagnosis"`
	Baseline    *BaselineCalibration  `json:"baseline,omitempty" yaml:"baseline"`
	Adjustments *DiagnosisAdjustments `json:"adjustments,omitempty" yaml:"adjustments"`
}

// Reading is a single (band, confidence) observation in the smoothing
// window.
type Reading struct {
	Band       Band      `json:"band"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Contributions records each modality's arousal contribution for the
// classification that produced it. Nil means the modality was absent.
type Contributions struct {
	Pose   *float64 `json:"pose,omitempty"`
	Facial *float64 `json:"facial,omitempty"`
	Vocal  *float64 `json:"vocal,omitempty"`
}

func (c Contributions) Count() int {
	n := 0
	if c.Pose != nil {
		n++
	}
	if c.Facial != nil {
		n++
	}
	if c.Vocal != nil {
		n++
	}
	return n
}

// Classification sources.
const (
	SourceFusion    = "fusion"
	SourcePersonal  = "personal"
	SourceReasoning = "reasoning"
)

// Classification is the immutable result of one classification call.
// RawBand/RawConfidence are the pre-smoothing values.
type Classification struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id,omitempty"`
	Band          Band          `json:"band"`
	Confidence    float64       `json:"confidence"`
	RawBand       Band          `json:"raw_band"`
	RawConfidence float64       `json:"raw_confidence"`
	Score         float64       `json:"score"`
	Source        string        `json:"source"`
	Contributions Contributions `json:"contributions"`
	Thresholds    Thresholds    `json:"thresholds"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ReasoningContext is the contextual data required before the external
// reasoning route may be attempted.
type ReasoningContext struct {
	Behaviors      []string `json:"behaviors,omitempty"`
	Environment    string   `json:"environment,omitempty"`
	ParentStress   *float64 `json:"parent_stress,omitempty"`
	SessionContext string   `json:"session_context,omitempty"`
}

// ReasoningRequest is the payload handed to the external reasoning service.
type ReasoningRequest struct {
	Profile        *ChildProfile   `json:"profile"`
	Pose           *PoseFeatures   `json:"pose,omitempty"`
	Facial         *FacialFeatures `json:"facial,omitempty"`
	Vocal          *VocalFeatures  `json:"vocal,omitempty"`
	Behaviors      []string        `json:"behaviors,omitempty"`
	Environment    string          `json:"environment,omitempty"`
	ParentStress   *float64        `json:"parent_stress,omitempty"`
	SessionContext string          `json:"session_context,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Frame and AudioChunk are opaque raw sensor payloads passed through to the
// external feature adapters. This core never decodes them.
type Frame []byte

type AudioChunk []byte

// FeatureFrame is one ingested unit of pre-extracted modality features for a
// session. Any modality may be absent.
type FeatureFrame struct {
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Pose      *PoseFeatures     `json:"pose,omitempty"`
	Facial    *FacialFeatures   `json:"facial,omitempty"`
	Vocal     *VocalFeatures    `json:"vocal,omitempty"`
	Context   *ReasoningContext `json:"context,omitempty"`
	Source    string            `json:"source,omitempty"`
}
