package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"attune/internal/model"
)

// Label is a training label for the personal nearest-neighbor model. Labels
// come from caregiver annotation during recording sessions and are mapped to
// bands at predict time.
type Label string

const (
	LabelCalm     Label = "calm"
	LabelPlayful  Label = "playful"
	LabelUpset    Label = "upset"
	LabelAngry    Label = "angry"
	LabelMeltdown Label = "meltdown"
)

var labelBands = map[Label]model.Band{
	LabelCalm:     model.BandGreen,
	LabelPlayful:  model.BandYellow,
	LabelUpset:    model.BandYellow,
	LabelAngry:    model.BandOrange,
	LabelMeltdown: model.BandRed,
}

// FeatureDim is the fixed length of a fused feature vector: 3 pose, 4
// facial, 5 vocal sub-features, in that order. Absent modalities are
// zero-filled.
const FeatureDim = 12

// ErrDimensionMismatch reports a predict-time vector whose length does not
// match the model. This is a programmer or model-loading error, never an
// expected runtime condition.
var ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

// Example is one labeled training observation.
type Example struct {
	Features []float64 `json:"features" yaml:"features"`
	Label    Label     `json:"label" yaml:"label"`
}

// PersonalModel is a k-nearest-neighbor classifier trained on one child's
// labeled feature vectors. It is loaded once per coaching session and read
// concurrently without mutation.
type PersonalModel struct {
	examples []Example
	k        int
	dim      int
}

// NewPersonalModel validates the training set and fixes the feature
// dimensionality for the model's lifetime.
func NewPersonalModel(examples []Example, k int) (*PersonalModel, error) {
	if len(examples) == 0 {
		return nil, errors.New("personal model needs at least one training example")
	}
	if k <= 0 {
		k = 3
	}
	dim := len(examples[0].Features)
	if dim == 0 {
		return nil, errors.New("training example has no features")
	}
	for i, ex := range examples {
		if len(ex.Features) != dim {
			return nil, fmt.Errorf("training example %d has %d features, expected %d: %w",
				i, len(ex.Features), dim, ErrDimensionMismatch)
		}
		if _, ok := labelBands[ex.Label]; !ok {
			return nil, fmt.Errorf("training example %d has unknown label %q", i, ex.Label)
		}
	}
	if k > len(examples) {
		k = len(examples)
	}
	copied := make([]Example, len(examples))
	for i, ex := range examples {
		copied[i] = Example{
			Features: append([]float64(nil), ex.Features...),
			Label:    ex.Label,
		}
	}
	return &PersonalModel{examples: copied, k: k, dim: dim}, nil
}

func (m *PersonalModel) Dim() int { return m.dim }

func (m *PersonalModel) Len() int { return len(m.examples) }

// Predict returns the label of the best-supported class among the k nearest
// training examples, weighting each neighbor by inverse distance.
func (m *PersonalModel) Predict(features []float64) (Label, error) {
	if len(features) != m.dim {
		return "", fmt.Errorf("got %d features, model expects %d: %w",
			len(features), m.dim, ErrDimensionMismatch)
	}

	type neighbor struct {
		label    Label
		distance float64
	}
	neighbors := make([]neighbor, len(m.examples))
	for i, ex := range m.examples {
		neighbors[i] = neighbor{label: ex.Label, distance: euclidean(features, ex.Features)}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].distance < neighbors[j].distance
	})

	const epsilon = 1e-9
	weights := make(map[Label]float64)
	for i := 0; i < m.k; i++ {
		weights[neighbors[i].label] += 1 / (neighbors[i].distance + epsilon)
	}

	best := neighbors[0].label
	bestWeight := 0.0
	for label, w := range weights {
		if w > bestWeight || (w == bestWeight && labelBands[label] > labelBands[best]) {
			best = label
			bestWeight = w
		}
	}
	return best, nil
}

// BandForLabel maps a training label to its arousal band.
func BandForLabel(l Label) (model.Band, bool) {
	band, ok := labelBands[l]
	return band, ok
}

// FeatureVector builds the fixed-order fused vector the personal model
// predicts on. Absent modalities are zero-filled, never an error.
func FeatureVector(pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures) []float64 {
	vec := make([]float64, 0, FeatureDim)
	if pose != nil {
		vec = append(vec, pose.MovementIntensity, pose.BodyTension, pose.PostureOpenness)
	} else {
		vec = append(vec, 0, 0, 0)
	}
	if facial != nil {
		vec = append(vec, facial.ExpressionIntensity, facial.MouthOpenness, facial.EyeOpenness, facial.BrowTension)
	} else {
		vec = append(vec, 0, 0, 0, 0)
	}
	if vocal != nil {
		vec = append(vec, vocal.Volume, vocal.Pitch, vocal.Energy, vocal.SpeechRate, vocal.VoiceQuality)
	} else {
		vec = append(vec, 0, 0, 0, 0, 0)
	}
	return vec
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
