package engine

import (
	"attune/internal/model"
)

// Baseline personalization constants. The 0.7/0.3 split and the ±0.15 clamp
// are fixed configuration values carried over from the calibration study;
// they are not tunable hyperparameters.
const (
	baselineMovementWeight = 0.70
	baselineVocalWeight    = 0.30
	baselineOffsetClamp    = 0.15

	minShutdownThreshold = 0.10
	minBandWidth         = 0.05
)

// Fixed reference ranges used to min-max normalize baseline measurements.
const (
	movementEnergyRefLow  = 0.0
	movementEnergyRefHigh = 1.0
	pitchRefLowHz         = 75.0
	pitchRefHighHz        = 400.0
	volumeRefLowDB        = 30.0
	volumeRefHighDB       = 90.0
)

// PersonalizeThresholds derives per-child band boundaries from the defaults,
// an optional baseline calibration, and optional diagnosis adjustments.
//
// The orange (crisis) boundary is never moved: a child's crisis band must
// not become harder to reach than the default, whatever the calibration
// says. Shutdown, green, and yellow shift together by a clamped offset
// between the child's baseline arousal and the midpoint of the default
// shutdown/green band, then green and yellow are scaled by the diagnosis
// sensitivity. Floors prevent band collapse.
func PersonalizeThresholds(def model.Thresholds, baseline *model.BaselineCalibration, adj *model.DiagnosisAdjustments) model.Thresholds {
	t := def

	if baseline != nil {
		offset := clamp(baselineArousal(baseline)-(def.Shutdown+def.Green)/2,
			-baselineOffsetClamp, baselineOffsetClamp)
		t.Shutdown += offset
		t.Green += offset
		t.Yellow += offset
	}

	if adj != nil {
		s := diagnosisSensitivity(adj)
		t.Green *= s
		t.Yellow *= s
	}

	// Safety invariant: the crisis boundary stays at the default.
	t.Orange = def.Orange

	if t.Shutdown < minShutdownThreshold {
		t.Shutdown = minShutdownThreshold
	}
	if t.Green < t.Shutdown+minBandWidth {
		t.Green = t.Shutdown + minBandWidth
	}
	if t.Yellow < t.Green+minBandWidth {
		t.Yellow = t.Green + minBandWidth
	}
	if t.Yellow > t.Orange {
		t.Yellow = t.Orange
	}
	if t.Green > t.Yellow {
		t.Green = t.Yellow
	}
	if t.Shutdown > t.Green {
		t.Shutdown = t.Green
	}
	return t
}

// baselineArousal maps a calibration record to a [0,1] arousal-equivalent
// score: 70% normalized movement energy, 30% normalized vocal level (pitch
// and volume averaged).
func baselineArousal(b *model.BaselineCalibration) float64 {
	movement := normalizeRange(b.MovementEnergy, movementEnergyRefLow, movementEnergyRefHigh)
	pitch := normalizeRange(b.VocalPitchHz, pitchRefLowHz, pitchRefHighHz)
	volume := normalizeRange(b.VocalVolumeDB, volumeRefLowDB, volumeRefHighDB)
	return baselineMovementWeight*movement + baselineVocalWeight*(pitch+volume)/2
}

func diagnosisSensitivity(adj *model.DiagnosisAdjustments) float64 {
	s := (adj.Movement + adj.Vocal + adj.Expression) / 3
	if s <= 0 {
		return 1
	}
	return s
}

// bandForScore maps a normalized arousal score to a band using half-open
// intervals against the supplied thresholds.
func bandForScore(score float64, t model.Thresholds) model.Band {
	switch {
	case score < t.Shutdown:
		return model.BandShutdown
	case score < t.Green:
		return model.BandGreen
	case score < t.Yellow:
		return model.BandYellow
	case score < t.Orange:
		return model.BandOrange
	default:
		return model.BandRed
	}
}

func normalizeRange(v, low, high float64) float64 {
	if high <= low {
		return 0
	}
	return clamp((v-low)/(high-low), 0, 1)
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
