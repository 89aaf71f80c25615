package engine

import (
	"attune/internal/model"
)

// Generic-path fusion weights. Pose and facial weights scale with the
// adapter's detection confidence; vocal carries a small fixed weight because
// untrained vocal affect is the least reliable channel.
const (
	poseFusionWeight   = 0.50
	facialFusionWeight = 0.40
	vocalFusionWeight  = 0.10

	// neutralScore sits on the green boundary; it is emitted when every
	// modality is absent.
	neutralScore = 0.5

	// personalModelConfidence is a fixed constant rather than a value
	// derived from neighbor agreement. Known simplification inherited from
	// the trained-model rollout: a model trained on this specific child is
	// trusted at a flat 0.85.
	personalModelConfidence = 0.85
)

// fusionResult is the pre-smoothing outcome of one fusion pass.
type fusionResult struct {
	Band          model.Band
	Score         float64
	Confidence    float64
	Source        string
	Contributions model.Contributions
}

// fuse combines the available modality contributions into one scored band.
// With a personal model present it predicts over the fixed-order feature
// vector; otherwise it runs the weighted generic blend against the supplied
// thresholds. Both paths record the per-modality contribution breakdown.
// The error is non-nil only for a feature-dimension mismatch against the
// personal model, which the caller handles as "model unusable".
func fuse(pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures,
	personal *PersonalModel, thresholds model.Thresholds) (fusionResult, error) {

	var contrib model.Contributions
	weighted := 0.0
	totalWeight := 0.0
	if pose != nil {
		v := clamp(pose.ArousalContribution(), 0, 1)
		contrib.Pose = &v
		w := poseFusionWeight * pose.Confidence
		weighted += v * w
		totalWeight += w
	}
	if facial != nil {
		v := clamp(facial.ArousalContribution(), 0, 1)
		contrib.Facial = &v
		w := facialFusionWeight * facial.Confidence
		weighted += v * w
		totalWeight += w
	}
	if vocal != nil {
		v := clamp(vocal.ArousalContribution(), 0, 1)
		contrib.Vocal = &v
		weighted += v * vocalFusionWeight
		totalWeight += vocalFusionWeight
	}

	if personal != nil {
		label, err := personal.Predict(FeatureVector(pose, facial, vocal))
		if err != nil {
			return fusionResult{}, err
		}
		band, _ := BandForLabel(label)
		return fusionResult{
			Band:          band,
			Score:         weighted, // informational; the model decides the band
			Confidence:    personalModelConfidence,
			Source:        model.SourcePersonal,
			Contributions: contrib,
		}, nil
	}

	score := neutralScore
	if totalWeight > 0 {
		score = weighted / totalWeight
	}
	return fusionResult{
		Band:          bandForScore(score, thresholds),
		Score:         score,
		Confidence:    fusionConfidence(score, totalWeight, contrib.Count()),
		Source:        model.SourceFusion,
		Contributions: contrib,
	}, nil
}
