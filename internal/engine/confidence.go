package engine

// Confidence weighting: modality coverage matters most, then total signal
// weight, then distance from the nearest decision boundary.
const (
	coverageWeight = 0.4
	weightWeight   = 0.3
	boundaryWeight = 0.3

	minConfidence = 0.1
	maxConfidence = 1.0
)

// scoreBoundaries are the fixed default band boundaries used for the
// boundary-distance factor. Personalized thresholds deliberately do not feed
// this: confidence reflects how decisive the raw score is, not where a
// child's bands happen to sit.
var scoreBoundaries = [4]float64{0.20, 0.45, 0.65, 0.85}

// fusionConfidence estimates how much to trust a generic-path score. It is
// never below 0.1: a classification is always emitted, and the caller
// discounts rather than discards uncertain results.
func fusionConfidence(score, totalWeight float64, modalityCount int) float64 {
	coverage := float64(modalityCount) / 3

	weight := totalWeight
	if weight > 1 {
		weight = 1
	}

	minDist := 1.0
	for _, b := range scoreBoundaries {
		d := score - b
		if d < 0 {
			d = -d
		}
		if d < minDist {
			minDist = d
		}
	}
	boundary := 2 * minDist
	if boundary > 1 {
		boundary = 1
	}

	c := coverageWeight*coverage + weightWeight*weight + boundaryWeight*boundary
	return clamp(c, minConfidence, maxConfidence)
}
