package engine

import (
	"attune/internal/model"
)

// Below this many readings the smoother passes input through unchanged;
// smoothing a near-empty window would just echo startup noise.
const minReadingsToSmooth = 3

// DefaultSmoothingWindow is the bounded history capacity.
const DefaultSmoothingWindow = 5

// Smoother damps single-frame band flicker by voting over a bounded,
// time-ordered history of recent readings, weighting recent entries more.
// It is not safe for concurrent use; the classifier serializes access.
type Smoother struct {
	capacity int
	readings []model.Reading
}

func NewSmoother(capacity int) *Smoother {
	if capacity <= 0 {
		capacity = DefaultSmoothingWindow
	}
	return &Smoother{
		capacity: capacity,
		readings: make([]model.Reading, 0, capacity),
	}
}

// Smooth appends the new reading, evicting the oldest entry when the window
// is full, and returns the stabilized (band, confidence) pair.
//
// Each band present in the window accumulates confidence × recency weight,
// where recency weight is (index+1)/len. The winning band's confidence is
// the new reading's confidence discounted by how much of the window's total
// weight agrees with that band.
func (s *Smoother) Smooth(r model.Reading) (model.Band, float64) {
	if len(s.readings) >= s.capacity {
		copy(s.readings, s.readings[1:])
		s.readings[len(s.readings)-1] = r
	} else {
		s.readings = append(s.readings, r)
	}

	if len(s.readings) < minReadingsToSmooth {
		return r.Band, r.Confidence
	}

	var accumulated [model.BandRed + 1]float64
	n := float64(len(s.readings))
	total := 0.0
	for i, reading := range s.readings {
		w := reading.Confidence * float64(i+1) / n
		accumulated[reading.Band] += w
		total += w
	}
	if total == 0 {
		return r.Band, r.Confidence
	}

	best := r.Band
	bestWeight := accumulated[r.Band]
	for band := model.BandShutdown; band <= model.BandRed; band++ {
		if accumulated[band] > bestWeight {
			best = band
			bestWeight = accumulated[band]
		}
	}
	return best, r.Confidence * bestWeight / total
}

// Recent returns a copy of the window, oldest first.
func (s *Smoother) Recent() []model.Reading {
	out := make([]model.Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

func (s *Smoother) Len() int { return len(s.readings) }

func (s *Smoother) Reset() {
	s.readings = s.readings[:0]
}
