package trajectory

import (
	"fmt"
	"math"
)

// Indices of the current-sample features at the head of a FeatureVector.
// The lag blocks follow: LagFeatures x values, then y, then speed, each
// ordered oldest first and zero filled when the window is short.
const (
	FeatureX = iota
	FeatureY
	FeatureSpeed
	FeatureVX
	FeatureVY
	FeatureVerticalVel
	FeatureDirChange

	currentFeatures
)

// FeatureVector is the fixed-size scorer input derived from one accepted
// sample and its predecessors. All values are in pixel space.
type FeatureVector []float64

// FeatureLen returns the vector length for a given number of lags.
func FeatureLen(lags int) int { return currentFeatures + 3*lags }

// Lag returns the k-th lag (1 = previous sample) of block b, where b is 0 for
// x, 1 for y and 2 for speed.
func (f FeatureVector) Lag(b, k, lags int) float64 {
	if k < 1 || k > lags || b < 0 || b > 2 {
		return math.NaN()
	}
	return f[currentFeatures+b*lags+lags-k]
}

// Scorer returns the probability in [0, 1] that a feature vector marks a
// bounce. Implementations must be safe to call from the session goroutine.
type Scorer interface {
	Score(FeatureVector) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(FeatureVector) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(v FeatureVector) (float64, error) { return f(v) }

// ReversalScorer is a baseline Scorer for runs without a trained bounce
// classifier. It reports Confidence for samples at which the vertical
// direction flips and 0 elsewhere.
type ReversalScorer struct {
	Confidence float64
}

// Score implements Scorer.
func (r ReversalScorer) Score(f FeatureVector) (float64, error) {
	if len(f) < currentFeatures {
		return 0, fmt.Errorf("feature vector has %d values, want at least %d", len(f), currentFeatures)
	}
	if f[FeatureDirChange] != 0 {
		return r.Confidence, nil
	}
	return 0, nil
}

// buildFeatures assembles the vector for cur given the accepted samples that
// precede it, oldest first.
func buildFeatures(cur ValidatedSample, prev []ValidatedSample, lags int) FeatureVector {
	f := make(FeatureVector, FeatureLen(lags))
	f[FeatureX] = cur.Pixel.X
	f[FeatureY] = cur.Pixel.Y
	f[FeatureSpeed] = cur.PixelSpeed
	f[FeatureVX] = cur.Velocity.X
	f[FeatureVY] = cur.Velocity.Y
	f[FeatureVerticalVel] = cur.VerticalVel
	if cur.DirChange {
		f[FeatureDirChange] = 1
	}
	for k := 1; k <= lags && k <= len(prev); k++ {
		s := prev[len(prev)-k]
		pos := lags - k
		f[currentFeatures+pos] = s.Pixel.X
		f[currentFeatures+lags+pos] = s.Pixel.Y
		f[currentFeatures+2*lags+pos] = s.PixelSpeed
	}
	return f
}
