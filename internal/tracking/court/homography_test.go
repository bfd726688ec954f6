package court

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cameraH maps court metres to pixels for a broadcast-like view with
// perspective foreshortening along the court.
var cameraH = [9]float64{
	50, 8, 300,
	0, 22, 100,
	0, 0.012, 1,
}

func toPixel(p Point) Point {
	out, ok := apply(cameraH, p)
	if !ok {
		panic("test camera maps point to infinity")
	}
	return out
}

func syntheticReferences(kps []Keypoint) []Correspondence {
	out := make([]Correspondence, len(kps))
	for i, kp := range kps {
		out[i] = Correspondence{Pixel: toPixel(kp.Court), Court: kp.Court}
	}
	return out
}

func TestFit_RecoversCamera(t *testing.T) {
	t.Parallel()
	refs := syntheticReferences(CanonicalKeypoints())

	tr, residual, err := Fit(refs)
	require.NoError(t, err)
	assert.Less(t, residual, 1e-6)

	for _, c := range refs {
		got, ok := tr.Apply(c.Pixel)
		require.True(t, ok)
		assert.InDelta(t, c.Court.X, got.X, 1e-6)
		assert.InDelta(t, c.Court.Y, got.Y, 1e-6)
	}
	assert.InDelta(t, 1.0, tr.Matrix()[8], 1e-12)
}

func TestFit_MinimalFourPoints(t *testing.T) {
	t.Parallel()
	kps := CanonicalKeypoints()[:4] // outer doubles corners
	tr, residual, err := Fit(syntheticReferences(kps))
	require.NoError(t, err)
	assert.Less(t, residual, 1e-6)

	// The fit generalises to points it never saw.
	for _, kp := range CanonicalKeypoints()[4:] {
		got, ok := tr.Apply(toPixel(kp.Court))
		require.True(t, ok)
		assert.InDelta(t, kp.Court.X, got.X, 1e-6, kp.Name)
		assert.InDelta(t, kp.Court.Y, got.Y, 1e-6, kp.Name)
	}
}

func TestFit_RoundTrip(t *testing.T) {
	t.Parallel()
	tr, _, err := Fit(syntheticReferences(CanonicalKeypoints()))
	require.NoError(t, err)

	// Pixels covering the imaged court area.
	for x := 0.0; x <= DoublesWidth; x += 0.5 {
		for y := 0.0; y <= Length; y += 0.75 {
			p := toPixel(Point{x, y})
			c, ok := tr.Apply(p)
			require.True(t, ok)
			back, ok := tr.Inverse(c)
			require.True(t, ok)
			assert.InDelta(t, p.X, back.X, 1e-6)
			assert.InDelta(t, p.Y, back.Y, 1e-6)
		}
	}
}

func TestFit_NoisyPointsHaveResidual(t *testing.T) {
	t.Parallel()
	refs := syntheticReferences(CanonicalKeypoints())
	offsets := []float64{1.5, -2, 0.5, 2.5, -1, 1, -0.5, 2, -2.5, 0.3, -1.2, 1.8, -0.8, 0.6}
	for i := range refs {
		refs[i].Pixel.X += offsets[i]
		refs[i].Pixel.Y -= offsets[len(offsets)-1-i]
	}
	_, residual, err := Fit(refs)
	require.NoError(t, err)
	assert.Greater(t, residual, 1e-4)
	assert.Less(t, residual, 0.5)
}

func TestFit_Errors(t *testing.T) {
	t.Parallel()

	t.Run("too few points", func(t *testing.T) {
		_, _, err := Fit(syntheticReferences(CanonicalKeypoints()[:3]))
		assert.True(t, errors.Is(err, ErrTooFewPoints))
	})

	t.Run("collinear points", func(t *testing.T) {
		var kps []Keypoint
		for i := 0; i < 5; i++ {
			kps = append(kps, Keypoint{Court: Point{X: float64(i) * 2, Y: 0}})
		}
		_, _, err := Fit(syntheticReferences(kps))
		assert.True(t, errors.Is(err, ErrDegenerateGeometry))
	})

	t.Run("three of four collinear", func(t *testing.T) {
		kps := []Keypoint{
			{Court: Point{0, 0}},
			{Court: Point{AlleyWidth, 0}},
			{Court: Point{DoublesWidth, 0}},
			{Court: Point{0, Length}},
		}
		_, _, err := Fit(syntheticReferences(kps))
		assert.ErrorIs(t, err, ErrDegenerateGeometry)
	})
}

func TestNewTransform_Singular(t *testing.T) {
	t.Parallel()
	_, err := NewTransform([9]float64{1, 2, 3, 2, 4, 6, 0, 0, 1})
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestApply_Horizon(t *testing.T) {
	t.Parallel()
	tr, err := NewTransform([9]float64{1, 0, 0, 0, 1, 0, 0, 1, 1})
	require.NoError(t, err)
	_, ok := tr.Apply(Point{5, -1})
	assert.False(t, ok)
}
