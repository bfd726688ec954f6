package court

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewPoints is returned when fewer than four correspondences are supplied.
	ErrTooFewPoints = errors.New("too few reference points")
	// ErrDegenerateGeometry is returned for collinear points or a singular transform.
	ErrDegenerateGeometry = errors.New("degenerate reference geometry")
)

// Correspondence pairs an observed pixel with its canonical court position.
type Correspondence struct {
	Pixel Point `json:"pixel"`
	Court Point `json:"court"`
}

// minHomogeneousW rejects points mapped to (or beyond) the horizon line.
const minHomogeneousW = 1e-12

// Transform is a planar homography from pixel to court coordinates with its
// cached inverse. The zero value is not usable; build one with Fit or
// NewTransform.
type Transform struct {
	h   [9]float64
	inv [9]float64
}

// NewTransform builds a Transform from a row-major pixel to court matrix.
func NewTransform(h [9]float64) (Transform, error) {
	h = normalise(h)
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Transform{}, fmt.Errorf("%w: non-finite homography", ErrDegenerateGeometry)
		}
	}
	m := mat.NewDense(3, 3, append([]float64(nil), h[:]...))
	if math.Abs(mat.Det(m)) < 1e-15 {
		return Transform{}, fmt.Errorf("%w: singular homography", ErrDegenerateGeometry)
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	t := Transform{h: h}
	var raw [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			raw[i*3+j] = inv.At(i, j)
		}
	}
	t.inv = normalise(raw)
	return t, nil
}

// Matrix returns the row-major pixel to court matrix, scaled so h[8] == 1
// where possible.
func (t Transform) Matrix() [9]float64 { return t.h }

// Apply maps a pixel to court coordinates. It reports false for points on
// the horizon of the transform.
func (t Transform) Apply(p Point) (Point, bool) {
	return apply(t.h, p)
}

// Inverse maps a court position back to pixels.
func (t Transform) Inverse(p Point) (Point, bool) {
	return apply(t.inv, p)
}

func apply(h [9]float64, p Point) (Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < minHomogeneousW {
		return Point{}, false
	}
	out := Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
	if math.IsNaN(out.X) || math.IsNaN(out.Y) || math.IsInf(out.X, 0) || math.IsInf(out.Y, 0) {
		return Point{}, false
	}
	return out, true
}

// normalise scales h so the bottom-right entry is 1, or to unit Frobenius
// norm when that entry is near zero.
func normalise(h [9]float64) [9]float64 {
	s := h[8]
	if math.Abs(s) < 1e-12 {
		var sum float64
		for _, v := range h {
			sum += v * v
		}
		s = math.Sqrt(sum)
	}
	if s == 0 {
		return h
	}
	for i := range h {
		h[i] /= s
	}
	return h
}

// Fit estimates the pixel to court homography from at least four
// correspondences using the normalised direct linear transform, solved by
// SVD. The residual is the RMS reprojection error in court metres.
func Fit(points []Correspondence) (Transform, float64, error) {
	if len(points) < 4 {
		return Transform{}, 0, fmt.Errorf("%w: got %d, need 4", ErrTooFewPoints, len(points))
	}
	pixels := make([]Point, len(points))
	courts := make([]Point, len(points))
	for i, c := range points {
		pixels[i] = c.Pixel
		courts[i] = c.Court
	}
	if degenerate(pixels) || degenerate(courts) {
		return Transform{}, 0, fmt.Errorf("%w: points are collinear", ErrDegenerateGeometry)
	}

	tp := normalisation(pixels)
	tc := normalisation(courts)

	a := mat.NewDense(2*len(points), 9, nil)
	for i := range points {
		x, y := applyAffine(tp, pixels[i])
		u, v := applyAffine(tc, courts[i])
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return Transform{}, 0, fmt.Errorf("%w: SVD did not converge", ErrDegenerateGeometry)
	}
	values := svd.Values(nil)
	// A rank below 8 leaves more than one candidate solution.
	if len(values) >= 8 && values[7] <= 1e-10*values[0] {
		return Transform{}, 0, fmt.Errorf("%w: under-determined fit", ErrDegenerateGeometry)
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = Tc⁻¹ Hn Tp
	var tcInv mat.Dense
	if err := tcInv.Inverse(tc); err != nil {
		return Transform{}, 0, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	var tmp, h mat.Dense
	tmp.Mul(hn, tp)
	h.Mul(&tcInv, &tmp)

	var raw [9]float64
	for i := 0; i < 9; i++ {
		raw[i] = h.At(i/3, i%3)
	}
	t, err := NewTransform(raw)
	if err != nil {
		return Transform{}, 0, err
	}
	residual, err := Residual(t, points)
	if err != nil {
		return Transform{}, 0, err
	}
	return t, residual, nil
}

// Residual returns the RMS distance in metres between projected pixels and
// their court positions.
func Residual(t Transform, points []Correspondence) (float64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	var sum float64
	for _, c := range points {
		p, ok := t.Apply(c.Pixel)
		if !ok {
			return 0, fmt.Errorf("%w: reference point maps to infinity", ErrDegenerateGeometry)
		}
		dx, dy := p.X-c.Court.X, p.Y-c.Court.Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(points))), nil
}

// normalisation returns the similarity transform that moves the centroid of
// pts to the origin and scales their mean distance to √2.
func normalisation(pts []Point) *mat.Dense {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	s := 1.0
	if mean > 0 {
		s = math.Sqrt2 / mean
	}
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
}

func applyAffine(t *mat.Dense, p Point) (float64, float64) {
	return t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2),
		t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)
}

// degenerate reports whether the points are (nearly) collinear, measured by
// the ratio of the singular values of their centred coordinates. For exactly
// four points no three may be collinear either.
func degenerate(pts []Point) bool {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	m := mat.NewDense(len(pts), 2, nil)
	for i, p := range pts {
		m.Set(i, 0, p.X-cx)
		m.Set(i, 1, p.Y-cy)
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return true
	}
	sv := svd.Values(nil)
	if len(sv) < 2 || sv[0] == 0 || sv[1]/sv[0] < 1e-3 {
		return true
	}
	if len(pts) == 4 {
		for i := 0; i < 4; i++ {
			var tri []Point
			for j := 0; j < 4; j++ {
				if j != i {
					tri = append(tri, pts[j])
				}
			}
			if collinear(tri[0], tri[1], tri[2]) {
				return true
			}
		}
	}
	return false
}

// collinear tests three points with a scale-relative area tolerance.
func collinear(a, b, c Point) bool {
	area := math.Abs((b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X))
	scale := math.Max(math.Hypot(b.X-a.X, b.Y-a.Y), math.Hypot(c.X-a.X, c.Y-a.Y))
	return area <= 1e-6*scale*scale
}
