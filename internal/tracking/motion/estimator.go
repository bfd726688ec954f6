// Package motion implements the per-object linear state estimator used by the
// track manager: a Kalman filter over image-space position and velocity, with an
// optional constant vertical acceleration term for the ball.
package motion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrIllConditioned is returned by Update when the innovation covariance is
// too close to singular to invert safely. The estimator keeps its prediction.
var ErrIllConditioned = errors.New("ill-conditioned innovation covariance")

// Internal numerical stability constants, not user-tunable.
const (
	// MinDeterminant is the smallest innovation covariance determinant accepted.
	MinDeterminant = 1e-9
	// SingularDistance is the gating distance returned when S cannot be inverted.
	SingularDistance = 1e9
)

// Model selects the state layout and transition of an Estimator.
type Model int

const (
	// ConstantVelocity tracks [x y vx vy].
	ConstantVelocity Model = iota
	// VerticalAcceleration tracks [x y vx vy ay]: constant velocity across the
	// image, constant acceleration along the image vertical axis.
	VerticalAcceleration
)

// Dim returns the length of the state vector.
func (m Model) Dim() int {
	if m == VerticalAcceleration {
		return 5
	}
	return 4
}

func (m Model) String() string {
	switch m {
	case ConstantVelocity:
		return "constant_velocity"
	case VerticalAcceleration:
		return "vertical_acceleration"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

// Params holds the noise and limit parameters of an Estimator.
// Process noise values are dt-normalised (variance per second).
type Params struct {
	ProcessNoisePos  float64
	ProcessNoiseVel  float64
	ProcessNoiseAcc  float64
	MeasurementNoise float64 // σ² of each measured coordinate

	InitialPosVar float64
	InitialVelVar float64
	InitialAccVar float64

	MaxPredictDt       float64 // seconds; 0 disables the clamp
	MaxCovarianceDiag  float64 // 0 disables the cap
	MaxConditionNumber float64 // 0 disables the check
}

// Estimator is a linear Kalman filter over one tracked object.
// It is not safe for concurrent use; the owning track manager serialises access.
type Estimator struct {
	model  Model
	params Params
	x      *mat.VecDense
	p      *mat.SymDense
}

// New returns an estimator at rest at (x, y) with the initial covariance
// taken from params.
func New(model Model, params Params, x, y float64) *Estimator {
	n := model.Dim()
	state := mat.NewVecDense(n, nil)
	state.SetVec(0, x)
	state.SetVec(1, y)

	p := mat.NewSymDense(n, nil)
	p.SetSym(0, 0, params.InitialPosVar)
	p.SetSym(1, 1, params.InitialPosVar)
	p.SetSym(2, 2, params.InitialVelVar)
	p.SetSym(3, 3, params.InitialVelVar)
	if model == VerticalAcceleration {
		p.SetSym(4, 4, params.InitialAccVar)
	}
	return &Estimator{model: model, params: params, x: state, p: p}
}

// Model returns the estimator's motion model.
func (e *Estimator) Model() Model { return e.model }

// transition builds the state transition matrix F(dt).
//
//	F = [1 0 dt 0  (0)      ]
//	    [0 1 0  dt (dt²/2)  ]
//	    [0 0 1  0  (0)      ]
//	    [0 0 0  1  (dt)     ]
//	    [0 0 0  0  (1)      ]
func (e *Estimator) transition(dt float64) *mat.Dense {
	n := e.model.Dim()
	f := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		f.Set(i, i, 1)
	}
	f.Set(0, 2, dt)
	f.Set(1, 3, dt)
	if e.model == VerticalAcceleration {
		f.Set(1, 4, 0.5*dt*dt)
		f.Set(3, 4, dt)
	}
	return f
}

// processNoise returns Q(dt), diagonal and scaled by dt.
func (e *Estimator) processNoise(dt float64) *mat.SymDense {
	n := e.model.Dim()
	q := mat.NewSymDense(n, nil)
	q.SetSym(0, 0, e.params.ProcessNoisePos*dt)
	q.SetSym(1, 1, e.params.ProcessNoisePos*dt)
	q.SetSym(2, 2, e.params.ProcessNoiseVel*dt)
	q.SetSym(3, 3, e.params.ProcessNoiseVel*dt)
	if e.model == VerticalAcceleration {
		q.SetSym(4, 4, e.params.ProcessNoiseAcc*dt)
	}
	return q
}

// Predict advances the state by dt seconds. A non-positive dt is a no-op and
// dt is clamped to MaxPredictDt so long gaps do not balloon the covariance.
func (e *Estimator) Predict(dt float64) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return
	}
	if e.params.MaxPredictDt > 0 && dt > e.params.MaxPredictDt {
		dt = e.params.MaxPredictDt
	}

	f := e.transition(dt)

	var x mat.VecDense
	x.MulVec(f, e.x)

	// P' = F P Fᵀ + Q
	var fp, fpf mat.Dense
	fp.Mul(f, e.p)
	fpf.Mul(&fp, f.T())
	p := symmetrize(&fpf)
	p.AddSym(p, e.processNoise(dt))
	e.capCovariance(p)

	// Guard: keep the previous state if prediction produced NaN/Inf.
	if !finiteVec(&x) || !finiteSym(p) {
		return
	}
	e.x = &x
	e.p = p
}

// capCovariance rescales rows and columns whose variance exceeds
// MaxCovarianceDiag. The congruence D P D keeps P positive semi-definite.
func (e *Estimator) capCovariance(p *mat.SymDense) {
	limit := e.params.MaxCovarianceDiag
	if limit <= 0 {
		return
	}
	n := p.SymmetricDim()
	scale := make([]float64, n)
	capped := false
	for i := 0; i < n; i++ {
		scale[i] = 1
		if v := p.At(i, i); v > limit {
			scale[i] = math.Sqrt(limit / v)
			capped = true
		}
	}
	if !capped {
		return
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			p.SetSym(i, j, p.At(i, j)*scale[i]*scale[j])
		}
	}
}

// innovation returns the innovation covariance S = H P Hᵀ + R for the
// position measurement H = [I₂ 0].
func (e *Estimator) innovation() *mat.SymDense {
	r := e.params.MeasurementNoise
	return mat.NewSymDense(2, []float64{
		e.p.At(0, 0) + r, e.p.At(0, 1),
		e.p.At(1, 0), e.p.At(1, 1) + r,
	})
}

// wellConditioned reports whether S can be inverted safely.
func (e *Estimator) wellConditioned(s *mat.SymDense) bool {
	if !finiteSym(s) {
		return false
	}
	det := s.At(0, 0)*s.At(1, 1) - s.At(0, 1)*s.At(1, 0)
	if !(det >= MinDeterminant) {
		return false
	}
	if e.params.MaxConditionNumber > 0 && mat.Cond(s, 2) > e.params.MaxConditionNumber {
		return false
	}
	return true
}

// Update fuses a position measurement. The covariance is updated in Joseph
// form, P = (I-KH) P (I-KH)ᵀ + K R Kᵀ, which stays symmetric positive-definite
// under rounding. When S is ill-conditioned or the result is not finite the
// prediction is kept and ErrIllConditioned is returned.
func (e *Estimator) Update(zx, zy float64) error {
	if !isFinite(zx) || !isFinite(zy) {
		return fmt.Errorf("%w: non-finite measurement (%v, %v)", ErrIllConditioned, zx, zy)
	}

	s := e.innovation()
	if !e.wellConditioned(s) {
		return ErrIllConditioned
	}
	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return fmt.Errorf("%w: %v", ErrIllConditioned, err)
	}

	n := e.model.Dim()
	h := mat.NewDense(2, n, nil)
	h.Set(0, 0, 1)
	h.Set(1, 1, 1)

	// K = P Hᵀ S⁻¹
	var pht, k mat.Dense
	pht.Mul(e.p, h.T())
	k.Mul(&pht, &sInv)

	// y = z - H x
	y := mat.NewVecDense(2, []float64{zx - e.x.AtVec(0), zy - e.x.AtVec(1)})

	var x mat.VecDense
	x.MulVec(&k, y)
	x.AddVec(e.x, &x)

	// Joseph form.
	var kh, ikh mat.Dense
	kh.Mul(&k, h)
	ikh.Sub(eye(n), &kh)
	var a, joseph mat.Dense
	a.Mul(&ikh, e.p)
	joseph.Mul(&a, ikh.T())
	var krk mat.Dense
	krk.Mul(&k, k.T())
	krk.Scale(e.params.MeasurementNoise, &krk)
	joseph.Add(&joseph, &krk)
	p := symmetrize(&joseph)

	if !finiteVec(&x) || !finiteSym(p) {
		return fmt.Errorf("%w: non-finite posterior", ErrIllConditioned)
	}
	e.x = &x
	e.p = p
	return nil
}

// MahalanobisSquared returns the squared Mahalanobis distance of a measurement
// from the predicted position, or SingularDistance when S is not invertible.
func (e *Estimator) MahalanobisSquared(zx, zy float64) float64 {
	s := e.innovation()
	det := s.At(0, 0)*s.At(1, 1) - s.At(0, 1)*s.At(1, 0)
	if !(det >= MinDeterminant) || !isFinite(zx) || !isFinite(zy) {
		return SingularDistance
	}
	dx := zx - e.x.AtVec(0)
	dy := zy - e.x.AtVec(1)
	inv00 := s.At(1, 1) / det
	inv01 := -s.At(0, 1) / det
	inv11 := s.At(0, 0) / det
	return dx*dx*inv00 + 2*dx*dy*inv01 + dy*dy*inv11
}

// Position returns the estimated position.
func (e *Estimator) Position() (x, y float64) {
	return e.x.AtVec(0), e.x.AtVec(1)
}

// Velocity returns the estimated velocity in units per second.
func (e *Estimator) Velocity() (vx, vy float64) {
	return e.x.AtVec(2), e.x.AtVec(3)
}

// VerticalAcceleration returns the vertical acceleration term, zero for the
// constant velocity model.
func (e *Estimator) VerticalAcceleration() float64 {
	if e.model != VerticalAcceleration {
		return 0
	}
	return e.x.AtVec(4)
}

// State returns a copy of the state vector.
func (e *Estimator) State() []float64 {
	out := make([]float64, e.x.Len())
	for i := range out {
		out[i] = e.x.AtVec(i)
	}
	return out
}

// Covariance returns a copy of the state covariance.
func (e *Estimator) Covariance() *mat.SymDense {
	c := mat.NewSymDense(e.p.SymmetricDim(), nil)
	c.CopySym(e.p)
	return c
}

// PositionVariance returns the trace of the position block of P.
func (e *Estimator) PositionVariance() float64 {
	return e.p.At(0, 0) + e.p.At(1, 1)
}

// Clone returns an independent copy of the estimator.
func (e *Estimator) Clone() *Estimator {
	x := mat.VecDenseCopyOf(e.x)
	return &Estimator{model: e.model, params: e.params, x: x, p: e.Covariance()}
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// symmetrize returns (A + Aᵀ)/2 as a SymDense.
func symmetrize(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		if !isFinite(v.AtVec(i)) {
			return false
		}
	}
	return true
}

func finiteSym(s *mat.SymDense) bool {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if !isFinite(s.At(i, j)) {
				return false
			}
		}
	}
	return true
}
