package motion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testParams() Params {
	return Params{
		ProcessNoisePos:    50,
		ProcessNoiseVel:    5000,
		ProcessNoiseAcc:    50000,
		MeasurementNoise:   4,
		InitialPosVar:      25,
		InitialVelVar:      250000,
		InitialAccVar:      1e6,
		MaxPredictDt:       0.5,
		MaxCovarianceDiag:  1e6,
		MaxConditionNumber: 1e8,
	}
}

const frameDt = 1.0 / 30.0

func diag(s *mat.SymDense) []float64 {
	n := s.SymmetricDim()
	out := make([]float64, n)
	for i := range out {
		out[i] = s.At(i, i)
	}
	return out
}

func isPositiveDefinite(s *mat.SymDense) bool {
	var chol mat.Cholesky
	return chol.Factorize(s)
}

// --------------------------------------------------------------------------
// Predict / update properties
// --------------------------------------------------------------------------

func TestPredictThenUpdateAtPrediction(t *testing.T) {
	t.Parallel()

	for _, model := range []Model{ConstantVelocity, VerticalAcceleration} {
		t.Run(model.String(), func(t *testing.T) {
			t.Parallel()
			e := New(model, testParams(), 320, 240)
			require.NoError(t, e.Update(325, 238))
			e.Predict(frameDt)
			require.NoError(t, e.Update(331, 235))

			e.Predict(frameDt)
			before := e.State()
			covBefore := e.Covariance()

			px, py := e.Position()
			require.NoError(t, e.Update(px, py))

			after := e.State()
			for i := range before {
				assert.InDelta(t, before[i], after[i], 1e-9, "state[%d] moved", i)
			}

			covAfter := e.Covariance()
			assert.Less(t, mat.Trace(covAfter), mat.Trace(covBefore))
			db, da := diag(covBefore), diag(covAfter)
			for i := range db {
				assert.Less(t, da[i], db[i], "P[%d,%d] did not shrink", i, i)
			}
			assert.True(t, isPositiveDefinite(covAfter))
		})
	}
}

func TestPredictZeroDtIsNoOp(t *testing.T) {
	t.Parallel()
	e := New(ConstantVelocity, testParams(), 10, 20)
	require.NoError(t, e.Update(12, 21))
	state, cov := e.State(), e.Covariance()

	for _, dt := range []float64{0, -0.1, math.NaN(), math.Inf(1)} {
		e.Predict(dt)
		assert.Equal(t, state, e.State())
		assert.True(t, mat.Equal(cov, e.Covariance()))
	}
}

func TestPredictClampsDt(t *testing.T) {
	t.Parallel()
	a := New(ConstantVelocity, testParams(), 0, 0)
	b := a.Clone()
	require.NoError(t, a.Update(3, 0))
	require.NoError(t, b.Update(3, 0))

	a.Predict(0.5)
	b.Predict(30)
	assert.Equal(t, a.State(), b.State())
	assert.True(t, mat.EqualApprox(a.Covariance(), b.Covariance(), 1e-9))
}

func TestCovarianceCapKeepsPositiveDefinite(t *testing.T) {
	t.Parallel()
	p := testParams()
	p.MaxCovarianceDiag = 5000
	e := New(VerticalAcceleration, p, 100, 100)
	for i := 0; i < 200; i++ {
		e.Predict(frameDt)
	}
	cov := e.Covariance()
	for i, v := range diag(cov) {
		assert.LessOrEqual(t, v, p.MaxCovarianceDiag*(1+1e-12), "P[%d,%d]", i, i)
	}
	assert.True(t, isPositiveDefinite(cov))
}

func TestConstantVelocityConverges(t *testing.T) {
	t.Parallel()
	e := New(ConstantVelocity, testParams(), 100, 400)
	// 300 px/s right, 90 px/s up.
	for i := 1; i <= 60; i++ {
		e.Predict(frameDt)
		ts := float64(i) * frameDt
		require.NoError(t, e.Update(100+300*ts, 400-90*ts))
	}
	vx, vy := e.Velocity()
	assert.InDelta(t, 300, vx, 5)
	assert.InDelta(t, -90, vy, 5)
	assert.Zero(t, e.VerticalAcceleration())
}

func TestVerticalAccelerationConverges(t *testing.T) {
	t.Parallel()
	e := New(VerticalAcceleration, testParams(), 0, 100)
	const vy0, ay = -600.0, 1500.0
	for i := 1; i <= 90; i++ {
		e.Predict(frameDt)
		ts := float64(i) * frameDt
		require.NoError(t, e.Update(200*ts, 100+vy0*ts+0.5*ay*ts*ts))
	}
	assert.InDelta(t, ay, e.VerticalAcceleration(), 150)
	_, vy := e.Velocity()
	assert.InDelta(t, vy0+ay*90*frameDt, vy, 30)
}

// --------------------------------------------------------------------------
// Ill-conditioned updates
// --------------------------------------------------------------------------

func TestUpdateIllConditionedKeepsPrediction(t *testing.T) {
	t.Parallel()

	t.Run("tiny determinant", func(t *testing.T) {
		t.Parallel()
		p := testParams()
		p.MeasurementNoise = 1e-12
		p.InitialPosVar = 1e-12
		e := New(ConstantVelocity, p, 50, 50)
		before := e.State()
		err := e.Update(60, 40)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrIllConditioned))
		assert.Equal(t, before, e.State())
	})

	t.Run("high condition number", func(t *testing.T) {
		t.Parallel()
		p := testParams()
		p.MeasurementNoise = 1e-3
		e := New(ConstantVelocity, p, 50, 50)
		e.p.SetSym(0, 0, 1e9)
		e.p.SetSym(1, 1, 1e-3)
		before := e.State()
		covBefore := e.Covariance()

		err := e.Update(51, 49)
		assert.ErrorIs(t, err, ErrIllConditioned)
		assert.Equal(t, before, e.State())
		assert.True(t, mat.Equal(covBefore, e.Covariance()))
	})

	t.Run("non-finite measurement", func(t *testing.T) {
		t.Parallel()
		e := New(VerticalAcceleration, testParams(), 50, 50)
		before := e.State()
		assert.ErrorIs(t, e.Update(math.NaN(), 1), ErrIllConditioned)
		assert.ErrorIs(t, e.Update(1, math.Inf(-1)), ErrIllConditioned)
		assert.Equal(t, before, e.State())
	})
}

// --------------------------------------------------------------------------
// Gating and accessors
// --------------------------------------------------------------------------

func TestMahalanobisSquared(t *testing.T) {
	t.Parallel()
	e := New(ConstantVelocity, testParams(), 100, 100)

	assert.InDelta(t, 0, e.MahalanobisSquared(100, 100), 1e-12)
	near := e.MahalanobisSquared(103, 100)
	far := e.MahalanobisSquared(130, 100)
	assert.Greater(t, far, near)
	assert.InDelta(t, near, e.MahalanobisSquared(97, 100), 1e-9)
	// S = (25 + 4) I, so d² = 9/29.
	assert.InDelta(t, 9.0/29.0, near, 1e-9)

	assert.Equal(t, SingularDistance, e.MahalanobisSquared(math.NaN(), 0))
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	e := New(VerticalAcceleration, testParams(), 1, 2)
	c := e.Clone()
	require.NoError(t, c.Update(5, 5))
	c.Predict(frameDt)

	x, y := e.Position()
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 2.0, y)
	assert.Equal(t, VerticalAcceleration, c.Model())
	assert.Len(t, c.State(), 5)
}

func TestPositionVariance(t *testing.T) {
	t.Parallel()
	e := New(ConstantVelocity, testParams(), 0, 0)
	assert.Equal(t, 50.0, e.PositionVariance())
	e.Predict(frameDt)
	assert.Greater(t, e.PositionVariance(), 50.0)
}

func TestModelString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "constant_velocity", ConstantVelocity.String())
	assert.Equal(t, "vertical_acceleration", VerticalAcceleration.String())
	assert.Equal(t, "model(7)", Model(7).String())
	assert.Equal(t, 4, ConstantVelocity.Dim())
	assert.Equal(t, 5, VerticalAcceleration.Dim())
}
