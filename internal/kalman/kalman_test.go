package kalman

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestParseModel(t *testing.T) {
	m, err := ParseModel("bias")
	require.NoError(t, err)
	assert.Equal(t, BiasState, m)
	assert.Equal(t, 3, m.States())

	m, err = ParseModel(" Simple ")
	require.NoError(t, err)
	assert.Equal(t, TwoState, m)
	assert.Equal(t, 2, m.States())

	m, err = ParseModel("")
	require.NoError(t, err)
	assert.Equal(t, BiasState, m)

	_, err = ParseModel("ekf")
	require.EqualError(t, err, `kalman: unknown model "ekf"`)
}

func TestNew_Defaults(t *testing.T) {
	kf := New(BiasState, 0)
	assert.Equal(t, DefaultSampleTime, kf.SampleTime())
	assert.Equal(t, 3, kf.Dim())

	q, r := kf.Noise()
	assert.Equal(t, DefaultProcessNoise, q)
	assert.Equal(t, DefaultObservationNoise, r)

	p := kf.Covariance()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.Equal(t, want, p[i][j])
		}
	}
	assert.Equal(t, 0.0, kf.Theta())
}

// referenceCycle runs one predict/update with gonum dense math.
func referenceCycle(model Model, dt float64, x []float64, p []float64, q [3]float64, r [2]float64, z [2]float64) (*mat.VecDense, *mat.Dense) {
	n := model.States()
	var F, H *mat.Dense
	if model == BiasState {
		F = mat.NewDense(3, 3, []float64{1, dt, -dt, 0, 1, 0, 0, 0, 1})
		H = mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 0})
	} else {
		F = mat.NewDense(2, 2, []float64{1, dt, 0, 1})
		H = mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	}
	Q := mat.NewDiagDense(n, q[:n])
	R := mat.NewDiagDense(2, r[:])

	xv := mat.NewVecDense(n, append([]float64(nil), x...))
	P := mat.NewDense(n, n, append([]float64(nil), p...))

	var xp mat.VecDense
	xp.MulVec(F, xv)
	var fp, pp mat.Dense
	fp.Mul(F, P)
	pp.Mul(&fp, F.T())
	pp.Add(&pp, Q)

	var hp, s mat.Dense
	hp.Mul(H, &pp)
	s.Mul(&hp, H.T())
	s.Add(&s, R)

	var sInv, pht, k mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		panic(err)
	}
	pht.Mul(&pp, H.T())
	k.Mul(&pht, &sInv)

	var hx, e mat.VecDense
	hx.MulVec(H, &xp)
	e.SubVec(mat.NewVecDense(2, z[:]), &hx)

	var dx, post mat.VecDense
	dx.MulVec(&k, &e)
	post.AddVec(&xp, &dx)

	var ks, ksk, pPost mat.Dense
	ks.Mul(&k, &s)
	ksk.Mul(&ks, k.T())
	pPost.Sub(&pp, &ksk)
	return &post, &pPost
}

func TestUpdate_MatchesGonumReference(t *testing.T) {
	for _, model := range []Model{BiasState, TwoState} {
		t.Run(model.String(), func(t *testing.T) {
			const dt = 0.02
			kf := New(model, dt)
			q := [3]float64{2e-4, 3e-3, 5e-6}
			r := [2]float64{0.5, 0.8}
			kf.SetNoise(q, r)
			n := model.States()

			// Warm up so the covariance has off-diagonal terms.
			for i := 0; i < 5; i++ {
				kf.Update(0.1*float64(i), 0.02, 0.005)
			}

			state := kf.State()
			cov := kf.Covariance()
			x := state[:n]
			p := make([]float64, 0, n*n)
			for i := 0; i < n; i++ {
				p = append(p, cov[i][:n]...)
			}

			const theta, gyro, offset = 0.42, 0.3, 0.05
			wantX, wantP := referenceCycle(model, dt, x, p, q, r, [2]float64{theta, gyro - offset})
			kf.Update(theta, gyro, offset)

			got := kf.State()
			for i := 0; i < n; i++ {
				assert.InDelta(t, wantX.AtVec(i), got[i], 1e-12)
			}
			gotP := kf.Covariance()
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					assert.InDelta(t, wantP.At(i, j), gotP[i][j], 1e-12)
				}
			}
			assert.Equal(t, gotP[0][0], kf.ThetaVariance())
		})
	}
}

func TestUpdate_CovarianceConvergesMonotonically(t *testing.T) {
	for _, model := range []Model{BiasState, TwoState} {
		t.Run(model.String(), func(t *testing.T) {
			kf := New(model, 0.02)
			n := kf.Dim()
			q, r := kf.Noise()

			const steps = 6000
			prev := kf.Covariance()
			var last [MaxStates][MaxStates]float64
			for step := 0; step < steps; step++ {
				// Constant noiseless observation consistent with a still body.
				kf.Update(0.3, 0, 0)
				p := kf.Covariance()

				for i := 0; i < n; i++ {
					if p[i][i] > prev[i][i]+1e-12 {
						t.Fatalf("step %d: P[%d][%d]=%v grew from %v", step, i, i, p[i][i], prev[i][i])
					}
					if p[i][i] <= 0 {
						t.Fatalf("step %d: P[%d][%d]=%v not positive", step, i, i, p[i][i])
					}
					for j := 0; j < n; j++ {
						if math.Abs(p[i][j]-p[j][i]) > 1e-12 {
							t.Fatalf("step %d: covariance lost symmetry at (%d,%d): %v vs %v", step, i, j, p[i][j], p[j][i])
						}
					}
				}
				last = prev
				prev = p
			}

			for i := 0; i < n; i++ {
				assert.Less(t, math.Abs(prev[i][i]-last[i][i]), 1e-9, "P[%d][%d] still moving", i, i)
			}
			// Steady-state variances sit between the process and observation noise.
			assert.Greater(t, prev[0][0], q[0])
			assert.Less(t, prev[0][0], r[0])
			assert.Greater(t, prev[1][1], q[1])
			assert.Less(t, prev[1][1], r[1])

			assert.InDelta(t, 0.3, kf.Theta(), 1e-4)
			assert.InDelta(t, 0, kf.ThetaRate(), 1e-4)
		})
	}
}

func TestUpdate_BiasStateAbsorbsConstantRate(t *testing.T) {
	kf := New(BiasState, 0.02)
	// The accelerometer angle is still while the gyro reports a steady rate:
	// the only consistent explanation is a gyro bias.
	for i := 0; i < 6000; i++ {
		kf.Update(0.3, 0.05, 0)
	}
	assert.InDelta(t, 0.3, kf.Theta(), 1e-4)
	assert.InDelta(t, 0.05, kf.ThetaRate(), 1e-4)
	assert.InDelta(t, 0.05, kf.Bias(), 1e-4)
}

func TestUpdate_OffsetIsSubtractedFromGyro(t *testing.T) {
	a := New(TwoState, 0.01)
	b := New(TwoState, 0.01)
	for i := 0; i < 10; i++ {
		a.Update(0.2, 0.75, 0.25)
		b.Update(0.2, 0.5, 0)
	}
	assert.Equal(t, a.State(), b.State())
	assert.Equal(t, a.Covariance(), b.Covariance())
	assert.Equal(t, 0.0, a.Bias())
}

func TestAccessors_DoNotRecompute(t *testing.T) {
	kf := New(BiasState, 0.01)
	kf.Update(0.5, 0.1, 0)
	th, rate, v := kf.Theta(), kf.ThetaRate(), kf.ThetaVariance()
	for i := 0; i < 3; i++ {
		assert.Equal(t, th, kf.Theta())
		assert.Equal(t, rate, kf.ThetaRate())
		assert.Equal(t, v, kf.ThetaVariance())
	}
}

func TestReset_SeedsThetaAndCovariance(t *testing.T) {
	kf := New(BiasState, 0.01)
	for i := 0; i < 50; i++ {
		kf.Update(1, 0.2, 0)
	}
	kf.Reset(-0.7)
	assert.Equal(t, -0.7, kf.Theta())
	assert.Equal(t, 0.0, kf.ThetaRate())
	assert.Equal(t, 0.0, kf.Bias())
	assert.Equal(t, 1.0, kf.ThetaVariance())
}

func TestSetSampleTime_RebuildsTransition(t *testing.T) {
	kf := New(TwoState, 0.01)
	kf.SetSampleTime(0.05)
	assert.Equal(t, 0.05, kf.SampleTime())

	// The predict step moves θ by θ̇·dt.
	kf.Reset(0)
	kf.posteriori[1] = 1
	kf.predict()
	assert.InDelta(t, 0.05, kf.priori[0], 1e-15)

	kf.SetSampleTime(0)
	assert.Equal(t, 0.05, kf.SampleTime())
}
