// Package kalman implements the small linear Kalman filter that fuses an
// accelerometer-derived tilt angle with a gyro rate.
//
// The state is (θ, θ̇) or (θ, θ̇, b) where b is the residual gyro bias. All
// storage is fixed-size so an Update never allocates.
package kalman

import (
	"fmt"
	"strings"
)

const (
	// MaxStates bounds the state dimension of every supported model.
	MaxStates = 3
	// Observations is the observation dimension: accel angle and gyro rate.
	Observations = 2

	DefaultSampleTime = 0.01
)

var (
	DefaultProcessNoise     = [MaxStates]float64{1e-4, 1e-3, 1e-6}
	DefaultObservationNoise = [Observations]float64{1, 1}
)

type Model int

const (
	// BiasState models θ, θ̇ and a gyro bias b, with θ integrating θ̇ − b.
	BiasState Model = iota
	// TwoState models θ and θ̇ only; equivalent to BiasState with b fixed at 0.
	TwoState
)

func (m Model) States() int {
	if m == TwoState {
		return 2
	}
	return 3
}

func (m Model) String() string {
	switch m {
	case BiasState:
		return "bias"
	case TwoState:
		return "simple"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bias":
		return BiasState, nil
	case "simple":
		return TwoState, nil
	default:
		return 0, fmt.Errorf("kalman: unknown model %q", s)
	}
}

// Filter is a predict/update Kalman filter over a fixed 2- or 3-state model.
//
// Not safe for concurrent use.
type Filter struct {
	model Model
	n     int
	dt    float64

	priori        [MaxStates]float64
	posteriori    [MaxStates]float64
	prioriCov     [MaxStates * MaxStates]float64
	posterioriCov [MaxStates * MaxStates]float64

	f  [MaxStates * MaxStates]float64
	ft [MaxStates * MaxStates]float64
	h  [Observations * MaxStates]float64
	ht [MaxStates * Observations]float64

	q [MaxStates]float64
	r [Observations]float64

	// Per-update scratch.
	s    [Observations * Observations]float64
	sInv [Observations * Observations]float64
	k    [MaxStates * Observations]float64
	kt   [Observations * MaxStates]float64
	z    [Observations]float64
	hx   [Observations]float64
	e    [Observations]float64
	dx   [MaxStates]float64
	dP   [MaxStates * MaxStates]float64
}

// New returns a filter with the default noise tunables, zero state and unit
// covariance.
func New(model Model, dt float64) *Filter {
	kf := &Filter{model: model, n: model.States(), q: DefaultProcessNoise, r: DefaultObservationNoise}
	if dt <= 0 {
		dt = DefaultSampleTime
	}
	kf.dt = dt
	kf.buildModel()
	kf.Reset(0)
	return kf
}

func (kf *Filter) Model() Model { return kf.model }

func (kf *Filter) Dim() int { return kf.n }

func (kf *Filter) SampleTime() float64 { return kf.dt }

// SetSampleTime rebuilds the transition matrix. Update must then be called
// once per dt.
func (kf *Filter) SetSampleTime(dt float64) {
	if dt <= 0 {
		return
	}
	kf.dt = dt
	kf.buildModel()
}

// SetNoise replaces the diagonal process (q) and observation (r) variances.
// q[2] is ignored by the two-state model.
func (kf *Filter) SetNoise(q [MaxStates]float64, r [Observations]float64) {
	kf.q = q
	kf.r = r
}

func (kf *Filter) Noise() (q [MaxStates]float64, r [Observations]float64) {
	return kf.q, kf.r
}

// Reset seeds the posteriori estimate with theta, zero rate and zero bias and
// restores the unit covariance.
func (kf *Filter) Reset(theta float64) {
	kf.posteriori = [MaxStates]float64{theta}
	kf.priori = kf.posteriori
	kf.posterioriCov = [MaxStates * MaxStates]float64{}
	for i := 0; i < kf.n; i++ {
		kf.posterioriCov[i*kf.n+i] = 1
	}
	kf.prioriCov = kf.posterioriCov
}

func (kf *Filter) buildModel() {
	n := kf.n
	kf.f = [MaxStates * MaxStates]float64{}
	for i := 0; i < n; i++ {
		kf.f[i*n+i] = 1
	}
	kf.f[1] = kf.dt
	if kf.model == BiasState {
		kf.f[2] = -kf.dt
	}
	Transpose(kf.f[:n*n], n, n, kf.ft[:n*n])

	kf.h = [Observations * MaxStates]float64{}
	kf.h[0] = 1
	kf.h[n+1] = 1
	Transpose(kf.h[:Observations*n], Observations, n, kf.ht[:n*Observations])
}

// Update runs one predict step and one measurement update.
//
// theta is the accelerometer-derived angle [rad], gyro the measured rate
// [rad/s] and gyroOffset a known rate offset subtracted from gyro before it
// is used as an observation.
func (kf *Filter) Update(theta, gyro, gyroOffset float64) {
	kf.predict()
	kf.correct(theta, gyro-gyroOffset)
}

func (kf *Filter) predict() {
	n := kf.n
	// x⁻ = F x
	Multiply(kf.f[:n*n], kf.posteriori[:n], n, n, 1, kf.priori[:n])

	// P⁻ = F P Fᵗ + Q
	Multiply3(kf.f[:n*n], kf.posterioriCov[:n*n], kf.ft[:n*n], n, n, n, n, kf.prioriCov[:n*n])
	for i := 0; i < n; i++ {
		kf.prioriCov[i*n+i] += kf.q[i]
	}
}

func (kf *Filter) correct(theta, rate float64) {
	const m = Observations
	n := kf.n
	kf.z[0] = theta
	kf.z[1] = rate

	// S = H P⁻ Hᵗ + R
	Multiply3(kf.h[:m*n], kf.prioriCov[:n*n], kf.ht[:n*m], m, n, n, m, kf.s[:])
	kf.s[0] += kf.r[0]
	kf.s[3] += kf.r[1]

	// K = P⁻ Hᵗ S⁻¹
	Invert2x2(kf.s[:], kf.sInv[:])
	Multiply3(kf.prioriCov[:n*n], kf.ht[:n*m], kf.sInv[:], n, n, m, m, kf.k[:n*m])

	// e = z − H x⁻
	Multiply(kf.h[:m*n], kf.priori[:n], m, n, 1, kf.hx[:])
	Subtract(kf.z[:], kf.hx[:], m, 1, kf.e[:])

	// x = x⁻ + K e
	Multiply(kf.k[:n*m], kf.e[:], n, m, 1, kf.dx[:n])
	Add(kf.priori[:n], kf.dx[:n], n, 1, kf.posteriori[:n])

	// P = P⁻ − K S Kᵗ
	Transpose(kf.k[:n*m], n, m, kf.kt[:m*n])
	Multiply3(kf.k[:n*m], kf.s[:], kf.kt[:m*n], n, m, m, n, kf.dP[:n*n])
	Subtract(kf.prioriCov[:n*n], kf.dP[:n*n], n, n, kf.posterioriCov[:n*n])
}

func (kf *Filter) Theta() float64 { return kf.posteriori[0] }

func (kf *Filter) ThetaRate() float64 { return kf.posteriori[1] }

// ThetaVariance is the posteriori variance of θ.
func (kf *Filter) ThetaVariance() float64 { return kf.posterioriCov[0] }

// Bias is the estimated gyro bias; always 0 for the two-state model.
func (kf *Filter) Bias() float64 {
	if kf.n < 3 {
		return 0
	}
	return kf.posteriori[2]
}

// State returns the posteriori state; entries past Dim are zero.
func (kf *Filter) State() [MaxStates]float64 { return kf.posteriori }

// Covariance returns the posteriori covariance; entries past Dim are zero.
func (kf *Filter) Covariance() [MaxStates][MaxStates]float64 {
	var out [MaxStates][MaxStates]float64
	for i := 0; i < kf.n; i++ {
		for j := 0; j < kf.n; j++ {
			out[i][j] = kf.posterioriCov[i*kf.n+j]
		}
	}
	return out
}
