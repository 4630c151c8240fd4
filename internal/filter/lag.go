package filter

import "math"

const (
	defaultTimeConstant = 1.0
	defaultSampleTime   = 0.001

	// rk4StabilityLimit is where the RK4 amplification factor for
	// T·ẏ = x − y reaches magnitude 1 (dt/T ≈ 2.7853).
	rk4StabilityLimit = 2.785
	// maxSubstepRatio bounds dt/T of each substep once a step is split.
	maxSubstepRatio = 2.0
)

// FirstOrderLag is a first-order low-pass filter modeling T·ẏ = x − y.
//
// Each Calculate call advances the output by one classic Runge-Kutta step of
// size dt. When dt/T reaches the RK4 stability limit (about 2.785) the step
// is split into equal substeps with dt/T of at most 2. Not safe for
// concurrent use.
type FirstOrderLag struct {
	dt float64
	t  float64
	y  float64
}

func NewFirstOrderLag() *FirstOrderLag {
	return &FirstOrderLag{dt: defaultSampleTime, t: defaultTimeConstant}
}

// SetTimeConstant sets T. Non-positive values fall back to 1.0 rather than
// failing, so a bad tunable never stops the loop.
func (f *FirstOrderLag) SetTimeConstant(t float64) {
	if t > 0 {
		f.t = t
		return
	}
	f.t = defaultTimeConstant
}

func (f *FirstOrderLag) TimeConstant() float64 { return f.t }

// SetSampleTime sets the step size used by every subsequent Calculate.
func (f *FirstOrderLag) SetSampleTime(dt float64) { f.dt = dt }

func (f *FirstOrderLag) SampleTime() float64 { return f.dt }

// Reset seeds the output, e.g. to start a filter at steady state.
func (f *FirstOrderLag) Reset(y float64) { f.y = y }

func (f *FirstOrderLag) Output() float64 { return f.y }

func (f *FirstOrderLag) Calculate(x float64) float64 {
	if f.dt <= 0 {
		return f.y
	}
	steps := 1
	if ratio := f.dt / f.t; ratio >= rk4StabilityLimit {
		steps = int(math.Ceil(ratio / maxSubstepRatio))
	}
	h := f.dt / float64(steps)
	for i := 0; i < steps; i++ {
		f.step(x, h)
	}
	return f.y
}

func (f *FirstOrderLag) step(x, h float64) {
	k1 := f.slope(x, f.y)
	k2 := f.slope(x, f.y+k1*h*0.5)
	k3 := f.slope(x, f.y+k2*h*0.5)
	k4 := f.slope(x, f.y+k3*h)
	f.y += (k1 + 2*k2 + 2*k3 + k4) * h / 6
}

func (f *FirstOrderLag) slope(x, y float64) float64 {
	return (x - y) / f.t
}

// LaggedDerivative is an incomplete differentiator: the input minus its
// low-passed copy, divided by T. It tracks dx/dt with a first-order lag while
// bounding high-frequency gain.
type LaggedDerivative struct {
	lag FirstOrderLag
	y   float64
}

func NewLaggedDerivative() *LaggedDerivative {
	return &LaggedDerivative{lag: FirstOrderLag{dt: defaultSampleTime, t: defaultTimeConstant}}
}

func (d *LaggedDerivative) SetTimeConstant(t float64) { d.lag.SetTimeConstant(t) }

func (d *LaggedDerivative) TimeConstant() float64 { return d.lag.TimeConstant() }

func (d *LaggedDerivative) SetSampleTime(dt float64) { d.lag.SetSampleTime(dt) }

// Reset seeds the internal lag with x and zeroes the derivative, so a signal
// that starts away from zero does not produce a startup spike.
func (d *LaggedDerivative) Reset(x float64) {
	d.lag.Reset(x)
	d.y = 0
}

func (d *LaggedDerivative) Output() float64 { return d.y }

func (d *LaggedDerivative) Calculate(x float64) float64 {
	lagged := d.lag.Calculate(x)
	d.y = (x - lagged) / d.lag.TimeConstant()
	return d.y
}
