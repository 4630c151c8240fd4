// Package control holds the application-level balance loop built from the
// filter primitives.
package control

import (
	"math"

	"crawl-ng/internal/filter"
)

// DefaultDerivativeTimeConstant is the derivative term's lag [s].
const DefaultDerivativeTimeConstant = 1.0 / 50.0

// PID is a discrete controller stepped once per tick.
//
// The integral accumulates through a ClampedIntegrator so its limits act as
// anti-windup, and the derivative goes through a LaggedDerivative. The first
// Update after New or Reset primes the derivative instead of kicking.
//
// Not safe for concurrent use.
type PID struct {
	kp, ki, kd float64
	outMin     float64
	outMax     float64

	dt       float64
	integral *filter.ClampedIntegrator
	deriv    *filter.LaggedDerivative
	primed   bool
}

// NewPID returns a controller with output limits [-1, 1], an unbounded
// integral and dt 0.01 s.
func NewPID(kp, ki, kd float64) *PID {
	p := &PID{
		kp: kp, ki: ki, kd: kd,
		outMin:   -1,
		outMax:   1,
		integral: filter.NewClampedIntegrator(),
		deriv:    filter.NewLaggedDerivative(),
	}
	p.deriv.SetTimeConstant(DefaultDerivativeTimeConstant)
	p.SetSampleTime(0.01)
	return p
}

func (p *PID) SetSampleTime(dt float64) {
	if dt <= 0 {
		return
	}
	p.dt = dt
	p.integral.SetSampleTime(dt)
	p.deriv.SetSampleTime(dt)
}

func (p *PID) SetOutputLimits(min, max float64) {
	if min > max {
		min, max = max, min
	}
	p.outMin = min
	p.outMax = max
}

// SetIntegralLimit bounds the accumulated error integral to ±limit.
// Non-positive limits remove the bound.
func (p *PID) SetIntegralLimit(limit float64) {
	if limit <= 0 {
		p.integral.SetLimits(-math.MaxFloat64, math.MaxFloat64)
		return
	}
	p.integral.SetLimits(-limit, limit)
}

func (p *PID) SetDerivativeTimeConstant(t float64) { p.deriv.SetTimeConstant(t) }

func (p *PID) Reset() {
	p.integral.SetOutput(0)
	p.primed = false
}

// Integral is the accumulated error·seconds.
func (p *PID) Integral() float64 { return p.integral.Output() }

// Update returns the clamped control output for error = setpoint − measurement.
func (p *PID) Update(setpoint, measurement float64) float64 {
	e := setpoint - measurement
	if math.IsNaN(e) {
		return 0
	}
	p.integral.SetOutput(p.integral.Output() + e*p.dt)

	d := 0.0
	if p.primed {
		d = p.deriv.Calculate(e)
	} else {
		p.deriv.Reset(e)
		p.primed = true
	}

	out := p.kp*e + p.ki*p.integral.Output() + p.kd*d
	return math.Max(p.outMin, math.Min(p.outMax, out))
}
