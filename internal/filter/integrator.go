package filter

import "math"

// ClampedIntegrator holds a value bounded to [low, high].
//
// Calculate sets the output to x·dt; callers that want a running integral
// seed it through SetOutput(Output() + e·dt), which applies the same clamp.
type ClampedIntegrator struct {
	dt   float64
	y    float64
	low  float64
	high float64
}

func NewClampedIntegrator() *ClampedIntegrator {
	return &ClampedIntegrator{dt: defaultSampleTime, low: -math.MaxFloat64, high: math.MaxFloat64}
}

func (c *ClampedIntegrator) SetSampleTime(dt float64) { c.dt = dt }

// SetLimits takes effect immediately and re-clamps the current output.
// Inverted limits are swapped.
func (c *ClampedIntegrator) SetLimits(low, high float64) {
	if low > high {
		low, high = high, low
	}
	c.low = low
	c.high = high
	c.y = c.clamp(c.y)
}

func (c *ClampedIntegrator) Limits() (low, high float64) { return c.low, c.high }

func (c *ClampedIntegrator) SetOutput(y float64) {
	if math.IsNaN(y) {
		return
	}
	c.y = c.clamp(y)
}

func (c *ClampedIntegrator) Output() float64 { return c.y }

func (c *ClampedIntegrator) Calculate(x float64) float64 {
	c.SetOutput(x * c.dt)
	return c.y
}

func (c *ClampedIntegrator) clamp(v float64) float64 {
	if v < c.low {
		return c.low
	}
	if v > c.high {
		return c.high
	}
	return v
}
