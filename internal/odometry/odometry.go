// Package odometry accumulates wheel encoder pulses into travel, wheel
// velocity and the head velocity of the inverted pendulum.
package odometry

import (
	"math"

	"crawl-ng/internal/filter"
)

const (
	// DefaultKEtoDistance is metres of wheel travel per encoder pulse.
	DefaultKEtoDistance = 1.95 / 7000
	DefaultTimeConstant = 1.0 / 50.0
	// DefaultBodyLength is the axle to head distance in metres.
	DefaultBodyLength = 0.195
)

type Options struct {
	KEtoDistance float64
	TimeConstant float64
	BodyLength   float64
}

// State is a value snapshot of the accumulators and derived velocities.
type State struct {
	EncoderLeft, EncoderRight   int64   // pulses
	OdometryLeft, OdometryRight float64 // m
	KEtoDistance                float64
	Velocity                    float64 // m/s
	HeadVelocity                float64 // m/s
}

type Odometry struct {
	k          float64
	bodyLength float64

	left, right int64
	vel         *filter.LaggedDerivative

	velocity     float64
	headVelocity float64
}

// New applies defaults for zero-valued options.
func New(opts Options) *Odometry {
	if opts.KEtoDistance == 0 {
		opts.KEtoDistance = DefaultKEtoDistance
	}
	if opts.TimeConstant <= 0 {
		opts.TimeConstant = DefaultTimeConstant
	}
	if opts.BodyLength == 0 {
		opts.BodyLength = DefaultBodyLength
	}
	o := &Odometry{
		k:          opts.KEtoDistance,
		bodyLength: opts.BodyLength,
		vel:        filter.NewLaggedDerivative(),
	}
	o.vel.SetTimeConstant(opts.TimeConstant)
	return o
}

func (o *Odometry) SetSampleTime(dt float64) { o.vel.SetSampleTime(dt) }

// Accumulate adds one tick's signed encoder deltas. Positive is forward.
func (o *Odometry) Accumulate(left, right int16) {
	o.left += int64(left)
	o.right += int64(right)
}

// Update differentiates the mean wheel travel and combines it with the body
// rotation into the head velocity.
func (o *Odometry) Update(thetaZ, thetaDotZ float64) {
	travel := float64(o.left+o.right) * o.k / 2
	o.velocity = o.vel.Calculate(travel)
	o.headVelocity = o.bodyLength*thetaDotZ*math.Cos(thetaZ-math.Pi/2) - o.velocity
}

// ResetLeft zeroes the left accumulator. The velocity derivative sees the
// jump in travel on the next Update.
func (o *Odometry) ResetLeft() { o.left = 0 }

func (o *Odometry) ResetRight() { o.right = 0 }

// SetEncoderLeft overwrites the left accumulator, e.g. to restore a saved
// position. Like a reset, the jump shows up in the next velocity.
func (o *Odometry) SetEncoderLeft(pulses int64) { o.left = pulses }

func (o *Odometry) SetEncoderRight(pulses int64) { o.right = pulses }

func (o *Odometry) EncoderLeft() int64  { return o.left }
func (o *Odometry) EncoderRight() int64 { return o.right }

// OdometryLeft is the left wheel travel in metres.
func (o *Odometry) OdometryLeft() float64  { return float64(o.left) * o.k }
func (o *Odometry) OdometryRight() float64 { return float64(o.right) * o.k }

func (o *Odometry) KEtoDistance() float64 { return o.k }
func (o *Odometry) Velocity() float64     { return o.velocity }
func (o *Odometry) HeadVelocity() float64 { return o.headVelocity }

func (o *Odometry) State() State {
	return State{
		EncoderLeft:   o.left,
		EncoderRight:  o.right,
		OdometryLeft:  o.OdometryLeft(),
		OdometryRight: o.OdometryRight(),
		KEtoDistance:  o.k,
		Velocity:      o.velocity,
		HeadVelocity:  o.headVelocity,
	}
}
