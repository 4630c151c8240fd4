package robot

import (
	"crawl-ng/internal/estimator"
	"crawl-ng/internal/odometry"
	"crawl-ng/internal/rt"
	"crawl-ng/internal/telemetry"
)

// State is a value snapshot of everything the robot estimates.
type State struct {
	Tick uint64
	estimator.Attitude
	odometry.State

	// TempC is the sensor die temperature of the last sample.
	TempC float64
	// Mag is the last magnetometer reading in sensor counts; zero without
	// a magnetometer.
	Mag [3]int16

	MotorLeft, MotorRight float64

	Strategy estimator.Strategy
	Timing   rt.TimingState
}

func (r *Robot) State() State {
	return State{
		Tick:       r.tick,
		Attitude:   r.est.Attitude(),
		State:      r.odo.State(),
		TempC:      r.est.Sample().TempCelsius(),
		Mag:        r.mag,
		MotorLeft:  r.motorLeft,
		MotorRight: r.motorRight,
		Strategy:   r.est.Strategy(),
		Timing:     r.sched.State(),
	}
}

func (r *Robot) frame() telemetry.Frame {
	a := r.est.Attitude()
	return telemetry.Frame{
		Tick:         r.tick,
		TimeUS:       r.sched.State().LastTick,
		Strategy:     r.est.Strategy().String(),
		ThetaX:       a.ThetaX,
		ThetaY:       a.ThetaY,
		ThetaZ:       a.ThetaZ,
		ThetaDotX:    a.ThetaDotX,
		ThetaDotY:    a.ThetaDotY,
		ThetaDotZ:    a.ThetaDotZ,
		AccX:         a.AccX,
		AccY:         a.AccY,
		AccZ:         a.AccZ,
		TempC:        r.est.Sample().TempCelsius(),
		Mag:          r.mag,
		EncoderLeft:  r.odo.EncoderLeft(),
		EncoderRight: r.odo.EncoderRight(),
		Velocity:     r.odo.Velocity(),
		HeadVelocity: r.odo.HeadVelocity(),
		MotorLeft:    r.motorLeft,
		MotorRight:   r.motorRight,
		Overruns:     r.sched.State().Overruns,
	}
}

func (r *Robot) ThetaX() float64    { return r.est.ThetaX() }
func (r *Robot) ThetaY() float64    { return r.est.ThetaY() }
func (r *Robot) ThetaZ() float64    { return r.est.ThetaZ() }
func (r *Robot) ThetaDotX() float64 { return r.est.ThetaDotX() }
func (r *Robot) ThetaDotY() float64 { return r.est.ThetaDotY() }
func (r *Robot) ThetaDotZ() float64 { return r.est.ThetaDotZ() }
func (r *Robot) AccX() float64      { return r.est.AccX() }
func (r *Robot) AccY() float64      { return r.est.AccY() }
func (r *Robot) AccZ() float64      { return r.est.AccZ() }

func (r *Robot) EncoderLeft() int64     { return r.odo.EncoderLeft() }
func (r *Robot) EncoderRight() int64    { return r.odo.EncoderRight() }
func (r *Robot) OdometryLeft() float64  { return r.odo.OdometryLeft() }
func (r *Robot) OdometryRight() float64 { return r.odo.OdometryRight() }
func (r *Robot) KEtoDistance() float64  { return r.odo.KEtoDistance() }
func (r *Robot) Velocity() float64      { return r.odo.Velocity() }
func (r *Robot) HeadVelocity() float64  { return r.odo.HeadVelocity() }

// Offsets are the gyro biases found by the last calibration.
func (r *Robot) Offsets() estimator.CalibrationOffsets { return r.est.Offsets() }

// Kalman exposes the Kalman engine read-only.
func (r *Robot) Kalman() estimator.KalmanView { return r.est.Kalman() }

// Timing returns the scheduler state of the last Wait.
func (r *Robot) Timing() rt.TimingState { return r.sched.State() }
