// Package robot composes the scheduler, estimator and odometry with the
// hardware collaborators into one explicitly owned robot instance.
//
// A typical loop:
//
//	r.SetPeriod(0.01)
//	if err := r.Init(); err != nil { ... }
//	for {
//		r.Wait()
//		if err := r.UpdateState(); err != nil { ... }
//		r.SetMotorLeft(u)
//	}
//
// All methods must be called from one goroutine.
package robot

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"crawl-ng/internal/estimator"
	"crawl-ng/internal/odometry"
	"crawl-ng/internal/rt"
	"crawl-ng/internal/telemetry"
)

// ErrNotInitialized is returned by UpdateState before a successful Init.
var ErrNotInitialized = errors.New("robot: not initialized")

const DefaultPeriod = 0.01

type Encoders interface {
	// ReadAndResetEncoders returns the pulses since the previous call.
	// Positive is forward.
	ReadAndResetEncoders() (left, right int16, err error)
	ResetEncoders() error
}

type Motors interface {
	// Init leaves the motors enabled and stopped.
	Init() error
	// SetMotorPower takes power in [-1, 1] per wheel.
	SetMotorPower(left, right float64) error
	Stop() error
}

type Indicators interface {
	SetReady(on bool)
	SetOverrun(on bool)
}

// Magnetometer is an optional heading sensor read once per tick.
type Magnetometer interface {
	ReadMagnetic() ([3]int16, error)
}

type Publisher interface {
	Publish(f telemetry.Frame)
}

type Collaborators struct {
	Sensor   estimator.Sensor
	Encoders Encoders
	Motors   Motors

	// Optional.
	Magnetometer Magnetometer
	Indicators   Indicators
	Publisher    Publisher
	// Clock defaults to the monotonic clock.
	Clock rt.Clock
}

type Options struct {
	// Period is the tick period in seconds.
	Period    float64
	Estimator estimator.Options
	Odometry  odometry.Options
	Logger    log.FieldLogger
}

type Robot struct {
	c   Collaborators
	log log.FieldLogger

	sched *rt.Scheduler
	est   *estimator.Estimator
	odo   *odometry.Odometry

	motorLeft, motorRight float64
	mag                   [3]int16

	initialized bool
	tick        uint64
}

func New(c Collaborators, opts Options) (*Robot, error) {
	if c.Sensor == nil {
		return nil, errors.New("robot: sensor is required")
	}
	if c.Encoders == nil {
		return nil, errors.New("robot: encoders are required")
	}
	if c.Motors == nil {
		return nil, errors.New("robot: motors are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.Estimator.Logger == nil {
		opts.Estimator.Logger = logger
	}

	est, err := estimator.New(c.Sensor, opts.Estimator)
	if err != nil {
		return nil, err
	}
	r := &Robot{
		c:     c,
		log:   logger.WithField("component", "robot"),
		sched: rt.New(c.Clock),
		est:   est,
		odo:   odometry.New(opts.Odometry),
	}
	r.sched.OnOverrun = r.onOverrun
	r.sched.OnSchedule = r.onSchedule

	period := opts.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	r.SetPeriod(period)
	return r, nil
}

// Init brings the robot to the ready state: encoders zeroed, motors enabled
// and stopped, sensors calibrated. The robot must be stationary and level.
// Any collaborator error aborts Init and leaves the robot uninitialized.
func (r *Robot) Init() error {
	r.initialized = false
	r.setReady(false)

	if err := r.c.Encoders.ResetEncoders(); err != nil {
		return fmt.Errorf("robot: reset encoders: %w", err)
	}
	r.odo.ResetLeft()
	r.odo.ResetRight()

	if err := r.c.Motors.Init(); err != nil {
		return fmt.Errorf("robot: init motors: %w", err)
	}
	r.motorLeft, r.motorRight = 0, 0
	r.mag = [3]int16{}

	r.log.Infof("calibrating, keep the robot still")
	if err := r.est.Calibrate(); err != nil {
		return fmt.Errorf("robot: calibrate: %w", err)
	}

	// Calibration takes far longer than a period, so the first tick is
	// measured from here.
	r.sched.Reset()
	r.tick = 0
	r.initialized = true
	r.setReady(true)
	r.log.WithField("period_us", r.sched.State().PeriodMicros).Infof("ready")
	return nil
}

func (r *Robot) Initialized() bool { return r.initialized }

// SetPeriod sets the tick period in seconds for the scheduler, the
// estimator and the odometry.
func (r *Robot) SetPeriod(seconds float64) {
	r.sched.SetPeriod(seconds)
	if seconds > 0 {
		r.est.SetSampleTime(seconds)
		r.odo.SetSampleTime(seconds)
	}
}

func (r *Robot) Period() float64 { return r.sched.Period() }

func (r *Robot) SetEstimatorStrategy(s estimator.Strategy) { r.est.SetStrategy(s) }

func (r *Robot) EstimatorStrategy() estimator.Strategy { return r.est.Strategy() }

// SetMotorLeft stores the left setpoint in [-1, 1]. It is sent to the board
// on the next UpdateState.
func (r *Robot) SetMotorLeft(power float64) { r.motorLeft = clampUnit(power) }

func (r *Robot) SetMotorRight(power float64) { r.motorRight = clampUnit(power) }

func (r *Robot) MotorLeft() float64  { return r.motorLeft }
func (r *Robot) MotorRight() float64 { return r.motorRight }

// ResetEncoderLeft zeroes the accumulated left pulses immediately.
func (r *Robot) ResetEncoderLeft() { r.odo.ResetLeft() }

func (r *Robot) ResetEncoderRight() { r.odo.ResetRight() }

// SetEncoderLeft overwrites the accumulated left pulses immediately.
func (r *Robot) SetEncoderLeft(pulses int64) { r.odo.SetEncoderLeft(pulses) }

func (r *Robot) SetEncoderRight(pulses int64) { r.odo.SetEncoderRight(pulses) }

// Wait blocks until the next tick and reports whether the previous one
// overran.
func (r *Robot) Wait() bool { return r.sched.Wait() }

// UpdateState runs one tick: acquire the attitude sample, read and reset
// the encoder deltas, send the motor setpoints, read the magnetometer when
// there is one, condition and fuse the attitude, then fold in odometry and
// publish telemetry.
//
// A collaborator error aborts the tick before any estimate is updated.
func (r *Robot) UpdateState() error {
	if !r.initialized {
		return ErrNotInitialized
	}
	if err := r.est.Acquire(); err != nil {
		return err
	}
	left, right, err := r.c.Encoders.ReadAndResetEncoders()
	if err != nil {
		return fmt.Errorf("robot: read encoders: %w", err)
	}
	if err := r.c.Motors.SetMotorPower(r.motorLeft, r.motorRight); err != nil {
		return fmt.Errorf("robot: set motor power: %w", err)
	}
	if r.c.Magnetometer != nil {
		mag, err := r.c.Magnetometer.ReadMagnetic()
		if err != nil {
			return fmt.Errorf("robot: read magnetometer: %w", err)
		}
		r.mag = mag
	}

	r.est.Condition()
	r.est.Fuse()

	r.odo.Accumulate(left, right)
	r.odo.Update(r.est.ThetaZ(), r.est.ThetaDotZ())

	r.tick++
	if r.c.Publisher != nil {
		r.c.Publisher.Publish(r.frame())
	}
	return nil
}

// Close stops the motors and turns the LEDs off.
func (r *Robot) Close() error {
	if r == nil {
		return nil
	}
	r.initialized = false
	if r.c.Indicators != nil {
		r.c.Indicators.SetReady(false)
		r.c.Indicators.SetOverrun(false)
	}
	if err := r.c.Motors.Stop(); err != nil {
		return fmt.Errorf("robot: stop motors: %w", err)
	}
	return nil
}

func (r *Robot) onOverrun(st rt.TimingState) {
	if r.c.Indicators != nil {
		r.c.Indicators.SetOverrun(true)
	}
	r.log.WithFields(log.Fields{
		"tick":       r.tick,
		"elapsed_us": st.Elapsed.Microseconds(),
		"period_us":  st.PeriodMicros,
	}).Warnf("overrun (%d total)", st.Overruns)
}

func (r *Robot) onSchedule(rt.TimingState) {
	if r.c.Indicators != nil {
		r.c.Indicators.SetOverrun(false)
	}
}

func (r *Robot) setReady(on bool) {
	if r.c.Indicators != nil {
		r.c.Indicators.SetReady(on)
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
