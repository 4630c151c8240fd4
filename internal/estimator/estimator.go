// Package estimator turns raw inertial samples into filtered acceleration,
// angular rate and attitude.
//
// One Update per control tick pulls a sample from the sensor, conditions it
// (unit conversion, bias removal, accel low-pass) and fuses an attitude with
// either a complementary filter or the Kalman engine.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"

	"crawl-ng/internal/filter"
	"crawl-ng/internal/imu"
	"crawl-ng/internal/kalman"
)

const (
	// AccelScale converts accel counts at ±2 g full scale to m/s².
	AccelScale = 2.0 / 32768.0 * 9.80665
	// GyroScale converts gyro counts at ±250 °/s full scale to rad/s.
	GyroScale = 250.0 / 32768.0 / 360.0 * 2 * math.Pi

	DefaultSampleTime        = 0.01
	DefaultRateTheta         = 0.99
	DefaultAccelTimeConstant = 1.0 / 25.0
)

// Sensor is the inertial collaborator the estimator reads once per tick.
type Sensor = imu.Source

type RawAttitudeSample = imu.RawAttitudeSample

type Strategy int

const (
	Complementary Strategy = iota
	Kalman
)

func (s Strategy) String() string {
	switch s {
	case Complementary:
		return "complementary"
	case Kalman:
		return "kalman"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "complementary":
		return Complementary, nil
	case "kalman":
		return Kalman, nil
	default:
		return 0, fmt.Errorf("estimator: unknown strategy %q", s)
	}
}

// Attitude is the per-tick estimator output in robot axes.
type Attitude struct {
	ThetaX, ThetaY, ThetaZ          float64 // rad
	ThetaDotX, ThetaDotY, ThetaDotZ float64 // rad/s
	AccX, AccY, AccZ                float64 // m/s²
}

type Options struct {
	Strategy Strategy
	// SampleTime is the tick period in seconds.
	SampleTime float64
	// RateTheta is the complementary filter's weight on the gyro-integrated
	// angle. Nil uses DefaultRateTheta; 0 trusts the accelerometer only.
	RateTheta         *float64
	AccelTimeConstant float64

	KalmanModel            kalman.Model
	KalmanProcessNoise     [kalman.MaxStates]float64
	KalmanObservationNoise [kalman.Observations]float64

	Calibration CalibrationOptions

	Logger log.FieldLogger
}

type Estimator struct {
	sensor Sensor
	opts   Options
	log    log.FieldLogger

	dt        float64
	strategy  Strategy
	rateTheta float64

	sample  RawAttitudeSample
	offsets CalibrationOffsets

	accX, accY, accZ *filter.FirstOrderLag
	kf               *kalman.Filter

	att Attitude
	// Uncalibrated robot-z rate and its bias, both rad/s, for the Kalman
	// observation.
	rawRateZ float64
	biasZ    float64
}

func New(sensor Sensor, opts Options) (*Estimator, error) {
	if sensor == nil {
		return nil, errors.New("estimator: sensor is nil")
	}
	if opts.SampleTime <= 0 {
		opts.SampleTime = DefaultSampleTime
	}
	rateTheta := DefaultRateTheta
	if opts.RateTheta != nil {
		rateTheta = *opts.RateTheta
	}
	if rateTheta < 0 || rateTheta > 1 {
		return nil, fmt.Errorf("estimator: rate_theta %v outside [0,1]", rateTheta)
	}
	if opts.AccelTimeConstant <= 0 {
		opts.AccelTimeConstant = DefaultAccelTimeConstant
	}
	if opts.KalmanProcessNoise == ([kalman.MaxStates]float64{}) {
		opts.KalmanProcessNoise = kalman.DefaultProcessNoise
	}
	if opts.KalmanObservationNoise == ([kalman.Observations]float64{}) {
		opts.KalmanObservationNoise = kalman.DefaultObservationNoise
	}
	opts.Calibration = opts.Calibration.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	e := &Estimator{
		sensor:    sensor,
		opts:      opts,
		log:       logger.WithField("component", "estimator"),
		strategy:  opts.Strategy,
		rateTheta: rateTheta,
		accX:      filter.NewFirstOrderLag(),
		accY:      filter.NewFirstOrderLag(),
		accZ:      filter.NewFirstOrderLag(),
		kf:        kalman.New(opts.KalmanModel, opts.SampleTime),
	}
	for _, f := range []*filter.FirstOrderLag{e.accX, e.accY, e.accZ} {
		f.SetTimeConstant(opts.AccelTimeConstant)
	}
	e.kf.SetNoise(opts.KalmanProcessNoise, opts.KalmanObservationNoise)
	e.SetSampleTime(opts.SampleTime)
	return e, nil
}

// SetSampleTime propagates the tick period to every filter. Non-positive
// values are ignored.
func (e *Estimator) SetSampleTime(dt float64) {
	if dt <= 0 {
		return
	}
	e.dt = dt
	e.accX.SetSampleTime(dt)
	e.accY.SetSampleTime(dt)
	e.accZ.SetSampleTime(dt)
	e.kf.SetSampleTime(dt)
}

func (e *Estimator) SampleTime() float64 { return e.dt }

func (e *Estimator) Strategy() Strategy { return e.strategy }

// SetStrategy switches the attitude strategy. Switching to Kalman re-seeds
// the engine with the current θz so the output stays continuous.
func (e *Estimator) SetStrategy(s Strategy) {
	if s == e.strategy {
		return
	}
	if s == Kalman {
		e.kf.Reset(e.att.ThetaZ)
	}
	e.log.Infof("strategy %s -> %s", e.strategy, s)
	e.strategy = s
}

// Update runs one full tick: acquire, condition, fuse.
func (e *Estimator) Update() error {
	if err := e.Acquire(); err != nil {
		return err
	}
	e.Condition()
	e.Fuse()
	return nil
}

// Acquire pulls one raw sample from the sensor.
func (e *Estimator) Acquire() error {
	s, err := e.sensor.ReadAttitude()
	if err != nil {
		return fmt.Errorf("estimator: read attitude: %w", err)
	}
	e.sample = s
	return nil
}

// Condition converts the last sample to physical units in robot axes and
// low-passes the accelerations.
//
// Mounting: robot x, y, z are sensor y, z, x for both accel and gyro.
func (e *Estimator) Condition() {
	s := e.sample
	off := e.offsets

	e.att.AccX = e.accX.Calculate(float64(s.Ay) * AccelScale)
	e.att.AccY = e.accY.Calculate(float64(s.Az) * AccelScale)
	e.att.AccZ = e.accZ.Calculate(float64(s.Ax) * AccelScale)

	e.att.ThetaDotX = (float64(s.Gy) - off.GyroBiasY) * GyroScale
	e.att.ThetaDotY = (float64(s.Gz) - off.GyroBiasZ) * GyroScale
	e.att.ThetaDotZ = (float64(s.Gx) - off.GyroBiasX) * GyroScale

	e.rawRateZ = float64(s.Gx) * GyroScale
	e.biasZ = off.GyroBiasX * GyroScale
}

// Fuse updates the attitude from the conditioned signals with the active
// strategy. The Kalman engine only models θz; θx and θy stay on the
// complementary filter in both modes.
func (e *Estimator) Fuse() {
	ax, ay, az := e.AccelAngles()
	e.att.ThetaX = e.complementary(e.att.ThetaX, ax, e.att.ThetaDotX)
	e.att.ThetaY = e.complementary(e.att.ThetaY, ay, e.att.ThetaDotY)

	switch e.strategy {
	case Kalman:
		e.kf.Update(az, e.rawRateZ, e.biasZ)
		e.att.ThetaZ = e.kf.Theta()
	default:
		e.att.ThetaZ = e.complementary(e.att.ThetaZ, az, e.att.ThetaDotZ)
	}
}

func (e *Estimator) complementary(theta, thetaAccel, rate float64) float64 {
	r := e.rateTheta
	theta = theta*r + thetaAccel*(1-r)
	return theta + rate*e.dt
}

// AccelAngles returns the gravity-derived angles about x, y and z from the
// filtered accelerations. The result is not wrapped: each angle lies in
// [−π/2, 3π/2) and jumps by 2π at the ends.
func (e *Estimator) AccelAngles() (x, y, z float64) {
	a := e.att
	x = math.Pi/2 - math.Atan2(a.AccY, a.AccZ)
	y = math.Pi/2 - math.Atan2(a.AccZ, a.AccX)
	z = math.Pi/2 - math.Atan2(a.AccY, a.AccX)
	return x, y, z
}

func (e *Estimator) Attitude() Attitude { return e.att }

func (e *Estimator) ThetaX() float64    { return e.att.ThetaX }
func (e *Estimator) ThetaY() float64    { return e.att.ThetaY }
func (e *Estimator) ThetaZ() float64    { return e.att.ThetaZ }
func (e *Estimator) ThetaDotX() float64 { return e.att.ThetaDotX }
func (e *Estimator) ThetaDotY() float64 { return e.att.ThetaDotY }
func (e *Estimator) ThetaDotZ() float64 { return e.att.ThetaDotZ }
func (e *Estimator) AccX() float64      { return e.att.AccX }
func (e *Estimator) AccY() float64      { return e.att.AccY }
func (e *Estimator) AccZ() float64      { return e.att.AccZ }

// KalmanView is the read-only face of the Kalman engine. Its values only
// move while the Kalman strategy is active.
type KalmanView interface {
	Model() kalman.Model
	Theta() float64
	ThetaRate() float64
	ThetaVariance() float64
	Bias() float64
}

func (e *Estimator) Kalman() KalmanView { return e.kf }

func (e *Estimator) Offsets() CalibrationOffsets { return e.offsets }

// Sample returns the most recently acquired raw sample.
func (e *Estimator) Sample() RawAttitudeSample { return e.sample }
