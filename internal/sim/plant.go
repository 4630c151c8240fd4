// Package sim models the robot for dry runs and tests: a body whose pitch
// follows a static angle or a scripted tilt profile, and two wheels whose
// speed follows the commanded motor power.
//
// Plant implements the sensor, encoder and motor collaborators and shares a
// clock with the scheduler, so the whole control loop runs without
// hardware.
package sim

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"crawl-ng/internal/estimator"
	"crawl-ng/internal/imu"
	"crawl-ng/internal/odometry"
	"crawl-ng/internal/rt"
)

const (
	DefaultMaxWheelSpeed = 0.5 // m/s at full power
	DefaultClockStep     = 100 * time.Microsecond

	gravity = 9.80665
	// Die temperature reading for 25 °C.
	tempRaw25C = 1335
	// Earth field in magnetometer counts, forward and up in the level body.
	magForward = 133
	magUp      = -300
)

type PlantConfig struct {
	// Clock drives both the plant physics and the caller's scheduler.
	// Nil uses a ManualClock stepping DefaultClockStep per read.
	Clock rt.Clock

	// Scenario scripts θz over time. Nil holds Theta.
	Scenario *Scenario
	Loop     bool
	Theta    float64 // rad

	// GyroBias is added to the gyro counts on sensor x, y, z.
	GyroBias [3]int16
	// NoiseCounts is the standard deviation of Gaussian noise on every raw
	// accel and gyro channel.
	NoiseCounts float64
	Seed        int64

	KEtoDistance  float64
	MaxWheelSpeed float64
}

type Plant struct {
	cfg   PlantConfig
	clock rt.Clock
	rng   *rand.Rand

	started bool
	t0      uint64
	last    uint64
	tilt    TiltState

	enabled     bool
	left, right float64
	// Pulses not yet read from the board, and total wheel travel in metres.
	pendL, pendR     float64
	travelL, travelR float64

	readErr error
	reads   int
}

func NewPlant(cfg PlantConfig) *Plant {
	if cfg.Clock == nil {
		cfg.Clock = NewManualClock(DefaultClockStep)
	}
	if cfg.KEtoDistance == 0 {
		cfg.KEtoDistance = odometry.DefaultKEtoDistance
	}
	if cfg.MaxWheelSpeed == 0 {
		cfg.MaxWheelSpeed = DefaultMaxWheelSpeed
	}
	p := &Plant{
		cfg:   cfg,
		clock: cfg.Clock,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		tilt:  TiltState{Theta: cfg.Theta},
	}
	if cfg.Scenario != nil {
		p.tilt = cfg.Scenario.StateAt(0, cfg.Loop)
	}
	return p
}

// Clock returns the clock the plant integrates against.
func (p *Plant) Clock() rt.Clock { return p.clock }

// SetReadError makes every ReadAttitude and ReadMagnetic fail with err until
// cleared with nil.
func (p *Plant) SetReadError(err error) { p.readErr = err }

// Reads is the number of ReadAttitude calls so far.
func (p *Plant) Reads() int { return p.reads }

// Tilt is the true body state at the last update.
func (p *Plant) Tilt() TiltState { return p.tilt }

// Travel is the true wheel travel in metres since construction.
func (p *Plant) Travel() (left, right float64) { return p.travelL, p.travelR }

func (p *Plant) ReadAttitude() (imu.RawAttitudeSample, error) {
	p.reads++
	p.step()
	if p.readErr != nil {
		return imu.RawAttitudeSample{}, p.readErr
	}

	// Inverse of the estimator's mount remap and scaling: robot x, y, z are
	// sensor y, z, x.
	accX := gravity * math.Sin(p.tilt.Theta)
	accY := gravity * math.Cos(p.tilt.Theta)
	return imu.RawAttitudeSample{
		Ax:   p.counts(0, estimator.AccelScale, 0),
		Ay:   p.counts(accX, estimator.AccelScale, 0),
		Az:   p.counts(accY, estimator.AccelScale, 0),
		Temp: tempRaw25C,
		Gx:   p.counts(p.tilt.ThetaDot, estimator.GyroScale, p.cfg.GyroBias[0]),
		Gy:   p.counts(0, estimator.GyroScale, p.cfg.GyroBias[1]),
		Gz:   p.counts(0, estimator.GyroScale, p.cfg.GyroBias[2]),
	}, nil
}

// ReadMagnetic returns the earth field rotated by the body pitch, in the
// same sensor axes as ReadAttitude.
func (p *Plant) ReadMagnetic() ([3]int16, error) {
	p.step()
	if p.readErr != nil {
		return [3]int16{}, p.readErr
	}
	sin, cos := math.Sincos(p.tilt.Theta)
	x := magForward*cos + magUp*sin
	y := magUp*cos - magForward*sin
	return [3]int16{0, saturate(math.Round(x)), saturate(math.Round(y))}, nil
}

// counts converts v to sensor counts plus bias, saturated to int16.
func (p *Plant) counts(v, scale float64, bias int16) int16 {
	c := v/scale + float64(bias)
	if p.cfg.NoiseCounts > 0 {
		c += p.rng.NormFloat64() * p.cfg.NoiseCounts
	}
	return saturate(math.Round(c))
}

func (p *Plant) Init() error {
	p.step()
	p.enabled = true
	p.left, p.right = 0, 0
	return nil
}

func (p *Plant) Stop() error {
	p.step()
	p.enabled = false
	return nil
}

func (p *Plant) SetMotorPower(left, right float64) error {
	if math.IsNaN(left) || math.IsNaN(right) {
		return errors.New("sim: motor power is NaN")
	}
	p.step()
	p.left = math.Max(-1, math.Min(1, left))
	p.right = math.Max(-1, math.Min(1, right))
	return nil
}

// Power is the last commanded power, whether or not the motors are enabled.
func (p *Plant) Power() (left, right float64) { return p.left, p.right }

func (p *Plant) Enabled() bool { return p.enabled }

func (p *Plant) ReadAndResetEncoders() (left, right int16, err error) {
	p.step()
	left = takeWhole(&p.pendL)
	right = takeWhole(&p.pendR)
	return left, right, nil
}

func (p *Plant) ResetEncoders() error {
	p.step()
	p.pendL, p.pendR = 0, 0
	return nil
}

// step integrates the plant up to the current clock reading.
func (p *Plant) step() {
	now := p.clock.Micros()
	if !p.started {
		p.started = true
		p.t0, p.last = now, now
	}
	dt := float64(now-p.last) / 1e6
	p.last = now

	if p.cfg.Scenario != nil {
		elapsed := time.Duration(now-p.t0) * time.Microsecond
		p.tilt = p.cfg.Scenario.StateAt(elapsed, p.cfg.Loop)
	}
	if !p.enabled || dt <= 0 {
		return
	}
	dl := p.left * p.cfg.MaxWheelSpeed * dt
	dr := p.right * p.cfg.MaxWheelSpeed * dt
	p.travelL += dl
	p.travelR += dr
	p.pendL += dl / p.cfg.KEtoDistance
	p.pendR += dr / p.cfg.KEtoDistance
}

// takeWhole removes and returns the whole pulses of *pend, saturated to the
// board's int16 counter.
func takeWhole(pend *float64) int16 {
	whole := math.Trunc(*pend)
	v := saturate(whole)
	*pend -= float64(v)
	return v
}

func saturate(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
