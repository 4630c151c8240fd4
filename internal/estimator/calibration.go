package estimator

import (
	"time"
)

// sleep is swapped in tests.
var sleep = time.Sleep

const (
	DefaultCalibrationSamples = 200
	DefaultCalibrationRate    = 0.98
	DefaultCalibrationSpacing = time.Millisecond
	DefaultCalibrationSettle  = 500 * time.Millisecond
)

// CalibrationOffsets are the per-axis gyro biases in raw sensor counts.
type CalibrationOffsets struct {
	GyroBiasX, GyroBiasY, GyroBiasZ float64
}

type CalibrationOptions struct {
	// Samples averaged after the seed sample, in each phase.
	Samples int
	// Rate is the exponential averaging weight on the running mean.
	Rate    float64
	Spacing time.Duration
	// Settle is waited once before the first sample.
	Settle time.Duration
	// Sleep replaces time.Sleep, e.g. to advance a simulated clock.
	Sleep func(time.Duration)
}

func (o CalibrationOptions) withDefaults() CalibrationOptions {
	if o.Samples <= 0 {
		o.Samples = DefaultCalibrationSamples
	}
	if o.Rate == 0 {
		o.Rate = DefaultCalibrationRate
	}
	if o.Spacing <= 0 {
		o.Spacing = DefaultCalibrationSpacing
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	return o
}

func (o CalibrationOptions) sleep(d time.Duration) {
	if o.Sleep != nil {
		o.Sleep(d)
		return
	}
	sleep(d)
}

// Calibrate estimates the gyro biases and the initial tilt. The robot must
// be stationary and level for the whole run; neither is checked.
//
// Blocks for roughly Settle + 2·Samples·Spacing plus the sensor reads.
func (e *Estimator) Calibrate() error {
	if err := e.calibrateGyro(); err != nil {
		return err
	}
	if err := e.calibrateTilt(); err != nil {
		return err
	}
	e.log.WithField("offsets", e.offsets).
		Infof("calibrated: theta_x=%.4f theta_y=%.4f theta_z=%.4f", e.att.ThetaX, e.att.ThetaY, e.att.ThetaZ)
	return nil
}

func (e *Estimator) calibrateGyro() error {
	o := e.opts.Calibration
	if o.Settle > 0 {
		o.sleep(o.Settle)
	}

	if err := e.Acquire(); err != nil {
		return err
	}
	off := CalibrationOffsets{
		GyroBiasX: float64(e.sample.Gx),
		GyroBiasY: float64(e.sample.Gy),
		GyroBiasZ: float64(e.sample.Gz),
	}
	for i := 0; i < o.Samples; i++ {
		if err := e.Acquire(); err != nil {
			return err
		}
		o.sleep(o.Spacing)
		off.GyroBiasX = off.GyroBiasX*o.Rate + float64(e.sample.Gx)*(1-o.Rate)
		off.GyroBiasY = off.GyroBiasY*o.Rate + float64(e.sample.Gy)*(1-o.Rate)
		off.GyroBiasZ = off.GyroBiasZ*o.Rate + float64(e.sample.Gz)*(1-o.Rate)
	}
	e.offsets = off
	e.log.Debugf("gyro bias: x=%.2f y=%.2f z=%.2f counts", off.GyroBiasX, off.GyroBiasY, off.GyroBiasZ)
	return nil
}

func (e *Estimator) calibrateTilt() error {
	o := e.opts.Calibration

	e.Condition()
	e.att.ThetaX, e.att.ThetaY, e.att.ThetaZ = e.AccelAngles()

	for i := 0; i < o.Samples; i++ {
		o.sleep(o.Spacing)
		if err := e.Acquire(); err != nil {
			return err
		}
		e.Condition()
	}
	e.kf.Reset(e.att.ThetaZ)
	return nil
}
