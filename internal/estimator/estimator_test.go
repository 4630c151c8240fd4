package estimator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSensor struct {
	samples []RawAttitudeSample // consumed in order, the last one repeats
	reads   int
	err     error
	failAt  int // 1-based read that returns err; 0 fails every read when err is set
}

func (f *fakeSensor) ReadAttitude() (RawAttitudeSample, error) {
	f.reads++
	if f.err != nil && (f.failAt == 0 || f.reads == f.failAt) {
		return RawAttitudeSample{}, f.err
	}
	i := f.reads - 1
	if i >= len(f.samples) {
		i = len(f.samples) - 1
	}
	return f.samples[i], nil
}

// tilted returns a stationary sample for the robot pitched by theta about
// its z axis: gravity splits between robot x (sensor y) and robot y
// (sensor z).
func tilted(theta float64) RawAttitudeSample {
	return RawAttitudeSample{
		Ay: int16(math.Round(16384 * math.Sin(theta))),
		Az: int16(math.Round(16384 * math.Cos(theta))),
	}
}

// accelThetaZ is the gravity angle the estimator derives from s.
func accelThetaZ(s RawAttitudeSample) float64 {
	return math.Pi/2 - math.Atan2(float64(s.Az), float64(s.Ay))
}

func newTestEstimator(t *testing.T, s *fakeSensor, opts Options) *Estimator {
	t.Helper()
	e, err := New(s, opts)
	require.NoError(t, err)
	return e
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"":              Complementary,
		"complementary": Complementary,
		" Kalman ":      Kalman,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("madgwick")
	assert.Error(t, err)
	assert.Equal(t, "kalman", Kalman.String())
}

func TestNew_DefaultsAndValidation(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)

	tooHigh := 1.5
	_, err = New(&fakeSensor{}, Options{RateTheta: &tooHigh})
	require.Error(t, err)

	e := newTestEstimator(t, &fakeSensor{}, Options{})
	assert.Equal(t, DefaultSampleTime, e.SampleTime())
	assert.Equal(t, DefaultRateTheta, e.rateTheta)
	assert.Equal(t, DefaultAccelTimeConstant, e.accX.TimeConstant())
	assert.Equal(t, DefaultSampleTime, e.kf.SampleTime())
	assert.Equal(t, Complementary, e.Strategy())
	assert.Equal(t, DefaultCalibrationSamples, e.opts.Calibration.Samples)
}

func TestScaleFactors(t *testing.T) {
	assert.InDelta(t, 0.00059855, AccelScale, 1e-8)
	assert.InDelta(t, 0.00013316, GyroScale, 1e-8)
}

func TestSetSampleTime_PropagatesAndIgnoresNonPositive(t *testing.T) {
	e := newTestEstimator(t, &fakeSensor{}, Options{})
	e.SetSampleTime(0.02)
	assert.Equal(t, 0.02, e.SampleTime())
	assert.Equal(t, 0.02, e.accY.SampleTime())
	assert.Equal(t, 0.02, e.kf.SampleTime())

	e.SetSampleTime(0)
	e.SetSampleTime(-1)
	assert.Equal(t, 0.02, e.SampleTime())
}

func TestCondition_ScalesAndRemapsAxes(t *testing.T) {
	s := &fakeSensor{samples: []RawAttitudeSample{{Ax: 100, Ay: 200, Az: 300, Gx: 10, Gy: 20, Gz: 30}}}
	e := newTestEstimator(t, s, Options{SampleTime: 0.01})
	e.offsets = CalibrationOffsets{GyroBiasX: 1, GyroBiasY: 2, GyroBiasZ: 3}

	require.NoError(t, e.Acquire())
	e.Condition()
	assert.InDelta(t, 18*GyroScale, e.ThetaDotX(), 1e-15)
	assert.InDelta(t, 27*GyroScale, e.ThetaDotY(), 1e-15)
	assert.InDelta(t, 9*GyroScale, e.ThetaDotZ(), 1e-15)

	// Accelerations are low-passed; hold the sample until they settle.
	for i := 0; i < 2000; i++ {
		e.Condition()
	}
	assert.InDelta(t, 200*AccelScale, e.AccX(), 1e-9)
	assert.InDelta(t, 300*AccelScale, e.AccY(), 1e-9)
	assert.InDelta(t, 100*AccelScale, e.AccZ(), 1e-9)
}

func TestComplementary_ConvergesRegardlessOfInitialTheta(t *testing.T) {
	sample := tilted(0.2)
	want := accelThetaZ(sample)
	for _, initial := range []float64{-2, 0, 0.2, 1.3} {
		s := &fakeSensor{samples: []RawAttitudeSample{sample}}
		e := newTestEstimator(t, s, Options{SampleTime: 0.02})
		e.att.ThetaZ = initial
		for i := 0; i < 3000; i++ {
			require.NoError(t, e.Update())
		}
		assert.InDelta(t, want, e.ThetaZ(), 1e-9, "initial=%v", initial)
		assert.InDelta(t, 0, e.ThetaX(), 1e-9, "initial=%v", initial)
	}
}

func TestComplementary_SingleStepBlendsAndIntegrates(t *testing.T) {
	sample := tilted(0.1)
	sample.Gx = 100
	s := &fakeSensor{samples: []RawAttitudeSample{sample}}
	e := newTestEstimator(t, s, Options{SampleTime: 0.02})

	// Pre-settle the accel filters so the step sees the exact gravity angle.
	e.accX.Reset(float64(sample.Ay) * AccelScale)
	e.accY.Reset(float64(sample.Az) * AccelScale)
	e.accZ.Reset(float64(sample.Ax) * AccelScale)
	e.att.ThetaZ = 0.5

	require.NoError(t, e.Update())
	want := 0.5*0.99 + accelThetaZ(sample)*0.01 + 100*GyroScale*0.02
	assert.InDelta(t, want, e.ThetaZ(), 1e-12)
}

func TestComplementary_ZeroRateThetaTrustsAccelOnly(t *testing.T) {
	sample := tilted(0.1)
	s := &fakeSensor{samples: []RawAttitudeSample{sample}}
	zero := 0.0
	e := newTestEstimator(t, s, Options{SampleTime: 0.02, RateTheta: &zero})
	assert.Equal(t, 0.0, e.rateTheta)

	e.accX.Reset(float64(sample.Ay) * AccelScale)
	e.accY.Reset(float64(sample.Az) * AccelScale)
	e.accZ.Reset(float64(sample.Ax) * AccelScale)
	e.att.ThetaZ = 0.5

	require.NoError(t, e.Update())
	assert.InDelta(t, accelThetaZ(sample), e.ThetaZ(), 1e-12)
}

func TestKalman_TracksTiltWithCalibratedRate(t *testing.T) {
	sample := tilted(0.3)
	sample.Gx = 50
	s := &fakeSensor{samples: []RawAttitudeSample{sample}}
	e := newTestEstimator(t, s, Options{SampleTime: 0.02, Strategy: Kalman})
	e.offsets.GyroBiasX = 50

	for i := 0; i < 6000; i++ {
		require.NoError(t, e.Update())
	}
	assert.Equal(t, 0.0, e.ThetaDotZ())
	assert.InDelta(t, accelThetaZ(sample), e.ThetaZ(), 1e-4)
	assert.Equal(t, e.Kalman().Theta(), e.ThetaZ())
	assert.InDelta(t, 0, e.Kalman().Bias(), 1e-4)

	v := e.Kalman().ThetaVariance()
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 1.0)

	// θx stays on the complementary filter.
	assert.InDelta(t, 0, e.ThetaX(), 1e-9)
}

func TestSetStrategy_ReseedsKalmanForContinuity(t *testing.T) {
	s := &fakeSensor{samples: []RawAttitudeSample{tilted(0.4)}}
	e := newTestEstimator(t, s, Options{SampleTime: 0.01})
	for i := 0; i < 2000; i++ {
		require.NoError(t, e.Update())
	}
	before := e.ThetaZ()

	e.SetStrategy(Kalman)
	assert.Equal(t, Kalman, e.Strategy())
	assert.Equal(t, before, e.Kalman().Theta())
	assert.Equal(t, 1.0, e.Kalman().ThetaVariance())

	require.NoError(t, e.Update())
	assert.InDelta(t, before, e.ThetaZ(), 1e-6)

	// Switching back keeps the Kalman output as the complementary seed.
	e.SetStrategy(Complementary)
	after := e.ThetaZ()
	require.NoError(t, e.Update())
	assert.InDelta(t, after, e.ThetaZ(), 1e-6)
}

func TestUpdate_PropagatesSensorError(t *testing.T) {
	errBus := errors.New("bus down")
	s := &fakeSensor{err: errBus}
	e := newTestEstimator(t, s, Options{})
	e.att.ThetaZ = 0.7

	err := e.Update()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBus)
	assert.Equal(t, 0.7, e.ThetaZ())
}

func TestAccelAngles_NotWrapped(t *testing.T) {
	e := newTestEstimator(t, &fakeSensor{}, Options{})

	// Pitched past horizontal on the negative x side: θz sits just above
	// −π/2 on one side of the atan2 branch cut and just below 3π/2 on the
	// other.
	e.att.AccX = -9.8
	e.att.AccY = 0.01
	_, _, above := e.AccelAngles()
	e.att.AccY = -0.01
	_, _, below := e.AccelAngles()

	assert.InDelta(t, -math.Pi/2, above, 0.01)
	assert.InDelta(t, 3*math.Pi/2, below, 0.01)
	assert.InDelta(t, 2*math.Pi, below-above, 0.01)
}
