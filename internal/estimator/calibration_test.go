package estimator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var calls []time.Duration
	prev := sleep
	sleep = func(d time.Duration) { calls = append(calls, d) }
	t.Cleanup(func() { sleep = prev })
	return &calls
}

func TestCalibrate_ReadsAndSleeps(t *testing.T) {
	calls := stubSleep(t)
	s := &fakeSensor{samples: []RawAttitudeSample{tilted(0)}}
	e := newTestEstimator(t, s, Options{})

	require.NoError(t, e.Calibrate())
	assert.Equal(t, 1+2*DefaultCalibrationSamples, s.reads)
	require.Len(t, *calls, 1+2*DefaultCalibrationSamples)
	assert.Equal(t, DefaultCalibrationSettle, (*calls)[0])
	for _, d := range (*calls)[1:] {
		require.Equal(t, time.Millisecond, d)
	}
}

func TestCalibrate_ConstantGyroGivesItsBias(t *testing.T) {
	stubSleep(t)
	sample := tilted(0)
	sample.Gx, sample.Gy, sample.Gz = -12, 7, 40
	s := &fakeSensor{samples: []RawAttitudeSample{sample}}
	e := newTestEstimator(t, s, Options{})

	require.NoError(t, e.Calibrate())
	off := e.Offsets()
	assert.InDelta(t, -12, off.GyroBiasX, 1e-9)
	assert.InDelta(t, 7, off.GyroBiasY, 1e-9)
	assert.InDelta(t, 40, off.GyroBiasZ, 1e-9)

	// A stationary robot now reads zero rate.
	require.NoError(t, e.Update())
	assert.InDelta(t, 0, e.ThetaDotX(), 1e-12)
	assert.InDelta(t, 0, e.ThetaDotY(), 1e-12)
	assert.InDelta(t, 0, e.ThetaDotZ(), 1e-12)
}

func TestCalibrate_ExponentialAverage(t *testing.T) {
	stubSleep(t)
	seed := tilted(0)
	seed.Gx = 100
	s := &fakeSensor{samples: []RawAttitudeSample{seed, tilted(0)}}
	e := newTestEstimator(t, s, Options{})

	require.NoError(t, e.Calibrate())
	// The seed decays by the rate once per averaged sample.
	assert.InDelta(t, 100*math.Pow(0.98, 200), e.Offsets().GyroBiasX, 1e-9)
	assert.Equal(t, 0.0, e.Offsets().GyroBiasY)
}

func TestCalibrate_CustomOptions(t *testing.T) {
	calls := stubSleep(t)
	s := &fakeSensor{samples: []RawAttitudeSample{tilted(0)}}
	e := newTestEstimator(t, s, Options{Calibration: CalibrationOptions{
		Samples: 5,
		Rate:    0.5,
		Spacing: 2 * time.Millisecond,
	}})

	require.NoError(t, e.Calibrate())
	assert.Equal(t, 11, s.reads)
	assert.Len(t, *calls, 11)
	assert.Equal(t, 2*time.Millisecond, (*calls)[len(*calls)-1])
}

func TestCalibrate_SeedsInitialTilt(t *testing.T) {
	stubSleep(t)
	sample := tilted(0.25)
	s := &fakeSensor{samples: []RawAttitudeSample{sample}}
	e := newTestEstimator(t, s, Options{})

	require.NoError(t, e.Calibrate())
	want := accelThetaZ(sample)
	assert.InDelta(t, want, e.ThetaZ(), 1e-12)
	assert.InDelta(t, 0, e.ThetaX(), 1e-12)

	// Kalman is re-seeded with the settled angle.
	assert.Equal(t, e.ThetaZ(), e.Kalman().Theta())
	assert.Equal(t, 1.0, e.Kalman().ThetaVariance())

	// The accel filters have settled enough that the next tick barely moves.
	require.NoError(t, e.Update())
	assert.InDelta(t, want, e.ThetaZ(), 1e-9)
}

func TestCalibrate_SensorErrorAborts(t *testing.T) {
	stubSleep(t)
	errBus := errors.New("nack")
	for _, failAt := range []int{1, 50, 300} {
		s := &fakeSensor{samples: []RawAttitudeSample{tilted(0)}, err: errBus, failAt: failAt}
		e := newTestEstimator(t, s, Options{})

		err := e.Calibrate()
		require.ErrorIs(t, err, errBus, "failAt=%d", failAt)
		assert.Equal(t, failAt, s.reads)
	}
}

func TestCalibrate_SleepOption(t *testing.T) {
	pkg := stubSleep(t)
	var total time.Duration
	s := &fakeSensor{samples: []RawAttitudeSample{tilted(0)}}
	e := newTestEstimator(t, s, Options{Calibration: CalibrationOptions{
		Samples: 10,
		Settle:  time.Second,
		Sleep:   func(d time.Duration) { total += d },
	}})

	require.NoError(t, e.Calibrate())
	assert.Equal(t, time.Second+20*time.Millisecond, total)
	assert.Empty(t, *pkg)
}
