// Package imu holds the sensor-neutral raw sample shared by the inertial
// sensor drivers and the state estimator.
package imu

// RawAttitudeSample is one burst read of the inertial sensor, in device
// counts and sensor axes.
type RawAttitudeSample struct {
	Ax, Ay, Az int16 // accel
	Temp       int16
	Gx, Gy, Gz int16 // gyro
}

// TempCelsius converts the die temperature reading to °C.
func (s RawAttitudeSample) TempCelsius() float64 {
	return float64(s.Temp)/333.87 + 21.0
}

// Source is a blocking sensor read.
type Source interface {
	ReadAttitude() (RawAttitudeSample, error)
}
