// Package telemetry publishes decimated state frames to a serial line and/or
// an MQTT broker. Sinks never block or abort the control loop.
package telemetry

import "encoding/json"

// Frame is one state record. Angles in rad, rates in rad/s, accelerations in
// m/s², velocities in m/s, temperature in °C. Mag is raw magnetometer counts
// in sensor axes.
type Frame struct {
	Tick   uint64 `json:"tick"`
	TimeUS uint64 `json:"t_us"`

	Strategy string `json:"strategy"`

	ThetaX    float64 `json:"theta_x"`
	ThetaY    float64 `json:"theta_y"`
	ThetaZ    float64 `json:"theta_z"`
	ThetaDotX float64 `json:"theta_dot_x"`
	ThetaDotY float64 `json:"theta_dot_y"`
	ThetaDotZ float64 `json:"theta_dot_z"`
	AccX      float64 `json:"acc_x"`
	AccY      float64 `json:"acc_y"`
	AccZ      float64 `json:"acc_z"`

	TempC float64  `json:"temp_c"`
	Mag   [3]int16 `json:"mag"`

	EncoderLeft  int64   `json:"encoder_left"`
	EncoderRight int64   `json:"encoder_right"`
	Velocity     float64 `json:"velocity"`
	HeadVelocity float64 `json:"head_velocity"`

	MotorLeft  float64 `json:"motor_left"`
	MotorRight float64 `json:"motor_right"`

	Overruns uint64 `json:"overruns"`
}

// MarshalLine encodes f as one newline-terminated JSON line.
func (f Frame) MarshalLine() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
