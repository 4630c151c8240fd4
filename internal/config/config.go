package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"crawl-ng/internal/drive"
	"crawl-ng/internal/estimator"
	"crawl-ng/internal/indicator"
	"crawl-ng/internal/kalman"
	"crawl-ng/internal/odometry"
	"crawl-ng/internal/sensors/mpu9250"
	"crawl-ng/internal/telemetry"
)

type Config struct {
	Loop        LoopConfig        `yaml:"loop"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Odometry    OdometryConfig    `yaml:"odometry"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Sim         SimConfig         `yaml:"sim"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Control     ControlConfig     `yaml:"control"`
	Log         LogConfig         `yaml:"log"`
}

type LoopConfig struct {
	Period time.Duration `yaml:"period"`
	// MaxTicks stops the run loop after this many ticks; 0 runs until
	// interrupted.
	MaxTicks uint64 `yaml:"max_ticks"`
}

type EstimatorConfig struct {
	Strategy string `yaml:"strategy"`
	// RateTheta is nil until defaulted so an explicit 0 survives.
	RateTheta *float64 `yaml:"rate_theta"`
	// AccelTimeConstant is in seconds.
	AccelTimeConstant float64      `yaml:"accel_time_constant"`
	Kalman            KalmanConfig `yaml:"kalman"`
}

type KalmanConfig struct {
	Model string `yaml:"model"`
	// Q and R are the diagonal process and observation variances.
	Q []float64 `yaml:"q"`
	R []float64 `yaml:"r"`
}

type CalibrationConfig struct {
	Samples int            `yaml:"samples"`
	Rate    float64        `yaml:"rate"`
	Spacing time.Duration  `yaml:"spacing"`
	Settle  *time.Duration `yaml:"settle"`
}

type OdometryConfig struct {
	KEtoDistance float64 `yaml:"k_e_to_distance"`
	TimeConstant float64 `yaml:"time_constant"`
	BodyLength   float64 `yaml:"body_length"`
}

type HardwareConfig struct {
	I2CBus    *int   `yaml:"i2c_bus"`
	IMUAddr   uint16 `yaml:"imu_addr"`
	MagAddr   uint16 `yaml:"mag_addr"`
	DriveAddr uint16 `yaml:"drive_addr"`
}

// SimConfig replaces every bus collaborator with the simulated plant.
type SimConfig struct {
	Enable bool `yaml:"enable"`
	// Scenario is an optional tilt script; without one the body holds
	// ThetaDeg.
	Scenario    string  `yaml:"scenario"`
	Loop        bool    `yaml:"loop"`
	ThetaDeg    float64 `yaml:"theta_deg"`
	GyroBias    []int16 `yaml:"gyro_bias"`
	NoiseCounts float64 `yaml:"noise_counts"`
	Seed        int64   `yaml:"seed"`
	// ManualClock runs the loop on simulated time instead of the wall clock.
	ManualClock bool `yaml:"manual_clock"`
}

type IndicatorConfig struct {
	Enable     bool `yaml:"enable"`
	ReadyPin   int  `yaml:"ready_pin"`
	OverrunPin int  `yaml:"overrun_pin"`
}

type TelemetryConfig struct {
	// Every publishes one frame per this many ticks.
	Every  int          `yaml:"every"`
	Serial SerialConfig `yaml:"serial"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

type SerialConfig struct {
	Enable bool   `yaml:"enable"`
	Port   string `yaml:"port"`
	Baud   int    `yaml:"baud"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

type ControlConfig struct {
	Enable bool    `yaml:"enable"`
	Kp     float64 `yaml:"kp"`
	Ki     float64 `yaml:"ki"`
	Kd     float64 `yaml:"kd"`
	// TargetTheta is in radians.
	TargetTheta   float64 `yaml:"target_theta"`
	IntegralLimit float64 `yaml:"integral_limit"`
	VelocityGain  float64 `yaml:"velocity_gain"`
	// DerivativeTimeConstant is the derivative lag in seconds; 0 keeps the
	// PID default.
	DerivativeTimeConstant float64 `yaml:"derivative_time_constant"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration an empty file loads to.
func Default() Config {
	var cfg Config
	if err := DefaultAndValidate(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

// DefaultAndValidate fills unset values with defaults and rejects settings
// the robot cannot run with.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Loop.Period == 0 {
		cfg.Loop.Period = 10 * time.Millisecond
	}
	if cfg.Loop.Period < 0 {
		return fmt.Errorf("loop.period must be > 0")
	}

	if _, err := estimator.ParseStrategy(cfg.Estimator.Strategy); err != nil {
		return fmt.Errorf("estimator.strategy must be 'complementary' or 'kalman'")
	}
	if cfg.Estimator.Strategy == "" {
		cfg.Estimator.Strategy = estimator.Complementary.String()
	}
	if cfg.Estimator.RateTheta == nil {
		v := estimator.DefaultRateTheta
		cfg.Estimator.RateTheta = &v
	}
	if r := *cfg.Estimator.RateTheta; r < 0 || r > 1 {
		return fmt.Errorf("estimator.rate_theta must be within [0,1]")
	}
	if cfg.Estimator.AccelTimeConstant == 0 {
		cfg.Estimator.AccelTimeConstant = estimator.DefaultAccelTimeConstant
	}
	if cfg.Estimator.AccelTimeConstant < 0 {
		return fmt.Errorf("estimator.accel_time_constant must be > 0")
	}
	if _, err := kalman.ParseModel(cfg.Estimator.Kalman.Model); err != nil {
		return fmt.Errorf("estimator.kalman.model must be 'bias' or 'simple'")
	}
	if cfg.Estimator.Kalman.Model == "" {
		cfg.Estimator.Kalman.Model = kalman.BiasState.String()
	}
	if len(cfg.Estimator.Kalman.Q) == 0 {
		cfg.Estimator.Kalman.Q = append([]float64(nil), kalman.DefaultProcessNoise[:]...)
	}
	if len(cfg.Estimator.Kalman.Q) != kalman.MaxStates {
		return fmt.Errorf("estimator.kalman.q must have %d entries", kalman.MaxStates)
	}
	if len(cfg.Estimator.Kalman.R) == 0 {
		cfg.Estimator.Kalman.R = append([]float64(nil), kalman.DefaultObservationNoise[:]...)
	}
	if len(cfg.Estimator.Kalman.R) != kalman.Observations {
		return fmt.Errorf("estimator.kalman.r must have %d entries", kalman.Observations)
	}
	for _, v := range append(append([]float64{}, cfg.Estimator.Kalman.Q...), cfg.Estimator.Kalman.R...) {
		if v < 0 {
			return fmt.Errorf("estimator.kalman noise variances must be >= 0")
		}
	}

	if cfg.Calibration.Samples == 0 {
		cfg.Calibration.Samples = estimator.DefaultCalibrationSamples
	}
	if cfg.Calibration.Samples < 0 {
		return fmt.Errorf("calibration.samples must be > 0")
	}
	if cfg.Calibration.Rate == 0 {
		cfg.Calibration.Rate = estimator.DefaultCalibrationRate
	}
	if cfg.Calibration.Rate < 0 || cfg.Calibration.Rate > 1 {
		return fmt.Errorf("calibration.rate must be within [0,1]")
	}
	if cfg.Calibration.Spacing <= 0 {
		cfg.Calibration.Spacing = estimator.DefaultCalibrationSpacing
	}
	if cfg.Calibration.Settle == nil {
		v := estimator.DefaultCalibrationSettle
		cfg.Calibration.Settle = &v
	}
	if *cfg.Calibration.Settle < 0 {
		return fmt.Errorf("calibration.settle must be >= 0")
	}

	if cfg.Odometry.KEtoDistance == 0 {
		cfg.Odometry.KEtoDistance = odometry.DefaultKEtoDistance
	}
	if cfg.Odometry.TimeConstant == 0 {
		cfg.Odometry.TimeConstant = odometry.DefaultTimeConstant
	}
	if cfg.Odometry.TimeConstant < 0 {
		return fmt.Errorf("odometry.time_constant must be > 0")
	}
	if cfg.Odometry.BodyLength == 0 {
		cfg.Odometry.BodyLength = odometry.DefaultBodyLength
	}

	if cfg.Hardware.I2CBus == nil {
		bus := 1
		cfg.Hardware.I2CBus = &bus
	}
	if *cfg.Hardware.I2CBus < 0 {
		return fmt.Errorf("hardware.i2c_bus must be >= 0")
	}
	if cfg.Hardware.IMUAddr == 0 {
		cfg.Hardware.IMUAddr = mpu9250.DefaultAddress()
	}
	if cfg.Hardware.MagAddr == 0 {
		cfg.Hardware.MagAddr = mpu9250.DefaultMagAddress()
	}
	if cfg.Hardware.DriveAddr == 0 {
		cfg.Hardware.DriveAddr = drive.DefaultAddress()
	}
	for _, a := range []struct {
		name string
		addr uint16
	}{
		{"imu_addr", cfg.Hardware.IMUAddr},
		{"mag_addr", cfg.Hardware.MagAddr},
		{"drive_addr", cfg.Hardware.DriveAddr},
	} {
		if a.addr > 0x7F {
			return fmt.Errorf("hardware.%s must be a 7-bit address", a.name)
		}
	}

	if len(cfg.Sim.GyroBias) != 0 && len(cfg.Sim.GyroBias) != 3 {
		return fmt.Errorf("sim.gyro_bias must have 3 entries")
	}
	if cfg.Sim.NoiseCounts < 0 {
		return fmt.Errorf("sim.noise_counts must be >= 0")
	}

	if cfg.Indicator.ReadyPin == 0 {
		cfg.Indicator.ReadyPin = indicator.DefaultReadyPin
	}
	if cfg.Indicator.OverrunPin == 0 {
		cfg.Indicator.OverrunPin = indicator.DefaultOverrunPin
	}
	if cfg.Indicator.ReadyPin == cfg.Indicator.OverrunPin {
		return fmt.Errorf("indicator.ready_pin and indicator.overrun_pin must differ")
	}

	if cfg.Telemetry.Every == 0 {
		cfg.Telemetry.Every = telemetry.DefaultEvery
	}
	if cfg.Telemetry.Every < 0 {
		return fmt.Errorf("telemetry.every must be > 0")
	}
	if cfg.Telemetry.Serial.Baud == 0 {
		cfg.Telemetry.Serial.Baud = telemetry.DefaultBaud
	}
	if cfg.Telemetry.Serial.Enable && cfg.Telemetry.Serial.Port == "" {
		return fmt.Errorf("telemetry.serial.port is required when telemetry.serial.enable is true")
	}
	if cfg.Telemetry.MQTT.Enable {
		if cfg.Telemetry.MQTT.Broker == "" {
			return fmt.Errorf("telemetry.mqtt.broker is required when telemetry.mqtt.enable is true")
		}
		if cfg.Telemetry.MQTT.Topic == "" {
			return fmt.Errorf("telemetry.mqtt.topic is required when telemetry.mqtt.enable is true")
		}
	}
	if cfg.Telemetry.MQTT.ClientID == "" {
		cfg.Telemetry.MQTT.ClientID = telemetry.DefaultMQTTClientID
	}

	if cfg.Control.IntegralLimit < 0 {
		return fmt.Errorf("control.integral_limit must be >= 0")
	}
	if cfg.Control.DerivativeTimeConstant < 0 {
		return fmt.Errorf("control.derivative_time_constant must be >= 0")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level %q is not a logrus level", cfg.Log.Level)
	}
	return nil
}
