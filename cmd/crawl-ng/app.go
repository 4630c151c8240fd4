package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"crawl-ng/internal/config"
	"crawl-ng/internal/control"
	"crawl-ng/internal/drive"
	"crawl-ng/internal/estimator"
	"crawl-ng/internal/i2c"
	"crawl-ng/internal/indicator"
	"crawl-ng/internal/kalman"
	"crawl-ng/internal/odometry"
	"crawl-ng/internal/robot"
	"crawl-ng/internal/rt"
	"crawl-ng/internal/sensors/mpu9250"
	"crawl-ng/internal/sim"
	"crawl-ng/internal/telemetry"
)

// app owns the robot and every resource opened for it.
type app struct {
	cfg config.Config
	log log.FieldLogger

	robot    *robot.Robot
	pub      *telemetry.Publisher
	balancer *control.Balancer
	plant    *sim.Plant

	closers []func() error
}

func newApp(cfg config.Config, logger log.FieldLogger) (_ *app, err error) {
	a := &app{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	estOpts, err := estimatorOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	var c robot.Collaborators
	if cfg.Sim.Enable {
		sleep, err := a.openSim(&c)
		if err != nil {
			return nil, err
		}
		estOpts.Calibration.Sleep = sleep
	} else if err := a.openHardware(&c); err != nil {
		return nil, err
	}

	if cfg.Indicator.Enable {
		leds, err := indicator.Open(indicator.Config{
			ReadyPin:   cfg.Indicator.ReadyPin,
			OverrunPin: cfg.Indicator.OverrunPin,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, leds.Close)
		c.Indicators = leds
	}

	if err := a.openTelemetry(); err != nil {
		return nil, err
	}
	if a.pub != nil {
		c.Publisher = a.pub
	}

	a.robot, err = robot.New(c, robot.Options{
		Period:    cfg.Loop.Period.Seconds(),
		Estimator: estOpts,
		Odometry: odometry.Options{
			KEtoDistance: cfg.Odometry.KEtoDistance,
			TimeConstant: cfg.Odometry.TimeConstant,
			BodyLength:   cfg.Odometry.BodyLength,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	// Stop the motors before the bus goes away.
	a.closers = append(a.closers, a.robot.Close)

	if cfg.Control.Enable {
		a.balancer = control.NewBalancer(control.BalancerConfig{
			Kp:            cfg.Control.Kp,
			Ki:            cfg.Control.Ki,
			Kd:            cfg.Control.Kd,
			TargetTheta:   cfg.Control.TargetTheta,
			IntegralLimit: cfg.Control.IntegralLimit,
			VelocityGain:  cfg.Control.VelocityGain,
			SampleTime:    cfg.Loop.Period.Seconds(),

			DerivativeTimeConstant: cfg.Control.DerivativeTimeConstant,
		})
	}
	return a, nil
}

func estimatorOptions(cfg config.Config, logger log.FieldLogger) (estimator.Options, error) {
	strategy, err := estimator.ParseStrategy(cfg.Estimator.Strategy)
	if err != nil {
		return estimator.Options{}, err
	}
	model, err := kalman.ParseModel(cfg.Estimator.Kalman.Model)
	if err != nil {
		return estimator.Options{}, err
	}
	var q [kalman.MaxStates]float64
	var r [kalman.Observations]float64
	copy(q[:], cfg.Estimator.Kalman.Q)
	copy(r[:], cfg.Estimator.Kalman.R)

	return estimator.Options{
		Strategy:               strategy,
		SampleTime:             cfg.Loop.Period.Seconds(),
		RateTheta:              cfg.Estimator.RateTheta,
		AccelTimeConstant:      cfg.Estimator.AccelTimeConstant,
		KalmanModel:            model,
		KalmanProcessNoise:     q,
		KalmanObservationNoise: r,
		Calibration: estimator.CalibrationOptions{
			Samples: cfg.Calibration.Samples,
			Rate:    cfg.Calibration.Rate,
			Spacing: cfg.Calibration.Spacing,
			Settle:  settle(cfg.Calibration.Settle),
		},
		Logger: logger,
	}, nil
}

// settle resolves an unset calibration.settle to the estimator default.
func settle(d *time.Duration) time.Duration {
	if d == nil {
		return estimator.DefaultCalibrationSettle
	}
	return *d
}

func (a *app) openHardware(c *robot.Collaborators) error {
	hw := a.cfg.Hardware
	busNum := 1
	if hw.I2CBus != nil {
		busNum = *hw.I2CBus
	}
	bus, err := i2c.OpenBus(busNum)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, bus.Close)

	imu, err := mpu9250.New(bus.Dev(hw.IMUAddr), bus.Dev(hw.MagAddr))
	if err != nil {
		return err
	}
	board, err := drive.New(bus.Dev(hw.DriveAddr))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, board.Close)

	a.log.WithFields(log.Fields{
		"bus":   bus.Path(),
		"imu":   fmt.Sprintf("0x%02X", hw.IMUAddr),
		"mag":   fmt.Sprintf("0x%02X", hw.MagAddr),
		"drive": fmt.Sprintf("0x%02X", hw.DriveAddr),
	}).Infof("hardware opened")

	c.Sensor = imu
	c.Magnetometer = imu
	c.Encoders = board
	c.Motors = board
	c.Clock = rt.MonotonicClock()
	return nil
}

// openSim returns the sleep calibration must use so it advances the same
// clock as the plant.
func (a *app) openSim(c *robot.Collaborators) (func(time.Duration), error) {
	sc := a.cfg.Sim
	var clock rt.Clock = rt.MonotonicClock()
	sleep := time.Sleep
	if sc.ManualClock {
		mc := sim.NewManualClock(sim.DefaultClockStep)
		clock = mc
		sleep = mc.Advance
	}

	var scn *sim.Scenario
	if sc.Scenario != "" {
		script, err := sim.LoadScenarioScript(sc.Scenario)
		if err != nil {
			return nil, fmt.Errorf("sim: load scenario: %w", err)
		}
		scn, err = sim.NewScenario(script)
		if err != nil {
			return nil, fmt.Errorf("sim: scenario %s: %w", sc.Scenario, err)
		}
	}
	var bias [3]int16
	copy(bias[:], sc.GyroBias)

	a.plant = sim.NewPlant(sim.PlantConfig{
		Clock:        clock,
		Scenario:     scn,
		Loop:         sc.Loop,
		Theta:        sc.ThetaDeg * math.Pi / 180,
		GyroBias:     bias,
		NoiseCounts:  sc.NoiseCounts,
		Seed:         sc.Seed,
		KEtoDistance: a.cfg.Odometry.KEtoDistance,
	})
	a.log.WithFields(log.Fields{
		"scenario":     sc.Scenario,
		"manual_clock": sc.ManualClock,
	}).Infof("simulated plant")

	c.Sensor = a.plant
	c.Magnetometer = a.plant
	c.Encoders = a.plant
	c.Motors = a.plant
	c.Clock = clock
	return sleep, nil
}

func (a *app) openTelemetry() error {
	tc := a.cfg.Telemetry
	var sinks []telemetry.Sink
	if tc.Serial.Enable {
		s, err := telemetry.OpenSerial(tc.Serial.Port, tc.Serial.Baud)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	if tc.MQTT.Enable {
		s, err := telemetry.DialMQTT(telemetry.MQTTConfig{
			Broker:   tc.MQTT.Broker,
			ClientID: tc.MQTT.ClientID,
			Topic:    tc.MQTT.Topic,
		})
		if err != nil {
			for _, open := range sinks {
				_ = open.Close()
			}
			return err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil
	}
	a.pub = telemetry.NewPublisher(tc.Every, a.log, sinks...)
	a.closers = append(a.closers, a.pub.Close)
	return nil
}

// run initializes the robot and ticks until ctx is done or loop.max_ticks
// is reached. It returns the number of completed ticks.
func (a *app) run(ctx context.Context) (uint64, error) {
	if err := a.robot.Init(); err != nil {
		return 0, err
	}
	if a.balancer != nil {
		a.balancer.Reset()
		a.log.WithField("target_theta", a.cfg.Control.TargetTheta).Infof("balancer enabled")
	}

	var ticks uint64
	for {
		if ctx.Err() != nil {
			return ticks, nil
		}
		if limit := a.cfg.Loop.MaxTicks; limit > 0 && ticks >= limit {
			return ticks, nil
		}
		a.robot.Wait()
		if err := a.robot.UpdateState(); err != nil {
			return ticks, err
		}
		ticks++

		if a.balancer != nil {
			left, right := a.balancer.Update(a.robot.ThetaZ(), a.robot.HeadVelocity())
			a.robot.SetMotorLeft(left)
			a.robot.SetMotorRight(right)
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
