package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"crawl-ng/internal/config"
)

type cli struct {
	configPath string
	logLevel   string

	logger *log.Logger
	cfg    config.Config
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	c := &cli{logger: logger}
	root := &cobra.Command{
		Use:           "crawl-ng",
		Short:         "state estimation and control loop for a two-wheeled crawling robot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to YAML config (defaults apply when empty)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "calibrate, then run the control loop until interrupted",
			Long: `run brings up the robot, calibrates the sensors and ticks the control loop
at loop.period until SIGINT/SIGTERM or loop.max_ticks. The robot must be
stationary and level during calibration.`,
			Example: `  crawl-ng run --config /etc/crawl-ng.yaml
  crawl-ng run --config sim.yaml --log-level debug`,
			RunE: c.runCmd,
		},
		&cobra.Command{
			Use:   "calibrate",
			Short: "bring up the robot, calibrate and print the offsets",
			RunE:  c.calibrateCmd,
		},
		&cobra.Command{
			Use:   "config",
			Short: "print the effective configuration as YAML",
			RunE:  c.configCmd,
		},
	)
	return root
}

func (c *cli) load() error {
	if c.configPath == "" {
		c.cfg = config.Default()
	} else {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
	}
	if c.logLevel != "" {
		c.cfg.Log.Level = c.logLevel
	}
	level, err := log.ParseLevel(c.cfg.Log.Level)
	if err != nil {
		return err
	}
	c.logger.SetLevel(level)
	c.logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

func (c *cli) runCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	c.logger.Infof("crawl-ng starting")
	ticks, err := a.run(ctx)
	st := a.robot.State()
	c.logger.WithFields(log.Fields{
		"ticks":    ticks,
		"overruns": st.Timing.Overruns,
	}).Infof("crawl-ng stopping")
	fmt.Fprintf(cmd.OutOrStdout(), "ticks=%d overruns=%d theta_z=%.4f velocity=%.4f\n",
		ticks, st.Timing.Overruns, st.ThetaZ, st.Velocity)
	if err != nil {
		return err
	}
	return a.Close()
}

func (c *cli) calibrateCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.robot.Init(); err != nil {
		return err
	}
	off := a.robot.Offsets()
	st := a.robot.State()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "gyro_bias_counts: x=%.2f y=%.2f z=%.2f\n", off.GyroBiasX, off.GyroBiasY, off.GyroBiasZ)
	fmt.Fprintf(out, "theta_rad: x=%.4f y=%.4f z=%.4f\n", st.ThetaX, st.ThetaY, st.ThetaZ)
	return a.Close()
}

func (c *cli) configCmd(cmd *cobra.Command, args []string) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(c.cfg); err != nil {
		return err
	}
	return enc.Close()
}

func main() {
	logger := log.StandardLogger()
	if err := newRootCmd(logger).ExecuteContext(context.Background()); err != nil {
		logger.Fatalf("crawl-ng: %v", err)
	}
}
