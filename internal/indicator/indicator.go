// Package indicator drives the ready and overrun LEDs on GPIO output lines.
package indicator

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultReadyPin   = 13
	DefaultOverrunPin = 9
)

// line is one GPIO output. Close should leave it low.
type line interface {
	SetValue(v int) error
	Close() error
}

type Config struct {
	// Pins use BCM GPIO numbering.
	ReadyPin   int
	OverrunPin int
	Logger     log.FieldLogger
}

// LEDs is safe to use with a nil receiver, which makes the indicators
// optional for callers.
type LEDs struct {
	ready   line
	overrun line
	log     log.FieldLogger

	readyOn, overrunOn bool
}

func Open(cfg Config) (*LEDs, error) {
	if cfg.ReadyPin == 0 {
		cfg.ReadyPin = DefaultReadyPin
	}
	if cfg.OverrunPin == 0 {
		cfg.OverrunPin = DefaultOverrunPin
	}
	if cfg.ReadyPin == cfg.OverrunPin {
		return nil, fmt.Errorf("indicator: ready and overrun share gpio %d", cfg.ReadyPin)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	ready, err := openLineFn(cfg.ReadyPin, "crawl-ng-ready")
	if err != nil {
		return nil, err
	}
	overrun, err := openLineFn(cfg.OverrunPin, "crawl-ng-overrun")
	if err != nil {
		_ = ready.Close()
		return nil, err
	}
	return &LEDs{ready: ready, overrun: overrun, log: logger.WithField("component", "indicator")}, nil
}

func (l *LEDs) SetReady(on bool) {
	if l == nil {
		return
	}
	l.set(l.ready, "ready", on)
	l.readyOn = on
}

func (l *LEDs) SetOverrun(on bool) {
	if l == nil {
		return
	}
	// Called every tick from the scheduler callbacks.
	if on == l.overrunOn {
		return
	}
	l.set(l.overrun, "overrun", on)
	l.overrunOn = on
}

func (l *LEDs) Ready() bool   { return l != nil && l.readyOn }
func (l *LEDs) Overrun() bool { return l != nil && l.overrunOn }

func (l *LEDs) set(ln line, name string, on bool) {
	if ln == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := ln.SetValue(v); err != nil {
		l.log.Debugf("%s led: %v", name, err)
	}
}

// Close turns both LEDs off and releases the lines.
func (l *LEDs) Close() error {
	if l == nil {
		return nil
	}
	var first error
	for _, ln := range []line{l.ready, l.overrun} {
		if ln == nil {
			continue
		}
		_ = ln.SetValue(0)
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.ready, l.overrun = nil, nil
	l.readyOn, l.overrunOn = false, false
	return first
}
