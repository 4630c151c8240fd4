// Package rt paces the control loop at a fixed period.
//
// The scheduler is cooperative and single-threaded: the loop calls Wait once
// per tick and Wait spins on the clock until the period has elapsed.
package rt

import (
	"math"
	"time"
)

// TimingState is the scheduler's view of the last tick.
type TimingState struct {
	PeriodSeconds float64
	PeriodMicros  uint64
	// LastTick and PrevTick are clock readings (µs) of the two most recent
	// Wait returns.
	LastTick uint64
	PrevTick uint64
	// Elapsed is LastTick − PrevTick.
	Elapsed time.Duration
	// Overrun reports whether the most recent Wait found the period already
	// exceeded on entry.
	Overrun  bool
	Overruns uint64
}

type Scheduler struct {
	clock Clock
	state TimingState

	// OnOverrun, if set, is called from Wait when a tick's processing took
	// longer than the period.
	OnOverrun func(TimingState)
	// OnSchedule, if set, is called from Wait when a tick finished in time.
	OnSchedule func(TimingState)
}

// New returns a scheduler with a zero period. The current clock reading
// becomes the reference for the first Wait.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = MonotonicClock()
	}
	s := &Scheduler{clock: clock}
	s.Reset()
	return s
}

// Reset makes the current clock reading the reference for the next Wait.
func (s *Scheduler) Reset() {
	now := s.clock.Micros()
	s.state.LastTick = now
	s.state.PrevTick = now
	s.state.Elapsed = 0
	s.state.Overrun = false
}

// SetPeriod stores the period and its rounded microsecond equivalent.
// Non-positive periods disable pacing.
func (s *Scheduler) SetPeriod(seconds float64) {
	if seconds <= 0 || math.IsNaN(seconds) {
		s.state.PeriodSeconds = 0
		s.state.PeriodMicros = 0
		return
	}
	s.state.PeriodSeconds = seconds
	s.state.PeriodMicros = uint64(math.Round(seconds * 1e6))
}

func (s *Scheduler) Period() float64 { return s.state.PeriodSeconds }

func (s *Scheduler) State() TimingState { return s.state }

func (s *Scheduler) Overrun() bool { return s.state.Overrun }

// Wait blocks until at least one period has passed since the previous Wait
// returned and reports whether the period was already exceeded on entry.
//
// An overrun is not compensated: Wait returns immediately and the next
// period is measured from this return.
func (s *Scheduler) Wait() bool {
	period := s.state.PeriodMicros
	now := s.clock.Micros()
	overrun := period > 0 && now-s.state.LastTick > period

	for now-s.state.LastTick < period {
		now = s.clock.Micros()
	}

	s.state.PrevTick = s.state.LastTick
	s.state.LastTick = now
	s.state.Elapsed = time.Duration(now-s.state.PrevTick) * time.Microsecond
	s.state.Overrun = overrun
	if overrun {
		s.state.Overruns++
		if s.OnOverrun != nil {
			s.OnOverrun(s.state)
		}
	} else if s.OnSchedule != nil {
		s.OnSchedule(s.state)
	}
	return overrun
}
