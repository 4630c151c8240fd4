package telemetry

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

const DefaultEvery = 50

// Sink receives frames. Send must not block for longer than a tick.
type Sink interface {
	Name() string
	Send(f Frame) error
	Close() error
}

type SinkStats struct {
	Sent   uint64
	Errors uint64
}

// Publisher forwards every Nth frame to its sinks. A failing sink is logged
// and counted and never affects the other sinks or the caller.
type Publisher struct {
	every uint64
	sinks []Sink
	stats []SinkStats
	log   log.FieldLogger

	seen uint64
}

func NewPublisher(every int, logger log.FieldLogger, sinks ...Sink) *Publisher {
	if every <= 0 {
		every = DefaultEvery
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{
		every: uint64(every),
		sinks: sinks,
		stats: make([]SinkStats, len(sinks)),
		log:   logger.WithField("component", "telemetry"),
	}
}

// Publish counts f and forwards it when the count is a multiple of the
// decimation. The first frame is always forwarded.
func (p *Publisher) Publish(f Frame) {
	if p == nil {
		return
	}
	n := p.seen
	p.seen++
	if n%p.every != 0 {
		return
	}
	for i, s := range p.sinks {
		if err := s.Send(f); err != nil {
			p.stats[i].Errors++
			// First failure, then every 100th, to keep a dead sink from
			// flooding the log.
			if e := p.stats[i].Errors; e == 1 || e%100 == 0 {
				p.log.WithField("sink", s.Name()).WithField("errors", e).Warnf("send failed: %v", err)
			}
			continue
		}
		p.stats[i].Sent++
	}
}

// Stats returns per-sink counters in the order the sinks were given.
func (p *Publisher) Stats() []SinkStats {
	if p == nil {
		return nil
	}
	out := make([]SinkStats, len(p.stats))
	copy(out, p.stats)
	return out
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
