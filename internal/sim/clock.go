package sim

import "time"

// ManualClock is a deterministic microsecond clock. Every Micros call
// advances it by Step so a busy-wait loop on it terminates.
type ManualClock struct {
	now  uint64
	Step uint64
}

func NewManualClock(step time.Duration) *ManualClock {
	return &ManualClock{Step: uint64(step / time.Microsecond)}
}

func (c *ManualClock) Micros() uint64 {
	t := c.now
	c.now += c.Step
	return t
}

// Advance moves the clock forward without a read.
func (c *ManualClock) Advance(d time.Duration) {
	if d > 0 {
		c.now += uint64(d / time.Microsecond)
	}
}
