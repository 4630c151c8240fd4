package rt

import "time"

// Clock is a monotonic microsecond counter that never resets during a run.
type Clock interface {
	Micros() uint64
}

type monotonicClock struct {
	epoch time.Time
}

// MonotonicClock counts microseconds since its creation using the runtime's
// monotonic clock reading, so wall-clock steps do not affect it.
func MonotonicClock() Clock {
	return &monotonicClock{epoch: time.Now()}
}

func (c *monotonicClock) Micros() uint64 {
	return uint64(time.Since(c.epoch).Microseconds())
}
