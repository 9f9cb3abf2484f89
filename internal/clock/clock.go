// Package clock provides the monotonic millisecond tick counter used for
// request expiry bookkeeping. Ticks are 32-bit and wrap roughly every 49.7
// days; callers that compare tick values must account for the wraparound.
package clock

import "time"

// Clock yields monotonic millisecond ticks.
type Clock interface {
	// Ticks returns the current tick value. The counter is monotonic except
	// for the natural uint32 wraparound.
	Ticks() uint32
}

// System returns a Clock backed by the runtime monotonic clock, counting
// milliseconds since the Clock was created.
func System() Clock {
	return &systemClock{start: time.Now()}
}

type systemClock struct {
	start time.Time
}

func (c *systemClock) Ticks() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}
