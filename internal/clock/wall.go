package clock

import "time"

// Wall returns a timeline reader counting seconds from the moment it is
// created. Everything that schedules against the same loop must share one.
func Wall() func() float64 {
	start := time.Now()
	return func() float64 {
		return time.Since(start).Seconds()
	}
}
