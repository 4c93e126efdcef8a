// Package clock converts tempo and swing into step timestamps on the audio
// timeline and keeps the cursor the sequencer walks through.
//
// Time is expressed in float64 seconds, the unit the audio renderer
// schedules in. ToDuration converts to time.Duration where frame math needs it.
package clock

import (
	"math"
	"time"
)

// StepsPerLoop is the number of sixteenth-note steps in one loop.
const StepsPerLoop = 16

// Grid is the tempo and swing pair that shapes one loop.
type Grid struct {
	BPM   int
	Swing float64
}

// StepDuration is the length of one sixteenth note in seconds.
func (g Grid) StepDuration() float64 {
	return 60.0 / float64(g.BPM) / 4.0
}

// LoopDuration is the length of one full loop in seconds.
func (g Grid) LoopDuration() float64 {
	return StepsPerLoop * g.StepDuration()
}

// StepOffset returns the offset of step n from the start of its loop.
// Odd steps are delayed by Swing step durations. n may exceed the loop
// length, in which case it counts steps from the same origin.
func (g Grid) StepOffset(n int) float64 {
	d := g.StepDuration()
	t := float64(n) * d
	if n%2 == 1 {
		t += g.Swing * d
	}
	return t
}

// NextStepBoundary returns the first step boundary at or after now for a
// grid anchored at origin.
func (g Grid) NextStepBoundary(origin, now float64) float64 {
	if now <= origin {
		return origin
	}
	loop := g.LoopDuration()
	loops := math.Floor((now - origin) / loop)
	start := origin + loops*loop
	for s := 0; s < StepsPerLoop; s++ {
		if t := start + g.StepOffset(s); t >= now {
			return t
		}
	}
	return start + loop
}

// NextLoopBoundary returns the first loop boundary at or after now for a
// grid anchored at origin.
func (g Grid) NextLoopBoundary(origin, now float64) float64 {
	if now <= origin {
		return origin
	}
	loop := g.LoopDuration()
	loops := math.Ceil((now - origin) / loop)
	return origin + loops*loop
}

// ToDuration converts seconds on the audio timeline into a time.Duration.
func ToDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

// FromDuration converts a time.Duration into seconds.
func FromDuration(d time.Duration) float64 {
	return d.Seconds()
}
