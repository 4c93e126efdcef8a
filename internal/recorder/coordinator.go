// Package recorder aligns microphone captures to loop boundaries.
//
// The Coordinator only decides when a capture starts and ends; the engine
// feeds it loop boundaries from the shared timeline and reads the samples.
package recorder

import (
	"log/slog"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/looperr"
)

// State is the recording state.
type State string

const (
	StateOff       State = "OFF"
	StateCapturing State = "CAPTURING"
	StateRecording State = "RECORDING"
)

// Transition is a state change that happened at a point on the timeline.
type Transition struct {
	From State
	To   State
	At   float64
}

// Capture is a finished recording window, exactly one loop long.
type Capture struct {
	Loop  int
	Start float64
	End   float64
	Grid  clock.Grid
}

// Window returns the capture length in seconds.
func (c Capture) Window() float64 {
	return c.End - c.Start
}

// Effects describes what a call to the Coordinator changed.
type Effects struct {
	Transitions []Transition
	Capture     *Capture
}

// Coordinator is the OFF -> CAPTURING -> RECORDING -> OFF machine.
// It is not safe for concurrent use; the engine serializes access.
type Coordinator struct {
	state         State
	recLoop       int
	recStart      float64
	recGrid       clock.Grid
	stopRequested bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{state: StateOff}
}

func (c *Coordinator) State() State {
	return c.state
}

// StopRequested reports whether the current recording was asked to stop.
func (c *Coordinator) StopRequested() bool {
	return c.stopRequested
}

// Active reports whether a capture is armed or running.
func (c *Coordinator) Active() bool {
	return c.state != StateOff
}

// Arm waits for the next loop boundary before recording (OFF -> CAPTURING).
func (c *Coordinator) Arm(at float64) (Effects, error) {
	if c.state != StateOff {
		return Effects{}, looperr.Precondition("cannot start recording while %s", c.state)
	}
	var fx Effects
	c.transition(&fx, StateCapturing, at)
	return fx, nil
}

// ArmImmediate starts recording right away at the start of loop. It is used
// for the first layer, whose loop begins when the performer presses record,
// and for a boundary the scheduler has already passed.
func (c *Coordinator) ArmImmediate(loop int, at float64, g clock.Grid) (Effects, error) {
	if c.state != StateOff {
		return Effects{}, looperr.Precondition("cannot start recording while %s", c.state)
	}
	var fx Effects
	c.transition(&fx, StateCapturing, at)
	c.begin(&fx, loop, at, g)
	return fx, nil
}

// OnLoopBoundary is called for every loop boundary the timeline reaches, in
// order, before any step of the new loop is scheduled. g is the grid that
// governs the loop starting at this boundary.
func (c *Coordinator) OnLoopBoundary(loop int, at float64, g clock.Grid) Effects {
	var fx Effects
	switch c.state {
	case StateCapturing:
		c.begin(&fx, loop, at, g)
	case StateRecording:
		if loop > c.recLoop {
			fx.Capture = &Capture{
				Loop:  c.recLoop,
				Start: c.recStart,
				End:   at,
				Grid:  c.recGrid,
			}
			c.stopRequested = false
			c.transition(&fx, StateOff, at)
		}
	}
	return fx
}

// RequestStop asks the running recording to end. The capture still closes
// at the next loop boundary so every layer is one loop long.
func (c *Coordinator) RequestStop() error {
	if c.state != StateRecording {
		return looperr.Precondition("cannot stop recording while %s", c.state)
	}
	c.stopRequested = true
	return nil
}

// Cancel abandons an armed capture that has not started recording.
func (c *Coordinator) Cancel(at float64) (Effects, error) {
	if c.state != StateCapturing {
		return Effects{}, looperr.Precondition("cannot cancel capture while %s", c.state)
	}
	var fx Effects
	c.transition(&fx, StateOff, at)
	return fx, nil
}

// Abort drops whatever capture is armed or running without producing a
// layer. It is used when the microphone goes away.
func (c *Coordinator) Abort(at float64) Effects {
	var fx Effects
	if c.state != StateOff {
		c.stopRequested = false
		c.transition(&fx, StateOff, at)
	}
	return fx
}

func (c *Coordinator) begin(fx *Effects, loop int, at float64, g clock.Grid) {
	c.recLoop = loop
	c.recStart = at
	c.recGrid = g
	c.stopRequested = false
	c.transition(fx, StateRecording, at)
}

func (c *Coordinator) transition(fx *Effects, to State, at float64) {
	fx.Transitions = append(fx.Transitions, Transition{From: c.state, To: to, At: at})
	slog.Debug("Recorder transition", "from", c.state, "to", to, "at", at)
	c.state = to
}
