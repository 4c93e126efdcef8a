// Package sequencer turns the layer patterns into trigger events on the
// audio timeline and delivers them to an output.
package sequencer

import (
	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/layer"
)

// Trigger asks the renderer to start playing a layer's buffer at Time.
// Gain is the master volume in effect when the trigger was scheduled.
type Trigger struct {
	LayerID layer.ID
	Loop    int
	Step    int
	Time    float64
	Gain    float64
}

// Sink receives scheduled triggers. Schedule must not block; Cancel drops
// every trigger that has not been rendered yet.
type Sink interface {
	Schedule(tr Trigger)
	Cancel()
}

// Triggers returns one trigger per non-muted layer whose pattern is active
// at tick.Step. Every trigger of a tick shares the tick's timestamp. Gain is
// left for the caller to fill.
func Triggers(snap layer.Snapshot, tick clock.Tick) []Trigger {
	if tick.Step < 0 || tick.Step >= clock.StepsPerLoop {
		return nil
	}
	var out []Trigger
	for _, l := range snap {
		if l.Muted || !l.Notes[tick.Step] {
			continue
		}
		out = append(out, Trigger{
			LayerID: l.ID,
			Loop:    tick.Loop,
			Step:    tick.Step,
			Time:    tick.Time,
		})
	}
	return out
}
