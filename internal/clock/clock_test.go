package clock

import (
	"math"
	"testing"
	"time"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestStepDuration(t *testing.T) {
	tests := []struct {
		bpm  int
		want float64
	}{
		{60, 0.25},
		{120, 0.125},
		{200, 0.075},
	}

	for _, tt := range tests {
		g := Grid{BPM: tt.bpm}
		if got := g.StepDuration(); !almostEqual(got, tt.want) {
			t.Errorf("BPM %d: StepDuration() = %v, want %v", tt.bpm, got, tt.want)
		}
		if got := g.LoopDuration(); !almostEqual(got, 16*tt.want) {
			t.Errorf("BPM %d: LoopDuration() = %v, want %v", tt.bpm, got, 16*tt.want)
		}
	}
}

func TestStepOffset_StraightGrid(t *testing.T) {
	g := Grid{BPM: 120, Swing: 0}

	// Step 4 at 120 BPM lands on the second beat.
	if got := g.StepOffset(4); got != 0.5 {
		t.Errorf("StepOffset(4) = %v, want 0.5", got)
	}
	if got := g.StepOffset(0); got != 0 {
		t.Errorf("StepOffset(0) = %v, want 0", got)
	}
}

func TestStepOffset_Swing(t *testing.T) {
	g := Grid{BPM: 120, Swing: 0.5}
	d := g.StepDuration()

	if got, want := g.StepOffset(1), d+0.5*d; !almostEqual(got, want) {
		t.Errorf("StepOffset(1) = %v, want %v", got, want)
	}
	if got, want := g.StepOffset(2), 2*d; got != want {
		t.Errorf("StepOffset(2) = %v, want %v (even steps are not swung)", got, want)
	}
}

func TestStepOffset_MonotonicAcrossRange(t *testing.T) {
	swings := []float64{0, 0.1, 0.33, 0.5, 0.75, 0.9, math.Nextafter(0.95, 0)}

	for bpm := 60; bpm <= 200; bpm++ {
		for _, swing := range swings {
			g := Grid{BPM: bpm, Swing: swing}
			d := g.StepDuration()
			prev := -1.0
			for n := 0; n < 2*StepsPerLoop; n++ {
				off := g.StepOffset(n)
				if off <= prev {
					t.Fatalf("BPM %d swing %v: step %d at %v not after %v", bpm, swing, n, off, prev)
				}
				if n%2 == 0 && off != float64(n)*d {
					t.Fatalf("BPM %d swing %v: even step %d at %v, want exactly %v", bpm, swing, n, off, float64(n)*d)
				}
				prev = off
			}
		}
	}
}

func TestGridBoundaries(t *testing.T) {
	g := Grid{BPM: 120}

	if got := g.NextLoopBoundary(10, 9); got != 10 {
		t.Errorf("before origin: got %v, want 10", got)
	}
	if got := g.NextLoopBoundary(10, 10); got != 10 {
		t.Errorf("at origin: got %v, want 10", got)
	}
	if got := g.NextLoopBoundary(10, 10.1); !almostEqual(got, 12) {
		t.Errorf("inside first loop: got %v, want 12", got)
	}
	if got := g.NextLoopBoundary(10, 14.5); !almostEqual(got, 16) {
		t.Errorf("inside third loop: got %v, want 16", got)
	}

	if got := g.NextStepBoundary(0, 0.3); !almostEqual(got, 0.375) {
		t.Errorf("NextStepBoundary(0, 0.3) = %v, want 0.375", got)
	}
	if got := g.NextStepBoundary(0, 1.99); !almostEqual(got, 2) {
		t.Errorf("NextStepBoundary(0, 1.99) = %v, want 2", got)
	}
}

func TestToDuration(t *testing.T) {
	if got := ToDuration(0.125); got != 125*time.Millisecond {
		t.Errorf("ToDuration(0.125) = %v, want 125ms", got)
	}
	if got := FromDuration(1500 * time.Millisecond); got != 1.5 {
		t.Errorf("FromDuration(1.5s) = %v, want 1.5", got)
	}
}

func TestTimeline_AdvanceRollsOver(t *testing.T) {
	tl := NewTimeline(Grid{BPM: 120})
	tl.Anchor(1.0)

	var tick Tick
	for i := 0; i < StepsPerLoop; i++ {
		tick = tl.Advance()
	}

	if tick.Loop != 1 || tick.Step != 0 {
		t.Fatalf("after one loop got loop %d step %d, want loop 1 step 0", tick.Loop, tick.Step)
	}
	if !almostEqual(tick.Time, 3.0) {
		t.Errorf("loop 1 starts at %v, want 3.0", tick.Time)
	}
}

func TestTimeline_GridChangeWaitsForBoundary(t *testing.T) {
	tl := NewTimeline(Grid{BPM: 120})
	tl.Anchor(0)

	tl.Advance()
	tl.Advance()
	tl.SetGrid(Grid{BPM: 60})

	// The rest of loop 0 keeps the old step length.
	tick := tl.Advance()
	if !almostEqual(tick.Time, 0.375) {
		t.Errorf("step 3 at %v, want 0.375", tick.Time)
	}
	if tl.Grid().BPM != 120 || tl.NextGrid().BPM != 60 {
		t.Errorf("grid = %d next = %d, want 120 then 60", tl.Grid().BPM, tl.NextGrid().BPM)
	}

	// The boundary after the change is measured with the new grid.
	if got := tl.NextLoopBoundary(2.5); !almostEqual(got, 6.0) {
		t.Errorf("NextLoopBoundary(2.5) = %v, want 6.0", got)
	}

	for tick.Step != 0 {
		tick = tl.Advance()
	}
	if !almostEqual(tick.Time, 2.0) {
		t.Errorf("loop 1 starts at %v, want 2.0", tick.Time)
	}
	if tl.Grid().BPM != 60 {
		t.Errorf("grid after boundary = %d, want 60", tl.Grid().BPM)
	}
	tick = tl.Advance()
	if !almostEqual(tick.Time, 2.25) {
		t.Errorf("loop 1 step 1 at %v, want 2.25", tick.Time)
	}
}

func TestTimeline_SetGridBeforeAnchor(t *testing.T) {
	tl := NewTimeline(Grid{BPM: 120})
	tl.SetGrid(Grid{BPM: 90, Swing: 0.2})

	if tl.Grid().BPM != 90 {
		t.Errorf("unanchored grid should change immediately, got %d", tl.Grid().BPM)
	}
}

func TestTimeline_Realign(t *testing.T) {
	tl := NewTimeline(Grid{BPM: 120})
	tl.Anchor(0)
	for i := 0; i < 5; i++ {
		tl.Advance()
	}

	tick := tl.Realign(0.7)
	if tick.Step != 0 || tick.Loop != 1 || !almostEqual(tick.Time, 2.0) {
		t.Errorf("Realign(0.7) = %+v, want loop 1 step 0 at 2.0", tick)
	}

	// Already waiting on a future step 0.
	if again := tl.Realign(1.5); again != tick {
		t.Errorf("second Realign moved the cursor: %+v", again)
	}

	// Far in the future the loop index skips the missed loops.
	tick = tl.Realign(9.1)
	if tick.Loop != 5 || !almostEqual(tick.Time, 10.0) {
		t.Errorf("Realign(9.1) = %+v, want loop 5 at 10.0", tick)
	}
}

func TestTimeline_RealignUnanchored(t *testing.T) {
	tl := NewTimeline(Grid{BPM: 100})
	tick := tl.Realign(3.25)

	if !tl.Anchored() || tick.Time != 3.25 || tick.Step != 0 {
		t.Errorf("Realign on a fresh timeline = %+v, want anchored at 3.25", tick)
	}
}

func TestTimeline_LongSessionOriginsDoNotAccumulate(t *testing.T) {
	g := Grid{BPM: 97, Swing: 0.3}
	tl := NewTimeline(g)
	tl.Anchor(0.1)

	const loops = 10000
	for i := 0; i < loops*StepsPerLoop; i++ {
		tl.Advance()
	}
	if want := 0.1 + loops*g.LoopDuration(); tl.LoopStart() != want {
		t.Fatalf("LoopStart() after %d loops = %.17g, want %.17g", loops, tl.LoopStart(), want)
	}

	// A tempo change starts a new segment at the boundary it takes over.
	next := Grid{BPM: 133, Swing: 0.3}
	tl.SetGrid(next)
	for i := 0; i < StepsPerLoop; i++ {
		tl.Advance()
	}
	changed := tl.LoopStart()
	if want := 0.1 + (loops+1)*g.LoopDuration(); changed != want {
		t.Fatalf("new grid took over at %.17g, want %.17g", changed, want)
	}
	for i := 0; i < loops*StepsPerLoop; i++ {
		tl.Advance()
	}
	if want := changed + loops*next.LoopDuration(); tl.LoopStart() != want {
		t.Errorf("LoopStart() = %.17g, want %.17g", tl.LoopStart(), want)
	}
	if tick := tl.Peek(); tick.Loop != 2*loops+1 || tick.Step != 0 {
		t.Errorf("cursor at loop %d step %d, want loop %d step 0", tick.Loop, tick.Step, 2*loops+1)
	}
}
