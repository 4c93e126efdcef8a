package clock

import "math"

// Tick is one step position on the audio timeline.
type Tick struct {
	Loop int
	Step int
	Time float64
}

// Timeline is the cursor the scheduler walks step by step. Grid changes are
// held back until the cursor crosses the next loop boundary so a loop is
// never played with two different tempos.
//
// Timeline is not safe for concurrent use; the engine owns it.
type Timeline struct {
	grid     Grid
	pending  *Grid
	origin   float64
	loop     int
	step     int
	anchored bool

	// segOrigin and segLoop mark where the current grid took over; loop
	// origins are measured from there rather than summed loop by loop.
	segOrigin float64
	segLoop   int
}

func NewTimeline(g Grid) *Timeline {
	return &Timeline{grid: g}
}

// Anchored reports whether a loop origin has been established.
func (tl *Timeline) Anchored() bool {
	return tl.anchored
}

// Anchor makes t the start of loop 0. A pending grid takes effect at once
// because no loop is playing under the old one.
func (tl *Timeline) Anchor(t float64) Tick {
	tl.applyPending()
	tl.origin = t
	tl.loop = 0
	tl.step = 0
	tl.anchored = true
	tl.rebase()
	return tl.Peek()
}

// Grid returns the grid governing the current loop.
func (tl *Timeline) Grid() Grid {
	return tl.grid
}

// NextGrid returns the grid that will govern the loop after the current one.
func (tl *Timeline) NextGrid() Grid {
	if tl.pending != nil {
		return *tl.pending
	}
	return tl.grid
}

// SetGrid schedules g for the next loop boundary. Before the timeline is
// anchored the change applies immediately.
func (tl *Timeline) SetGrid(g Grid) {
	if !tl.anchored {
		tl.grid = g
		tl.pending = nil
		return
	}
	if g == tl.grid {
		tl.pending = nil
		return
	}
	tl.pending = &g
}

// Peek returns the tick under the cursor without moving it.
func (tl *Timeline) Peek() Tick {
	return Tick{
		Loop: tl.loop,
		Step: tl.step,
		Time: tl.origin + tl.grid.StepOffset(tl.step),
	}
}

// Advance moves the cursor one step forward, rolling over into the next
// loop after the last step.
func (tl *Timeline) Advance() Tick {
	tl.step++
	if tl.step == StepsPerLoop {
		tl.loop++
		tl.origin = tl.segOrigin + float64(tl.loop-tl.segLoop)*tl.grid.LoopDuration()
		tl.step = 0
		if tl.applyPending() {
			tl.rebase()
		}
	}
	return tl.Peek()
}

// LoopStart is the start time of the loop under the cursor.
func (tl *Timeline) LoopStart() float64 {
	return tl.origin
}

// LoopEnd is the boundary that ends the loop under the cursor.
func (tl *Timeline) LoopEnd() float64 {
	return tl.origin + tl.grid.LoopDuration()
}

// NextLoopBoundary returns the first loop boundary at or after now. Loops
// past the current one are measured with the grid that will govern them.
func (tl *Timeline) NextLoopBoundary(now float64) float64 {
	if now <= tl.origin {
		return tl.origin
	}
	end := tl.LoopEnd()
	if now <= end {
		return end
	}
	return tl.NextGrid().NextLoopBoundary(end, now)
}

// NextStepBoundary returns the first step boundary at or after now.
func (tl *Timeline) NextStepBoundary(now float64) float64 {
	end := tl.LoopEnd()
	if now <= end {
		return tl.grid.NextStepBoundary(tl.origin, now)
	}
	return tl.NextGrid().NextStepBoundary(end, now)
}

// Realign moves the cursor to step 0 of the first loop starting at or after
// now. A cursor already waiting on a future step 0 is left alone.
func (tl *Timeline) Realign(now float64) Tick {
	if !tl.anchored {
		return tl.Anchor(now)
	}
	if tl.step == 0 && tl.origin >= now {
		return tl.Peek()
	}

	t := tl.NextLoopBoundary(now)
	end := tl.LoopEnd()
	if t <= tl.origin {
		t = end
	}

	tl.loop++
	tl.applyPending()
	if t > end {
		tl.loop += int(math.Round((t - end) / tl.grid.LoopDuration()))
	}
	tl.origin = t
	tl.step = 0
	tl.rebase()
	return tl.Peek()
}

func (tl *Timeline) applyPending() bool {
	if tl.pending == nil {
		return false
	}
	tl.grid = *tl.pending
	tl.pending = nil
	return true
}

func (tl *Timeline) rebase() {
	tl.segOrigin = tl.origin
	tl.segLoop = tl.loop
}
