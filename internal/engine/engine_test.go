package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/command"
	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/looperr"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/audiolibrelab/jamloop/internal/recorder"
	"github.com/audiolibrelab/jamloop/internal/sequencer"
	"github.com/gopxl/beep"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var testFormat = beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}

// fixedRand returns the same value forever.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type testEngine struct {
	*Engine
	now  float64
	sink *sequencer.Collector
}

func newTestEngine(t *testing.T, opts Options) *testEngine {
	t.Helper()
	te := &testEngine{sink: &sequencer.Collector{}}
	opts.Now = func() float64 { return te.now }
	opts.Sink = te.sink
	if opts.Lookahead == 0 {
		opts.Lookahead = 100 * time.Millisecond
	}
	if opts.Rand == nil {
		opts.Rand = fixedRand(0)
	}
	if opts.NoteProbability == 0 {
		opts.NoteProbability = layer.DefaultNoteProbability
	}
	te.Engine = New(opts)
	return te
}

func (te *testEngine) dispatch(t *testing.T, cmd command.Command) {
	t.Helper()
	if err := te.Dispatch(cmd); err != nil {
		t.Fatalf("Dispatch(%s) failed: %v", cmd.Name(), err)
	}
}

func (te *testEngine) enableMic(t *testing.T) {
	t.Helper()
	te.dispatch(t, command.RequestMicrophone{})
	te.dispatch(t, command.MicrophoneEnabled{Handle: mic.Handle{Streamer: beep.Silence(-1), Format: testFormat}})
}

// advanceTo walks the scheduler in small increments, the way Run would.
func (te *testEngine) advanceTo(until float64) {
	te.Advance(te.now)
	for te.now < until {
		te.now = math.Min(te.now+0.025, until)
		te.Advance(te.now)
	}
}

func allNotes() layer.Notes {
	var n layer.Notes
	for i := range n {
		n[i] = true
	}
	return n
}

func TestEngine_FirstLayerRecordsImmediately(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.enableMic(t)

	te.now = 1.0
	te.dispatch(t, command.StartRecording{})

	st := te.Status()
	if !st.Recording || st.Recorder != recorder.StateRecording {
		t.Fatalf("first recording should start at once, got %s", st.Recorder)
	}
	if st.LoopStart != 1.0 {
		t.Errorf("loop 0 starts at %v, want 1.0", st.LoopStart)
	}

	te.advanceTo(2.8)
	if n := len(te.Layers()); n != 0 {
		t.Fatalf("layer created before the loop ended: %d", n)
	}

	te.advanceTo(3.0)
	layers := te.Layers()
	if len(layers) != 1 {
		t.Fatalf("expected one layer after a full loop, got %d", len(layers))
	}
	if want := testFormat.SampleRate.N(2 * time.Second); layers[0].Frames() != want {
		t.Errorf("layer holds %d frames, want %d", layers[0].Frames(), want)
	}
	if te.Status().Recorder != recorder.StateOff {
		t.Errorf("recorder should be OFF after finalizing")
	}
	if got := testutil.ToFloat64(te.Metrics().RecordingsCompleted); got != 1 {
		t.Errorf("recordings_completed_total = %v, want 1", got)
	}
}

func TestEngine_ArmedMidLoopRecordsOneLoop(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120, Swing: 0.4})
	te.enableMic(t)
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})

	te.advanceTo(0.9)
	te.dispatch(t, command.StartRecording{})
	if st := te.Status(); !st.Capturing {
		t.Fatalf("recording armed mid-loop should be CAPTURING, got %s", st.Recorder)
	}

	te.advanceTo(1.85)
	if te.Status().Recorder != recorder.StateCapturing {
		t.Fatalf("recording began before the loop boundary")
	}
	te.advanceTo(2.0)
	if te.Status().Recorder != recorder.StateRecording {
		t.Fatalf("recording did not begin at the boundary")
	}

	te.advanceTo(4.0)
	layers := te.Layers()
	if len(layers) != 2 {
		t.Fatalf("expected two layers, got %d", len(layers))
	}
	window := clock.Grid{BPM: 120, Swing: 0.4}.LoopDuration()
	if want := recorder.Frames(testFormat.SampleRate, window); layers[1].Frames() != want {
		t.Errorf("recorded layer holds %d frames, want %d", layers[1].Frames(), want)
	}
}

func TestEngine_ArmedInsideLookaheadStartsAtThatBoundary(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.enableMic(t)
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	events, unsubscribe := te.Subscribe(64)
	defer unsubscribe()

	// With 100ms of lookahead, step 0 of loop 1 (2.0s) is already scheduled.
	te.advanceTo(1.95)
	te.dispatch(t, command.StartRecording{})
	if st := te.Status(); st.Recorder != recorder.StateRecording {
		t.Fatalf("recorder is %s, want RECORDING from the scheduled boundary", st.Recorder)
	}

	te.advanceTo(2.05)
	if te.Status().Recorder != recorder.StateRecording {
		t.Fatalf("recorder is %s at 2.05s, want RECORDING", te.Status().Recorder)
	}

	te.advanceTo(3.85)
	if len(te.Layers()) != 1 {
		t.Fatalf("layer finished before the loop ended")
	}
	te.advanceTo(4.0)
	layers := te.Layers()
	if len(layers) != 2 {
		t.Fatalf("expected two layers at 4.0s, got %d", len(layers))
	}
	if want := recorder.Frames(testFormat.SampleRate, 2.0); layers[1].Frames() != want {
		t.Errorf("recorded layer holds %d frames, want %d", layers[1].Frames(), want)
	}

	var started, stopped []float64
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Kind != EventRecorder {
				continue
			}
			switch ev.Recorder {
			case recorder.StateRecording:
				started = append(started, ev.At)
			case recorder.StateOff:
				stopped = append(stopped, ev.At)
			}
		default:
			done = true
		}
	}
	if len(started) != 1 || started[0] != 2.0 {
		t.Errorf("recording started at %v, want [2]", started)
	}
	if len(stopped) != 1 || stopped[0] != 4.0 {
		t.Errorf("recording stopped at %v, want [4]", stopped)
	}
}

func TestEngine_StartRecordingWhileRecordingIsRejected(t *testing.T) {
	te := newTestEngine(t, Options{})
	te.enableMic(t)
	te.dispatch(t, command.StartRecording{})

	err := te.Dispatch(command.StartRecording{})
	if !looperr.IsPrecondition(err) {
		t.Fatalf("second StartRecording: got %v, want precondition violation", err)
	}
	if te.Status().Recorder != recorder.StateRecording {
		t.Errorf("rejected command changed the recorder state")
	}
	if len(te.Layers()) != 0 {
		t.Errorf("rejected command created a layer")
	}
	rejected := te.Metrics().CommandsRejected.WithLabelValues("start_recording", "precondition")
	if got := testutil.ToFloat64(rejected); got != 1 {
		t.Errorf("commands_rejected_total = %v, want 1", got)
	}
}

func TestEngine_StartRecordingNeedsMicrophone(t *testing.T) {
	te := newTestEngine(t, Options{})

	err := te.Dispatch(command.StartRecording{})
	if !errors.Is(err, mic.ErrMicrophoneNotEnabled) && !looperr.IsPrecondition(err) {
		t.Fatalf("got %v, want microphone precondition violation", err)
	}
	if st := te.Status(); st.Recorder != recorder.StateOff || st.Anchored {
		t.Errorf("rejected command changed state: %+v", st)
	}
}

func TestEngine_MutedLayerGetsNoTriggers(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.SetLayerMuted{ID: 1, Muted: true})
	te.dispatch(t, command.StartPlayback{})

	te.advanceTo(2.0)

	counts := map[layer.ID]int{}
	for _, tr := range te.sink.Triggers() {
		counts[tr.LayerID]++
	}
	if counts[1] != 0 {
		t.Errorf("muted layer got %d triggers", counts[1])
	}
	if counts[2] < clock.StepsPerLoop {
		t.Errorf("active layer got %d triggers over a loop, want at least %d", counts[2], clock.StepsPerLoop)
	}
}

func TestEngine_LayersSharePhase(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 133, Swing: 0.3})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	te.advanceTo(4.0)

	byStep := map[[2]int][]float64{}
	for _, tr := range te.sink.Triggers() {
		key := [2]int{tr.Loop, tr.Step}
		byStep[key] = append(byStep[key], tr.Time)
	}
	if len(byStep) == 0 {
		t.Fatal("no triggers scheduled")
	}
	for key, times := range byStep {
		if len(times) != 2 {
			t.Errorf("loop %d step %d: %d triggers, want 2", key[0], key[1], len(times))
			continue
		}
		if times[0] != times[1] {
			t.Errorf("loop %d step %d: layers at %v and %v", key[0], key[1], times[0], times[1])
		}
	}
}

func TestEngine_SetBPMClamps(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{50, 60},
		{60, 60},
		{137, 137},
		{500, 200},
	}

	te := newTestEngine(t, Options{})
	for _, tt := range tests {
		te.dispatch(t, command.SetBPM{BPM: tt.in})
		if got := te.Status().Transport.BPM; got != tt.want {
			t.Errorf("SetBPM(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEngine_SwingAndVolumeRanges(t *testing.T) {
	te := newTestEngine(t, Options{})

	te.dispatch(t, command.SetSwing{Swing: 1.2})
	if got := te.Status().Transport.Swing; got >= SwingLimit || got < 0.94 {
		t.Errorf("swing clamped to %v, want just below %v", got, SwingLimit)
	}
	te.dispatch(t, command.SetSwing{Swing: -1})
	if got := te.Status().Transport.Swing; got != 0 {
		t.Errorf("negative swing clamped to %v, want 0", got)
	}
	if err := te.Dispatch(command.SetSwing{Swing: math.NaN()}); !looperr.IsRange(err) {
		t.Errorf("NaN swing: got %v, want range violation", err)
	}

	te.dispatch(t, command.SetVolume{Volume: 3})
	if got := te.Status().Transport.Volume; got != 1 {
		t.Errorf("volume clamped to %v, want 1", got)
	}
	if err := te.Dispatch(command.SetVolume{Volume: math.NaN()}); !looperr.IsRange(err) {
		t.Errorf("NaN volume: got %v, want range violation", err)
	}
}

func TestEngine_BPMChangeWaitsForBoundary(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	te.advanceTo(0.5)

	te.dispatch(t, command.SetBPM{BPM: 60})
	st := te.Status()
	if st.NextBPM != 60 {
		t.Errorf("next loop BPM = %d, want 60", st.NextBPM)
	}

	te.advanceTo(2.3)

	want := map[[2]int]float64{
		{0, 15}: 1.875,
		{1, 0}:  2.0,
		{1, 1}:  2.25,
	}
	for _, tr := range te.sink.Triggers() {
		key := [2]int{tr.Loop, tr.Step}
		if w, ok := want[key]; ok {
			if math.Abs(tr.Time-w) > 1e-9 {
				t.Errorf("loop %d step %d at %v, want %v", key[0], key[1], tr.Time, w)
			}
			delete(want, key)
		}
	}
	for key := range want {
		t.Errorf("no trigger for loop %d step %d", key[0], key[1])
	}
}

func TestEngine_StopPlaybackCancelsPending(t *testing.T) {
	te := newTestEngine(t, Options{})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	te.advanceTo(1.0)

	te.dispatch(t, command.StopPlayback{})
	if te.sink.Cancels() != 1 {
		t.Errorf("sink cancelled %d times, want 1", te.sink.Cancels())
	}
	cursor := te.Status().Cursor

	te.advanceTo(3.0)
	if n := len(te.sink.Triggers()); n != 0 {
		t.Errorf("%d triggers scheduled after stop", n)
	}
	if te.Status().Cursor != cursor {
		t.Errorf("cursor moved while stopped")
	}
}

func TestEngine_StartPlaybackRealignsToBoundary(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	te.advanceTo(0.6)
	te.dispatch(t, command.StopPlayback{})

	te.now = 5.3
	te.dispatch(t, command.StartPlayback{})
	cursor := te.Status().Cursor
	if cursor.Step != 0 || cursor.Time != 6.0 {
		t.Errorf("playback resumes at %+v, want step 0 at 6.0", cursor)
	}
}

func TestEngine_TriggersCarryVolume(t *testing.T) {
	te := newTestEngine(t, Options{Volume: 0.5})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	te.advanceTo(0.3)

	triggers := te.sink.Triggers()
	if len(triggers) == 0 {
		t.Fatal("no triggers scheduled")
	}
	for _, tr := range triggers {
		if tr.Gain != 0.5 {
			t.Errorf("trigger gain %v, want 0.5", tr.Gain)
		}
	}
	if got := testutil.ToFloat64(te.Metrics().TriggersScheduled); got != float64(len(triggers)) {
		t.Errorf("triggers_scheduled_total = %v, want %d", got, len(triggers))
	}
}

func TestEngine_LateStepsAreDropped(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})

	te.now = 1.0
	if n := te.Advance(1.0); n != 1 {
		t.Errorf("scheduled %d triggers, want only the step at 1.0", n)
	}
	if got := testutil.ToFloat64(te.Metrics().StepsLate); got != 8 {
		t.Errorf("steps_late_total = %v, want 8", got)
	}
}

func TestEngine_SetLayerNote(t *testing.T) {
	te := newTestEngine(t, Options{})
	te.dispatch(t, command.AddLayer{})

	te.dispatch(t, command.SetLayerNote{ID: 1, Index: 4, Value: true})
	if l, _ := te.Layers().Find(1); !l.Notes[4] {
		t.Errorf("step 4 not enabled")
	}

	for _, index := range []int{-1, 16} {
		err := te.Dispatch(command.SetLayerNote{ID: 1, Index: index, Value: true})
		if !looperr.IsRange(err) {
			t.Errorf("SetLayerNote(index=%d): got %v, want range violation", index, err)
		}
	}
	if l, _ := te.Layers().Find(1); l.Notes.Count() != 1 {
		t.Errorf("rejected edits changed the pattern: %v", l.Notes)
	}

	// Unknown ids are a silent no-op.
	if err := te.Dispatch(command.SetLayerNote{ID: 99, Index: 0, Value: true}); err != nil {
		t.Errorf("SetLayerNote on unknown id: %v", err)
	}
}

func TestEngine_RemoveAllThenAddIssuesFreshID(t *testing.T) {
	te := newTestEngine(t, Options{})
	te.dispatch(t, command.AddLayer{})
	te.dispatch(t, command.AddLayer{})
	te.dispatch(t, command.RemoveAllLayers{})
	te.dispatch(t, command.AddLayer{})

	layers := te.Layers()
	if len(layers) != 1 || layers[0].ID != 3 {
		t.Errorf("expected one layer with id 3, got %+v", layers)
	}
	if got := testutil.ToFloat64(te.Metrics().Layers); got != 1 {
		t.Errorf("layers gauge = %v, want 1", got)
	}
}

func TestEngine_CancelCapture(t *testing.T) {
	te := newTestEngine(t, Options{})
	te.enableMic(t)
	te.dispatch(t, command.AddLayer{Notes: allNotes()})
	te.dispatch(t, command.StartPlayback{})
	te.advanceTo(0.5)

	te.dispatch(t, command.StartRecording{})
	te.dispatch(t, command.CancelCapture{})
	if te.Status().Recorder != recorder.StateOff {
		t.Fatalf("cancel did not return the recorder to OFF")
	}

	te.advanceTo(4.5)
	if n := len(te.Layers()); n != 1 {
		t.Errorf("cancelled capture produced a layer (%d layers)", n)
	}
	if err := te.Dispatch(command.CancelCapture{}); !looperr.IsPrecondition(err) {
		t.Errorf("CancelCapture while OFF: got %v, want precondition violation", err)
	}
}

func TestEngine_MicrophoneDisabledDropsRecording(t *testing.T) {
	te := newTestEngine(t, Options{})
	te.enableMic(t)
	te.dispatch(t, command.StartRecording{})

	te.dispatch(t, command.MicrophoneDisabled{})
	st := te.Status()
	if st.Microphone != mic.StateDisabled || st.Recorder != recorder.StateOff {
		t.Errorf("unexpected state after mic loss: mic=%s recorder=%s", st.Microphone, st.Recorder)
	}

	te.advanceTo(3.0)
	if len(te.Layers()) != 0 {
		t.Errorf("dropped recording produced a layer")
	}
}

func TestEngine_StopRecordingFinalizesAtBoundary(t *testing.T) {
	te := newTestEngine(t, Options{BPM: 120})
	te.enableMic(t)
	te.dispatch(t, command.StartRecording{})

	if err := te.Dispatch(command.StopRecording{}); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if st := te.Status(); !st.StopRequested || !st.Recording {
		t.Errorf("stop should be pending until the boundary: %+v", st)
	}

	te.advanceTo(2.0)
	if len(te.Layers()) != 1 {
		t.Errorf("recording was not finalized at the loop boundary")
	}
	if err := te.Dispatch(command.StopRecording{}); !looperr.IsPrecondition(err) {
		t.Errorf("StopRecording while OFF: got %v, want precondition violation", err)
	}
}

func TestEngine_Subscribe(t *testing.T) {
	te := newTestEngine(t, Options{})
	events, unsubscribe := te.Subscribe(8)

	te.dispatch(t, command.AddLayer{})
	select {
	case ev := <-events:
		if ev.Kind != EventLayerAdded || ev.LayerID != 1 || ev.Layers != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("no event delivered")
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Errorf("channel still open after unsubscribe")
	}
	te.dispatch(t, command.AddLayer{})
}

func TestEngine_RunCancelsSinkOnExit(t *testing.T) {
	te := newTestEngine(t, Options{TickInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- te.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if te.sink.Cancels() != 1 {
		t.Errorf("sink cancelled %d times, want 1", te.sink.Cancels())
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Transport.BPM = 90
	opts := OptionsFromConfig(cfg)

	e := New(opts)
	st := e.Status()
	if st.Transport.BPM != 90 || st.Transport.Volume != cfg.Transport.Volume {
		t.Errorf("unexpected transport: %+v", st.Transport)
	}
	if opts.Lookahead != 100*time.Millisecond || opts.NoteProbability != layer.DefaultNoteProbability {
		t.Errorf("unexpected options: %+v", opts)
	}
}
