package engine

import (
	"log/slog"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/audiolibrelab/jamloop/internal/recorder"
)

// EventKind says which part of the engine changed.
type EventKind string

const (
	EventTransport     EventKind = "transport"
	EventMicrophone    EventKind = "microphone"
	EventRecorder      EventKind = "recorder"
	EventLayerAdded    EventKind = "layer_added"
	EventLayersChanged EventKind = "layers_changed"
)

// Event is a change notification for observers such as a UI.
type Event struct {
	Kind EventKind
	At   float64

	Transport     Transport
	Microphone    mic.State
	Recorder      recorder.State
	StopRequested bool
	LayerID       layer.ID
	Layers        int
}

// Status is a consistent copy of the engine state.
type Status struct {
	Transport Transport
	NextBPM   int
	NextSwing float64

	Microphone    mic.State
	Recorder      recorder.State
	Capturing     bool
	Recording     bool
	StopRequested bool

	Anchored  bool
	Cursor    clock.Tick
	LoopStart float64
	LoopEnd   float64

	Layers layer.Snapshot
}

// Status returns the current engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.timeline.NextGrid()
	state := e.rec.State()
	return Status{
		Transport:     e.transport,
		NextBPM:       next.BPM,
		NextSwing:     next.Swing,
		Microphone:    e.mic.State(),
		Recorder:      state,
		Capturing:     state == recorder.StateCapturing,
		Recording:     state == recorder.StateRecording,
		StopRequested: e.rec.StopRequested(),
		Anchored:      e.timeline.Anchored(),
		Cursor:        e.timeline.Peek(),
		LoopStart:     e.timeline.LoopStart(),
		LoopEnd:       e.timeline.LoopEnd(),
		Layers:        e.layers.Snapshot(),
	}
}

// Subscribe returns a channel receiving engine events. Events are dropped
// for a subscriber whose buffer is full. Call the returned function to stop
// receiving; it closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	e.subsMu.Lock()
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	var once bool
	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(e.subs, ch)
		close(ch)
	}
}

func (e *Engine) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for _, ev := range events {
		for ch := range e.subs {
			select {
			case ch <- ev:
			default:
				slog.Debug("Subscriber full, event dropped", "kind", ev.Kind)
			}
		}
	}
}

func (e *Engine) micEvent(now float64) Event {
	return Event{Kind: EventMicrophone, At: now, Microphone: e.mic.State()}
}

func (e *Engine) transportEvent(now float64) Event {
	return Event{Kind: EventTransport, At: now, Transport: e.transport}
}

func (e *Engine) layerEvent(kind EventKind, id layer.ID, at float64) Event {
	n := e.layers.Len()
	e.metrics.Layers.Set(float64(n))
	return Event{Kind: kind, At: at, LayerID: id, Layers: n}
}

func (e *Engine) recorderEvents(fx recorder.Effects) []Event {
	events := make([]Event, 0, len(fx.Transitions))
	for _, tr := range fx.Transitions {
		e.metrics.RecorderTransitions.WithLabelValues(string(tr.To)).Inc()
		switch tr.To {
		case recorder.StateRecording:
			slog.Info("Recording started", "at", tr.At)
		case recorder.StateOff:
			slog.Info("Recorder idle", "from", tr.From, "at", tr.At)
		}
		events = append(events, Event{Kind: EventRecorder, At: tr.At, Recorder: tr.To})
	}
	return events
}
