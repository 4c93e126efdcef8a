// Package engine ties the clock, microphone, recorder, layer registry and
// sequencer to one timeline and applies commands to them.
package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/command"
	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/looperr"
	"github.com/audiolibrelab/jamloop/internal/metrics"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/audiolibrelab/jamloop/internal/recorder"
	"github.com/audiolibrelab/jamloop/internal/sequencer"
)

// Options configures an Engine. A zero tempo, tempo range or duration
// falls back to the built-in configuration.
type Options struct {
	BPM    int
	Swing  float64
	Volume float64

	BPMMin int
	BPMMax int

	Lookahead    time.Duration
	TickInterval time.Duration

	// NoteProbability is used as given; zero leaves new layers silent.
	NoteProbability float64

	// Now reads the audio timeline in seconds.
	Now     func() float64
	Rand    layer.RandSource
	Sink    sequencer.Sink
	Metrics *metrics.Metrics
}

// OptionsFromConfig builds engine options from a resolved configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BPM:             cfg.Transport.BPM,
		Swing:           cfg.Transport.Swing,
		Volume:          cfg.Transport.Volume,
		BPMMin:          cfg.Transport.BPMMin,
		BPMMax:          cfg.Transport.BPMMax,
		Lookahead:       cfg.Lookahead(),
		TickInterval:    cfg.TickInterval(),
		NoteProbability: cfg.Recorder.NoteProbability,
		Rand:            rand.New(rand.NewSource(cfg.Recorder.Seed)),
	}
}

// Engine is the looper core. All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	transport Transport
	bpmMin    int
	bpmMax    int

	lookahead time.Duration
	interval  time.Duration
	noteProb  float64

	now      func() float64
	rng      layer.RandSource
	sink     sequencer.Sink
	metrics  *metrics.Metrics
	timeline *clock.Timeline
	mic      *mic.Gate
	rec      *recorder.Coordinator
	layers   *layer.Registry

	wake chan struct{}

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// New creates an engine with playback stopped and no layers.
func New(opts Options) *Engine {
	def := config.Defaults()
	if opts.BPMMin == 0 {
		opts.BPMMin = def.Transport.BPMMin
	}
	if opts.BPMMax == 0 {
		opts.BPMMax = def.Transport.BPMMax
	}
	if opts.BPM == 0 {
		opts.BPM = def.Transport.BPM
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = def.Lookahead()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval()
	}
	if opts.Now == nil {
		opts.Now = clock.Wall()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Sink == nil {
		opts.Sink = &sequencer.Collector{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	swing, err := ClampSwing(opts.Swing)
	if err != nil {
		swing = 0
	}
	volume, err := ClampVolume(opts.Volume)
	if err != nil {
		volume = def.Transport.Volume
	}

	e := &Engine{
		transport: Transport{
			BPM:    ClampBPM(opts.BPM, opts.BPMMin, opts.BPMMax),
			Swing:  swing,
			Volume: volume,
		},
		bpmMin:    opts.BPMMin,
		bpmMax:    opts.BPMMax,
		lookahead: opts.Lookahead,
		interval:  opts.TickInterval,
		noteProb:  opts.NoteProbability,
		now:       opts.Now,
		rng:       opts.Rand,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
		mic:       mic.NewGate(),
		rec:       recorder.NewCoordinator(),
		layers:    layer.NewRegistry(),
		wake:      make(chan struct{}, 1),
		subs:      make(map[chan Event]struct{}),
	}
	e.timeline = clock.NewTimeline(e.transport.Grid())
	e.metrics.BPM.Set(float64(e.transport.BPM))
	return e
}

// Now returns the current audio timeline position.
func (e *Engine) Now() float64 {
	return e.now()
}

// Metrics returns the collectors the engine reports to.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Layers returns the current registry snapshot.
func (e *Engine) Layers() layer.Snapshot {
	return e.layers.Snapshot()
}

// Dispatch applies one command. A rejected command leaves every state
// untouched and returns a tagged error.
func (e *Engine) Dispatch(cmd command.Command) error {
	e.mu.Lock()
	events, err := e.apply(cmd, e.now())
	e.mu.Unlock()

	if err != nil {
		kind := looperr.KindOf(err)
		e.metrics.CommandsRejected.WithLabelValues(cmd.Name(), kind).Inc()
		slog.Debug("Command declined", "command", cmd.Name(), "kind", kind, "error", err)
		return err
	}

	slog.Debug("Command applied", "command", cmd.Name())
	e.publish(events)
	e.interrupt()
	return nil
}

func (e *Engine) apply(cmd command.Command, now float64) ([]Event, error) {
	switch c := cmd.(type) {
	case command.RequestMicrophone:
		if err := e.mic.Request(); err != nil {
			return nil, err
		}
		return []Event{e.micEvent(now)}, nil

	case command.MicrophoneEnabled:
		if err := e.mic.Enable(c.Handle); err != nil {
			return nil, err
		}
		return []Event{e.micEvent(now)}, nil

	case command.MicrophoneDisabled:
		e.mic.Disable()
		events := []Event{e.micEvent(now)}
		if fx := e.rec.Abort(now); len(fx.Transitions) > 0 {
			slog.Warn("Microphone disabled during capture, recording dropped")
			events = append(events, e.recorderEvents(fx)...)
		}
		return events, nil

	case command.MicrophoneRetry:
		if err := e.mic.Retry(); err != nil {
			return nil, err
		}
		return []Event{e.micEvent(now)}, nil

	case command.StartRecording:
		return e.startRecording(now)

	case command.StopRecording:
		if err := e.rec.RequestStop(); err != nil {
			return nil, err
		}
		slog.Info("Recording will stop at the next loop boundary")
		return []Event{{Kind: EventRecorder, At: now, Recorder: e.rec.State(), StopRequested: true}}, nil

	case command.CancelCapture:
		fx, err := e.rec.Cancel(now)
		if err != nil {
			return nil, err
		}
		return e.recorderEvents(fx), nil

	case command.StartPlayback:
		if e.transport.Playing {
			return nil, nil
		}
		switch {
		case !e.timeline.Anchored():
			e.timeline.Anchor(now)
		case !e.rec.Active():
			e.timeline.Realign(now)
		}
		e.transport.Playing = true
		e.metrics.SetPlaying(true)
		tick := e.timeline.Peek()
		slog.Info("Playback started", "loop", tick.Loop, "at", tick.Time)
		return []Event{e.transportEvent(now)}, nil

	case command.StopPlayback:
		if !e.transport.Playing {
			return nil, nil
		}
		e.transport.Playing = false
		e.metrics.SetPlaying(false)
		e.sink.Cancel()
		slog.Info("Playback stopped")
		return []Event{e.transportEvent(now)}, nil

	case command.SetBPM:
		e.transport.BPM = ClampBPM(c.BPM, e.bpmMin, e.bpmMax)
		e.timeline.SetGrid(e.transport.Grid())
		e.metrics.BPM.Set(float64(e.transport.BPM))
		return []Event{e.transportEvent(now)}, nil

	case command.SetSwing:
		swing, err := ClampSwing(c.Swing)
		if err != nil {
			return nil, err
		}
		e.transport.Swing = swing
		e.timeline.SetGrid(e.transport.Grid())
		return []Event{e.transportEvent(now)}, nil

	case command.SetVolume:
		volume, err := ClampVolume(c.Volume)
		if err != nil {
			return nil, err
		}
		e.transport.Volume = volume
		return []Event{e.transportEvent(now)}, nil

	case command.AddLayer:
		id := e.layers.Add(c.Buffer, c.Notes)
		return []Event{e.layerEvent(EventLayerAdded, id, now)}, nil

	case command.RemoveLayer:
		if !e.layers.Remove(c.ID) {
			return nil, nil
		}
		return []Event{e.layerEvent(EventLayersChanged, c.ID, now)}, nil

	case command.RemoveAllLayers:
		if e.layers.RemoveAll() == 0 {
			return nil, nil
		}
		return []Event{e.layerEvent(EventLayersChanged, 0, now)}, nil

	case command.SetLayerMuted:
		if !e.layers.SetMuted(c.ID, c.Muted) {
			return nil, nil
		}
		return []Event{e.layerEvent(EventLayersChanged, c.ID, now)}, nil

	case command.SetLayerNote:
		changed, err := e.layers.SetNote(c.ID, c.Index, c.Value)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
		return []Event{e.layerEvent(EventLayersChanged, c.ID, now)}, nil
	}

	return nil, looperr.Range("unsupported command %T", cmd)
}

func (e *Engine) startRecording(now float64) ([]Event, error) {
	if _, err := e.mic.Handle(); err != nil {
		return nil, err
	}
	if e.rec.Active() {
		return nil, looperr.Precondition("cannot start recording while %s", e.rec.State())
	}

	var fx recorder.Effects
	if e.layers.Len() == 0 {
		// No loop exists yet: this press defines where loop 0 starts.
		tick := e.timeline.Anchor(now)
		var err error
		if fx, err = e.rec.ArmImmediate(tick.Loop, tick.Time, e.timeline.Grid()); err != nil {
			return nil, err
		}
		slog.Info("Recording first loop", "at", now, "bpm", e.timeline.Grid().BPM)
	} else {
		if !e.transport.Playing {
			e.timeline.Realign(now)
		}
		var err error
		if tick := e.timeline.Peek(); tick.Step > 0 && e.timeline.LoopStart() >= now {
			// The lookahead already walked past the coming boundary, so the
			// recorder would not hear of it until the loop after.
			start := e.timeline.LoopStart()
			if fx, err = e.rec.ArmImmediate(tick.Loop, start, e.timeline.Grid()); err != nil {
				return nil, err
			}
			slog.Info("Recording armed", "boundary", start, "scheduled", true)
		} else {
			if fx, err = e.rec.Arm(now); err != nil {
				return nil, err
			}
			slog.Info("Recording armed", "boundary", e.timeline.NextLoopBoundary(now))
		}
	}
	return e.recorderEvents(fx), nil
}

// Advance schedules every step whose time falls before now plus the
// lookahead. Loop boundaries reached on the way drive the recorder first,
// so a layer finished at a boundary already plays on that boundary's step.
// It returns the number of triggers handed to the sink.
func (e *Engine) Advance(now float64) int {
	e.mu.Lock()
	var events []Event
	scheduled, late := e.advance(now, &events)
	e.mu.Unlock()

	if late > 0 {
		slog.Warn("Scheduler fell behind, steps dropped", "steps", late, "now", now)
	}
	e.publish(events)
	return scheduled
}

func (e *Engine) advance(now float64, events *[]Event) (scheduled, late int) {
	if !e.timeline.Anchored() {
		return 0, 0
	}
	horizon := now + e.lookahead.Seconds()

	for e.transport.Playing || e.rec.Active() {
		tick := e.timeline.Peek()
		if tick.Time >= horizon {
			break
		}

		if tick.Step == 0 {
			*events = append(*events, e.onLoopBoundary(tick)...)
		}

		if e.transport.Playing {
			if tick.Time < now {
				late++
				e.metrics.StepsLate.Inc()
			} else {
				for _, tr := range sequencer.Triggers(e.layers.Snapshot(), tick) {
					tr.Gain = e.transport.Volume
					e.sink.Schedule(tr)
					scheduled++
				}
			}
		}

		e.timeline.Advance()
	}

	if scheduled > 0 {
		e.metrics.TriggersScheduled.Add(float64(scheduled))
	}
	return scheduled, late
}

func (e *Engine) onLoopBoundary(tick clock.Tick) []Event {
	fx := e.rec.OnLoopBoundary(tick.Loop, tick.Time, e.timeline.Grid())
	events := e.recorderEvents(fx)
	if fx.Capture == nil {
		return events
	}

	id, err := e.finalize(*fx.Capture)
	if err != nil {
		slog.Error("Failed to finalize recording", "loop", fx.Capture.Loop, "error", err)
		return events
	}
	return append(events, e.layerEvent(EventLayerAdded, id, tick.Time))
}

func (e *Engine) finalize(c recorder.Capture) (layer.ID, error) {
	h, err := e.mic.Handle()
	if err != nil {
		return 0, err
	}
	buf, err := recorder.ReadWindow(h, c.Window())
	if err != nil {
		return 0, err
	}

	notes := layer.RandomPattern(e.rng, e.noteProb)
	id := e.layers.Add(buf, notes)

	e.metrics.RecordingsCompleted.Inc()
	slog.Info("Layer recorded",
		"layer_id", id,
		"loop", c.Loop,
		"seconds", c.Window(),
		"frames", buf.Len(),
		"notes", notes.Count())
	return id, nil
}

// Run advances the engine every tick interval until ctx is done. Pending
// triggers are cancelled on the way out.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer e.sink.Cancel()

	slog.Debug("Engine scheduler started", "tick", e.interval, "lookahead", e.lookahead)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Engine scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-e.wake:
		}
		e.Advance(e.now())
	}
}

func (e *Engine) interrupt() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
