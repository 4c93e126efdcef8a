// Package midiout renders layer triggers as MIDI notes, one note per layer.
package midiout

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/audiolibrelab/jamloop/internal/sequencer"
	"gitlab.com/gomidi/midi/v2"
)

// Sender writes one MIDI message to a port.
type Sender func(msg midi.Message) error

// Output maps each layer to a key above BaseNote and sends a short
// note-on/note-off pair when the layer triggers.
type Output struct {
	Channel  uint8 // 0-based
	BaseNote uint8
	send     Sender
}

func New(channel, baseNote uint8, send Sender) *Output {
	return &Output{Channel: channel, BaseNote: baseNote, send: send}
}

// Key returns the MIDI key assigned to a trigger's layer.
func (o *Output) Key(tr sequencer.Trigger) uint8 {
	span := 128 - int(o.BaseNote)
	if span <= 0 {
		return 127
	}
	offset := int((uint64(tr.LayerID) - 1) % uint64(span))
	return uint8(int(o.BaseNote) + offset)
}

// Velocity converts a trigger gain in [0,1] to a MIDI velocity.
func Velocity(gain float64) uint8 {
	if gain <= 0 || math.IsNaN(gain) {
		return 0
	}
	if gain >= 1 {
		return 127
	}
	return uint8(math.Round(gain * 127))
}

// Fire sends the note for a trigger. Silent triggers send nothing, since a
// note-on with velocity 0 means note-off.
func (o *Output) Fire(tr sequencer.Trigger) {
	vel := Velocity(tr.Gain)
	if vel == 0 {
		return
	}
	key := o.Key(tr)

	if err := o.send(midi.NoteOn(o.Channel, key, vel)); err != nil {
		slog.Warn("MIDI note-on failed", "layer_id", tr.LayerID, "key", key, "error", err)
		return
	}
	if err := o.send(midi.NoteOff(o.Channel, key)); err != nil {
		slog.Warn("MIDI note-off failed", "layer_id", tr.LayerID, "key", key, "error", err)
	}
}

// NewSink returns a dispatcher that fires triggers through o when their
// time comes.
func NewSink(now func() float64, o *Output) *sequencer.Dispatcher {
	return sequencer.NewDispatcher(now, o.Fire)
}

// WriterSender prints each message on its own line.
func WriterSender(w io.Writer) Sender {
	return func(msg midi.Message) error {
		_, err := fmt.Fprintln(w, msg.String())
		return err
	}
}
