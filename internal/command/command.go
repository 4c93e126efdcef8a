// Package command defines the discrete intents the looper accepts.
package command

import (
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/gopxl/beep"
)

// Command is one of the variants below.
type Command interface {
	// Name is the short label used in logs and metrics.
	Name() string
	isCommand()
}

type (
	RequestMicrophone struct{}

	// MicrophoneEnabled carries the granted capture handle. A zero handle
	// asks the caller to attach its configured capture source.
	MicrophoneEnabled struct {
		Handle mic.Handle
	}

	MicrophoneDisabled struct{}
	MicrophoneRetry    struct{}

	StartRecording struct{}
	StopRecording  struct{}
	CancelCapture  struct{}

	StartPlayback struct{}
	StopPlayback  struct{}

	SetBPM    struct{ BPM int }
	SetSwing  struct{ Swing float64 }
	SetVolume struct{ Volume float64 }

	// AddLayer inserts a layer directly, bypassing the recorder.
	AddLayer struct {
		Buffer *beep.Buffer
		Notes  layer.Notes
	}

	RemoveLayer     struct{ ID layer.ID }
	RemoveAllLayers struct{}

	SetLayerMuted struct {
		ID    layer.ID
		Muted bool
	}

	SetLayerNote struct {
		ID    layer.ID
		Index int
		Value bool
	}
)

func (RequestMicrophone) Name() string  { return "request_microphone" }
func (MicrophoneEnabled) Name() string  { return "microphone_enabled" }
func (MicrophoneDisabled) Name() string { return "microphone_disabled" }
func (MicrophoneRetry) Name() string    { return "microphone_retry" }
func (StartRecording) Name() string     { return "start_recording" }
func (StopRecording) Name() string      { return "stop_recording" }
func (CancelCapture) Name() string      { return "cancel_capture" }
func (StartPlayback) Name() string      { return "start_playback" }
func (StopPlayback) Name() string       { return "stop_playback" }
func (SetBPM) Name() string             { return "set_bpm" }
func (SetSwing) Name() string           { return "set_swing" }
func (SetVolume) Name() string          { return "set_volume" }
func (AddLayer) Name() string           { return "add_layer" }
func (RemoveLayer) Name() string        { return "remove_layer" }
func (RemoveAllLayers) Name() string    { return "remove_all_layers" }
func (SetLayerMuted) Name() string      { return "set_layer_muted" }
func (SetLayerNote) Name() string       { return "set_layer_note" }

func (RequestMicrophone) isCommand()  {}
func (MicrophoneEnabled) isCommand()  {}
func (MicrophoneDisabled) isCommand() {}
func (MicrophoneRetry) isCommand()    {}
func (StartRecording) isCommand()     {}
func (StopRecording) isCommand()      {}
func (CancelCapture) isCommand()      {}
func (StartPlayback) isCommand()      {}
func (StopPlayback) isCommand()       {}
func (SetBPM) isCommand()             {}
func (SetSwing) isCommand()           {}
func (SetVolume) isCommand()          {}
func (AddLayer) isCommand()           {}
func (RemoveLayer) isCommand()        {}
func (RemoveAllLayers) isCommand()    {}
func (SetLayerMuted) isCommand()      {}
func (SetLayerNote) isCommand()       {}
