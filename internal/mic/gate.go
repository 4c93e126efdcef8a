// Package mic tracks whether microphone capture is available and holds the
// capture handle once the platform grants it.
package mic

import (
	"log/slog"
	"sync"

	"github.com/audiolibrelab/jamloop/internal/looperr"
	"github.com/gopxl/beep"
)

// State is the microphone permission state.
type State string

const (
	StateInit                State = "INIT"
	StateRequestedPermission State = "REQUESTED_PERMISSION"
	StateEnabled             State = "ENABLED"
	StateDisabled            State = "DISABLED"
)

// ErrMicrophoneNotEnabled is returned when capture is needed but the
// microphone is not in the ENABLED state.
var ErrMicrophoneNotEnabled = looperr.Precondition("microphone is not enabled")

// Handle is the live capture stream handed over by the audio I/O subsystem.
type Handle struct {
	Streamer beep.Streamer
	Format   beep.Format
}

// Gate is the microphone state machine. It is safe for concurrent use.
type Gate struct {
	mu     sync.RWMutex
	state  State
	handle *Handle
}

func NewGate() *Gate {
	return &Gate{state: StateInit}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Request asks the platform for permission (INIT -> REQUESTED_PERMISSION).
func (g *Gate) Request() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateInit {
		return looperr.Precondition("cannot request microphone permission in state %s", g.state)
	}
	g.setState(StateRequestedPermission)
	return nil
}

// Enable stores the granted capture handle (REQUESTED_PERMISSION -> ENABLED).
func (g *Gate) Enable(h Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateRequestedPermission {
		return looperr.Precondition("cannot enable microphone in state %s", g.state)
	}
	if h.Streamer == nil {
		return looperr.Range("capture handle has no stream")
	}
	if h.Format.SampleRate <= 0 || h.Format.NumChannels <= 0 || h.Format.Precision <= 0 {
		return looperr.Range("capture handle has an invalid format %+v", h.Format)
	}
	g.handle = &h
	g.setState(StateEnabled)
	return nil
}

// Disable records a denial or revocation. It is accepted in every state and
// drops the capture handle.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handle = nil
	g.setState(StateDisabled)
}

// Retry returns a denied microphone to INIT after the platform re-grants
// access out of band.
func (g *Gate) Retry() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateDisabled {
		return looperr.Precondition("cannot retry microphone in state %s", g.state)
	}
	g.setState(StateInit)
	return nil
}

// Handle returns the capture handle or ErrMicrophoneNotEnabled.
func (g *Gate) Handle() (Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state != StateEnabled || g.handle == nil {
		return Handle{}, ErrMicrophoneNotEnabled
	}
	return *g.handle, nil
}

func (g *Gate) setState(s State) {
	if g.state != s {
		slog.Debug("Microphone state changed", "from", g.state, "to", s)
	}
	g.state = s
}
