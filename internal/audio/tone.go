package audio

import (
	"fmt"

	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
)

// OpenTone returns an endless sine tone at hz, used as a test microphone.
func OpenTone(format beep.Format, hz float64) (*Source, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	sine, err := generators.SineTone(format.SampleRate, hz)
	if err != nil {
		return nil, fmt.Errorf("failed to create %.1f Hz tone: %w", hz, err)
	}
	return &Source{
		Type:   SourceTypeTone,
		Handle: mic.Handle{Streamer: sine, Format: format},
	}, nil
}
