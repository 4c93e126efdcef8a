package recorder

import (
	"fmt"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/gopxl/beep"
)

// Frames returns the number of frames a capture window spans at sr.
func Frames(sr beep.SampleRate, window float64) int {
	return sr.N(clock.ToDuration(window))
}

// ReadWindow drains exactly Frames(window) frames from the capture handle
// into a new buffer. A handle that runs dry is padded with silence so every
// layer of a loop has the same length.
func ReadWindow(h mic.Handle, window float64) (*beep.Buffer, error) {
	n := Frames(h.Format.SampleRate, window)
	if n <= 0 {
		return nil, fmt.Errorf("capture window %.6fs holds no frames", window)
	}

	buf := beep.NewBuffer(h.Format)
	buf.Append(beep.Take(n, beep.Seq(h.Streamer, beep.Silence(-1))))

	if err := h.Streamer.Err(); err != nil {
		return nil, fmt.Errorf("capture stream failed: %w", err)
	}
	return buf, nil
}
