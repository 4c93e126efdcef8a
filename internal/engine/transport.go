package engine

import (
	"math"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/looperr"
)

const (
	DefaultBPMMinimum = 60
	DefaultBPMMaximum = 200

	// SwingLimit is the exclusive upper bound of swing.
	SwingLimit = 0.95
)

// maxSwing is the largest accepted swing value.
var maxSwing = math.Nextafter(SwingLimit, 0)

// Transport is the tempo, swing, volume and playback state.
type Transport struct {
	BPM     int
	Swing   float64
	Volume  float64
	Playing bool
}

// Grid returns the step grid for the transport's tempo and swing.
func (t Transport) Grid() clock.Grid {
	return clock.Grid{BPM: t.BPM, Swing: t.Swing}
}

// ClampBPM limits n to [min, max].
func ClampBPM(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// ClampSwing limits x to [0, 0.95). NaN is rejected.
func ClampSwing(x float64) (float64, error) {
	if math.IsNaN(x) {
		return 0, looperr.Range("swing is not a number")
	}
	if x < 0 {
		return 0, nil
	}
	if x > maxSwing {
		return maxSwing, nil
	}
	return x, nil
}

// ClampVolume limits x to [0, 1]. NaN is rejected.
func ClampVolume(x float64) (float64, error) {
	if math.IsNaN(x) {
		return 0, looperr.Range("volume is not a number")
	}
	return math.Max(0, math.Min(1, x)), nil
}
