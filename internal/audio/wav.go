package audio

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

const resampleQuality = 4

// OpenWAV plays a WAV file in a loop as the capture stream. The file is
// resampled when its rate differs from format.
func OpenWAV(path string, format beep.Format) (*Source, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	decoded, fileFormat, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if decoded.Len() == 0 {
		decoded.Close()
		return nil, fmt.Errorf("capture file %s holds no audio", path)
	}

	var stream beep.Streamer = beep.Loop(-1, decoded)
	if fileFormat.SampleRate != format.SampleRate {
		slog.Debug("Resampling capture file", "file", path, "from", fileFormat.SampleRate, "to", format.SampleRate)
		stream = beep.Resample(resampleQuality, fileFormat.SampleRate, format.SampleRate, stream)
	}

	slog.Info("Capture file opened",
		"file", path,
		"sample_rate", fileFormat.SampleRate,
		"channels", fileFormat.NumChannels,
		"seconds", fileFormat.SampleRate.D(decoded.Len()).Seconds())

	return &Source{
		Type:   SourceTypeWAV,
		Handle: mic.Handle{Streamer: stream, Format: format},
		closer: decoded,
	}, nil
}
