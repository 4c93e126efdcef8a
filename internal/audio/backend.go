// Package audio opens the capture streams handed to the microphone gate.
// Device I/O lives outside the looper; these sources stand in for it.
package audio

import (
	"fmt"
	"io"
	"strings"

	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/gopxl/beep"
)

// SourceType represents the kind of capture source
type SourceType string

const (
	SourceTypeTone    SourceType = "tone"
	SourceTypeWAV     SourceType = "wav"
	SourceTypeSilence SourceType = "silence"
)

// Source is an open capture stream ready to be granted to the microphone.
type Source struct {
	Type   SourceType
	Handle mic.Handle
	closer io.Closer
}

// Close releases the underlying stream.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Format returns the stream format described by the audio config.
func Format(cfg config.AudioConfig) beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(cfg.SampleRate),
		NumChannels: cfg.Channels,
		Precision:   cfg.Precision,
	}
}

// Open creates the capture source selected by the configuration.
func Open(cfg config.AudioConfig) (*Source, error) {
	format := Format(cfg)

	switch determineSource(cfg) {
	case SourceTypeWAV:
		return OpenWAV(cfg.File, format)
	case SourceTypeSilence:
		return OpenSilence(format), nil
	default:
		return OpenTone(format, cfg.ToneHz)
	}
}

func determineSource(cfg config.AudioConfig) SourceType {
	switch strings.ToLower(cfg.Source) {
	case "wav":
		return SourceTypeWAV
	case "silence":
		return SourceTypeSilence
	default:
		return SourceTypeTone
	}
}

// AvailableSources returns the source types this build can open.
func AvailableSources() []SourceType {
	return []SourceType{SourceTypeTone, SourceTypeWAV, SourceTypeSilence}
}

// OpenSilence returns an endless silent stream.
func OpenSilence(format beep.Format) *Source {
	return &Source{
		Type:   SourceTypeSilence,
		Handle: mic.Handle{Streamer: beep.Silence(-1), Format: format},
	}
}

func checkFormat(format beep.Format) error {
	if format.SampleRate <= 0 || format.NumChannels <= 0 || format.Precision <= 0 {
		return fmt.Errorf("invalid capture format %+v", format)
	}
	return nil
}
