package command

import (
	"strconv"
	"strings"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/looperr"
)

// Usage lists the text forms accepted by Parse.
const Usage = `mic request | mic enable | mic deny | mic retry
record | stop | cancel
play | pause
bpm <n> | swing <0..0.95> | volume <0..1>
add [pattern]          pattern is 16 of 'x' or '.', e.g. x...x...x...x...
remove <id> | clear
mute <id> on|off
note <id> <step> on|off`

// Parse reads one command from its text form. Malformed input is reported
// as a range violation.
func Parse(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return nil, looperr.Range("empty command")
	}
	args := fields[1:]

	switch fields[0] {
	case "mic", "microphone":
		if err := wantArgs(fields[0], args, 1); err != nil {
			return nil, err
		}
		switch args[0] {
		case "request":
			return RequestMicrophone{}, nil
		case "enable", "grant":
			return MicrophoneEnabled{}, nil
		case "deny", "disable":
			return MicrophoneDisabled{}, nil
		case "retry":
			return MicrophoneRetry{}, nil
		}
		return nil, looperr.Range("unknown microphone action %q", args[0])

	case "record", "rec":
		return bare(StartRecording{}, args)
	case "stop":
		return bare(StopRecording{}, args)
	case "cancel":
		return bare(CancelCapture{}, args)
	case "play":
		return bare(StartPlayback{}, args)
	case "pause":
		return bare(StopPlayback{}, args)
	case "clear":
		return bare(RemoveAllLayers{}, args)

	case "bpm", "tempo":
		if err := wantArgs(fields[0], args, 1); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, looperr.Range("bpm %q is not an integer", args[0])
		}
		return SetBPM{BPM: n}, nil

	case "swing":
		x, err := parseFloatArg(fields[0], args)
		if err != nil {
			return nil, err
		}
		return SetSwing{Swing: x}, nil

	case "volume", "vol":
		x, err := parseFloatArg(fields[0], args)
		if err != nil {
			return nil, err
		}
		return SetVolume{Volume: x}, nil

	case "add":
		if len(args) > 1 {
			return nil, looperr.Range("add takes at most one pattern")
		}
		var notes layer.Notes
		if len(args) == 1 {
			var err error
			if notes, err = ParsePattern(args[0]); err != nil {
				return nil, err
			}
		}
		return AddLayer{Notes: notes}, nil

	case "remove", "rm":
		if err := wantArgs(fields[0], args, 1); err != nil {
			return nil, err
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return RemoveLayer{ID: id}, nil

	case "mute":
		if err := wantArgs(fields[0], args, 2); err != nil {
			return nil, err
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return nil, err
		}
		return SetLayerMuted{ID: id, Muted: on}, nil

	case "note":
		if err := wantArgs(fields[0], args, 3); err != nil {
			return nil, err
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, looperr.Range("step %q is not an integer", args[1])
		}
		on, err := parseSwitch(args[2])
		if err != nil {
			return nil, err
		}
		return SetLayerNote{ID: id, Index: index, Value: on}, nil
	}

	return nil, looperr.Range("unknown command %q", fields[0])
}

// ParsePattern reads a 16-character step pattern where 'x' marks an active
// step and '.' or '-' an inactive one.
func ParsePattern(s string) (layer.Notes, error) {
	var notes layer.Notes
	if len(s) != clock.StepsPerLoop {
		return notes, looperr.Range("pattern %q must have %d steps", s, clock.StepsPerLoop)
	}
	for i, r := range s {
		switch r {
		case 'x', '1':
			notes[i] = true
		case '.', '-', '0':
		default:
			return notes, looperr.Range("pattern %q has invalid step %q", s, r)
		}
	}
	return notes, nil
}

// FormatPattern is the inverse of ParsePattern.
func FormatPattern(notes layer.Notes) string {
	var b strings.Builder
	for _, on := range notes {
		if on {
			b.WriteByte('x')
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func bare(c Command, args []string) (Command, error) {
	if len(args) != 0 {
		return nil, looperr.Range("%s takes no arguments", c.Name())
	}
	return c, nil
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return looperr.Range("%s takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func parseFloatArg(name string, args []string) (float64, error) {
	if err := wantArgs(name, args, 1); err != nil {
		return 0, err
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, looperr.Range("%s %q is not a number", name, args[0])
	}
	return x, nil
}

func parseID(s string) (layer.ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, looperr.Range("layer id %q is not a positive integer", s)
	}
	return layer.ID(n), nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, looperr.Range("expected on or off, got %q", s)
}
