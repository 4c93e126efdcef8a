package cmd

import (
	"fmt"
	"io"

	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with inheritance indicators",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values are built-in, inherited from default or profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printResolvedConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func printResolvedConfig(w io.Writer, c *config.Config) {
	field := func(key string, value interface{}) {
		status := ""
		if c.Inheritance != nil {
			status = c.Inheritance.Fields[key]
		}
		fmt.Fprintf(w, "%s: %v %s\n", key, value, getInheritanceIndicator(status))
	}

	fmt.Fprintf(w, "=== RESOLVED CONFIGURATION (%s) ===\n", c.Profile)

	fmt.Fprintf(w, "\n[Transport]\n")
	field("transport.bpm", c.Transport.BPM)
	field("transport.swing", c.Transport.Swing)
	field("transport.volume", c.Transport.Volume)
	field("transport.bpm_min", c.Transport.BPMMin)
	field("transport.bpm_max", c.Transport.BPMMax)

	fmt.Fprintf(w, "\n[Scheduler]\n")
	field("scheduler.lookahead_ms", c.Scheduler.LookaheadMs)
	field("scheduler.tick_ms", c.Scheduler.TickMs)

	fmt.Fprintf(w, "\n[Recorder]\n")
	field("recorder.note_probability", c.Recorder.NoteProbability)
	field("recorder.seed", c.Recorder.Seed)

	fmt.Fprintf(w, "\n[Audio]\n")
	field("audio.sample_rate", c.Audio.SampleRate)
	field("audio.channels", c.Audio.Channels)
	field("audio.precision", c.Audio.Precision)
	field("audio.source", c.Audio.Source)
	if c.Audio.File != "" {
		field("audio.file", c.Audio.File)
	}
	field("audio.tone_hz", c.Audio.ToneHz)

	fmt.Fprintf(w, "\n[MIDI]\n")
	field("midi.channel", c.MIDI.Channel)
	field("midi.base_note", c.MIDI.BaseNote)

	fmt.Fprintf(w, "\n[Server]\n")
	field("server.port", c.Server.Port)
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.SourceBuiltin:
		return "[built-in]"
	case config.SourceDefault:
		return "[inherited]"
	case config.SourceSelected:
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
