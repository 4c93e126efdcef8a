package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/jamloop/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long: `List the capture sources that can stand in for the microphone and check
that the configured one opens with the configured audio format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		configured := cfg.Audio.Source

		fmt.Fprintf(out, "Capture sources (%d Hz, %d channels):\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
		for i, t := range audio.AvailableSources() {
			marker := ""
			if string(t) == configured {
				marker = " (configured)"
			}
			fmt.Fprintf(out, "  %d. %s%s\n", i+1, t, marker)
		}

		src, err := audio.Open(cfg.Audio)
		if err != nil {
			slog.Debug("Configured source failed to open", "source", configured, "error", err)
			return fmt.Errorf("configured source '%s' is not usable: %w", configured, err)
		}
		defer src.Close()

		fmt.Fprintf(out, "\nConfigured source '%s' opened: %d Hz, %d channels\n",
			src.Type, src.Handle.Format.SampleRate, src.Handle.Format.NumChannels)
		return nil
	},
}
