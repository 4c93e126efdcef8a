package cmd

import (
	"fmt"
	"io"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/engine"
	"github.com/spf13/cobra"
)

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Print step timestamps for a tempo and swing",
	Long: `Print the timestamp of every step for the given tempo and swing,
starting from a loop anchored at 0s. With --next-bpm the tempo change is
requested during the first loop and takes effect on the next loop boundary.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bpm, _ := cmd.Flags().GetInt("bpm")
		swing, _ := cmd.Flags().GetFloat64("swing")
		loops, _ := cmd.Flags().GetInt("loops")
		nextBPM, _ := cmd.Flags().GetInt("next-bpm")

		if loops < 1 {
			return fmt.Errorf("--loops must be at least 1, got %d", loops)
		}
		swing, err := engine.ClampSwing(swing)
		if err != nil {
			return err
		}
		grid := clock.Grid{
			BPM:   engine.ClampBPM(bpm, engine.DefaultBPMMinimum, engine.DefaultBPMMaximum),
			Swing: swing,
		}

		tl := clock.NewTimeline(grid)
		tl.Anchor(0)
		if nextBPM > 0 {
			tl.SetGrid(clock.Grid{
				BPM:   engine.ClampBPM(nextBPM, engine.DefaultBPMMinimum, engine.DefaultBPMMaximum),
				Swing: swing,
			})
		}

		printClockTable(cmd.OutOrStdout(), tl, loops)
		return nil
	},
}

func init() {
	clockCmd.Flags().Int("bpm", 120, "tempo in beats per minute")
	clockCmd.Flags().Float64("swing", 0, "swing amount applied to odd steps, [0, 0.95)")
	clockCmd.Flags().Int("loops", 1, "number of loops to print")
	clockCmd.Flags().Int("next-bpm", 0, "tempo requested during the first loop")
}

func printClockTable(w io.Writer, tl *clock.Timeline, loops int) {
	for l := 0; l < loops; l++ {
		g := tl.Grid()
		fmt.Fprintf(w, "loop %d  bpm=%d swing=%.2f  %.3fs-%.3fs\n", l, g.BPM, g.Swing, tl.LoopStart(), tl.LoopEnd())
		for s := 0; s < clock.StepsPerLoop; s++ {
			tick := tl.Peek()
			fmt.Fprintf(w, "  step %2d  %8.4fs\n", tick.Step, tick.Time)
			tl.Advance()
		}
	}
}
