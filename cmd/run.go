package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/command"
	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/engine"
	"github.com/audiolibrelab/jamloop/internal/midiout"
	"github.com/audiolibrelab/jamloop/internal/sequencer"
	"github.com/audiolibrelab/jamloop/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive looper session",
	Long: `Start the looper and read commands from standard input, one per line.

The microphone is simulated by the configured capture source: a sine tone
by default, or a WAV file with --wav. Triggers are printed as they fire,
or as MIDI messages with --midi.

Type 'help' for the list of commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wavFile, _ := cmd.Flags().GetString("wav")
		toneHz, _ := cmd.Flags().GetFloat64("tone")
		useMIDI, _ := cmd.Flags().GetBool("midi")
		grantMic, _ := cmd.Flags().GetBool("mic")

		runCfg := *cfg
		if wavFile != "" {
			runCfg.Audio.Source = "wav"
			runCfg.Audio.File = wavFile
		}
		if toneHz > 0 {
			runCfg.Audio.Source = "tone"
			runCfg.Audio.ToneHz = toneHz
		}
		if err := config.Validate(&runCfg); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}

		out := cmd.OutOrStdout()
		now := clock.Wall()
		svc := service.New(&runCfg, service.Options{
			ConfigFile: cfgFile,
			Output:     newOutput(now, &runCfg, useMIDI, out),
			Now:        now,
		})
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		go func() {
			if err := svc.Run(ctx); err != nil {
				slog.Error("Scheduler stopped", "error", err)
			}
		}()

		events, unsubscribe := svc.Subscribe(32)
		defer unsubscribe()
		go printEvents(events, out)

		if grantMic {
			for _, line := range []string{"mic request", "mic enable"} {
				if err := svc.Execute(line); err != nil {
					return fmt.Errorf("failed to enable microphone: %w", err)
				}
			}
		}

		fmt.Fprintf(out, "JamLoop ready at %d BPM (profile %s). Type 'help' for commands.\n",
			runCfg.Transport.BPM, runCfg.Profile)

		done := make(chan error, 1)
		go func() { done <- repl(svc, cmd.InOrStdin(), out) }()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		}
	},
}

func init() {
	runCmd.Flags().String("wav", "", "WAV file used as the microphone (loops forever)")
	runCmd.Flags().Float64("tone", 0, "sine tone frequency used as the microphone, in Hz")
	runCmd.Flags().Bool("midi", false, "print triggers as MIDI note messages")
	runCmd.Flags().Bool("mic", true, "grant the microphone at startup")
}

// newOutput returns the dispatcher that fires triggers on time, either as
// MIDI messages or as plain text lines.
func newOutput(now func() float64, c *config.Config, useMIDI bool, w io.Writer) *sequencer.Dispatcher {
	if useMIDI {
		// MIDI channels are 1-16 in the config, 0-15 on the wire.
		o := midiout.New(uint8(c.MIDI.Channel-1), uint8(c.MIDI.BaseNote), midiout.WriterSender(w))
		return midiout.NewSink(now, o)
	}
	return sequencer.NewDispatcher(now, func(tr sequencer.Trigger) {
		fmt.Fprintf(w, "  * layer %d  loop %d step %2d  t=%.3fs gain=%.2f\n",
			tr.LayerID, tr.Loop, tr.Step, tr.Time, tr.Gain)
	})
}

// repl executes one command per input line until the input ends or the
// user quits.
func repl(svc service.Service, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch strings.ToLower(line) {
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(out, command.Usage)
			fmt.Fprintln(out, "status | layers | profile <name> | quit")
			continue
		case "status":
			printStatus(out, svc.GetStatus())
			continue
		case "layers":
			printLayers(out, svc.GetStatus())
			continue
		}

		if name, ok := strings.CutPrefix(line, "profile "); ok {
			if err := svc.LoadProfile(strings.TrimSpace(name)); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			continue
		}

		if err := svc.Execute(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func printStatus(w io.Writer, st engine.Status) {
	state := "stopped"
	if st.Transport.Playing {
		state = "playing"
	}
	fmt.Fprintf(w, "transport: %s  bpm=%d swing=%.2f volume=%.2f\n",
		state, st.Transport.BPM, st.Transport.Swing, st.Transport.Volume)
	if st.NextBPM != st.Transport.BPM || st.NextSwing != st.Transport.Swing {
		fmt.Fprintf(w, "           pending bpm=%d swing=%.2f\n", st.NextBPM, st.NextSwing)
	}
	fmt.Fprintf(w, "microphone: %s  recorder: %s", st.Microphone, st.Recorder)
	if st.StopRequested {
		fmt.Fprint(w, " (stopping at loop end)")
	}
	fmt.Fprintln(w)
	if st.Anchored {
		fmt.Fprintf(w, "cursor: loop %d step %d  loop %.3fs-%.3fs\n",
			st.Cursor.Loop, st.Cursor.Step, st.LoopStart, st.LoopEnd)
	}
	fmt.Fprintf(w, "layers: %d\n", len(st.Layers))
}

func printLayers(w io.Writer, st engine.Status) {
	if len(st.Layers) == 0 {
		fmt.Fprintln(w, "no layers")
		return
	}
	for _, l := range st.Layers {
		muted := ""
		if l.Muted {
			muted = " muted"
		}
		fmt.Fprintf(w, "%3d  %s  %d frames%s\n", l.ID, command.FormatPattern(l.Notes), l.Frames(), muted)
	}
}

func printEvents(events <-chan engine.Event, w io.Writer) {
	for ev := range events {
		switch ev.Kind {
		case engine.EventRecorder:
			fmt.Fprintf(w, "recorder: %s at %.3fs\n", ev.Recorder, ev.At)
		case engine.EventLayerAdded:
			fmt.Fprintf(w, "layer %d added (%d total)\n", ev.LayerID, ev.Layers)
		case engine.EventMicrophone:
			fmt.Fprintf(w, "microphone: %s\n", ev.Microphone)
		}
	}
}

