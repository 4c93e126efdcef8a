package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/service"
)

func TestRepl_ExecutesLines(t *testing.T) {
	c := config.Defaults()
	c.Audio.Source = "silence"
	svc := service.New(c, service.Options{})
	defer svc.Close()

	input := strings.Join([]string{
		"# comment",
		"add x.x.x.x.x.x.x.x.",
		"bpm 90",
		"warp 9",
		"layers",
		"status",
		"quit",
		"bpm 150",
	}, "\n")

	var out bytes.Buffer
	if err := repl(svc, strings.NewReader(input), &out); err != nil {
		t.Fatalf("repl() failed: %v", err)
	}

	st := svc.GetStatus()
	if st.Transport.BPM != 90 {
		t.Errorf("Expected BPM 90, lines after quit must be ignored; got %d", st.Transport.BPM)
	}
	if len(st.Layers) != 1 {
		t.Errorf("Expected one layer, got %d", len(st.Layers))
	}

	text := out.String()
	for _, want := range []string{"error:", "x.x.x.x.x.x.x.x.", "bpm=90", "layers: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output:\n%s", want, text)
		}
	}
}

func TestPrintClockTable(t *testing.T) {
	tl := clock.NewTimeline(clock.Grid{BPM: 120, Swing: 0.5})
	tl.Anchor(0)
	tl.SetGrid(clock.Grid{BPM: 60, Swing: 0.5})

	var out bytes.Buffer
	printClockTable(&out, tl, 2)
	text := out.String()

	for _, want := range []string{
		"loop 0  bpm=120 swing=0.50  0.000s-2.000s",
		"step  1    0.1875s",
		"loop 1  bpm=60 swing=0.50  2.000s-6.000s",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output:\n%s", want, text)
		}
	}
}

func TestGetInheritanceIndicator(t *testing.T) {
	tests := map[string]string{
		config.SourceBuiltin:  "[built-in]",
		config.SourceDefault:  "[inherited]",
		config.SourceSelected: "[profile-specific]",
		"":                    "[unknown]",
	}
	for in, want := range tests {
		if got := getInheritanceIndicator(in); got != want {
			t.Errorf("getInheritanceIndicator(%q) = %q, want %q", in, got, want)
		}
	}
}
