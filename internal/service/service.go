package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/jamloop/internal/audio"
	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/command"
	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/engine"
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/metrics"
	"github.com/audiolibrelab/jamloop/internal/mic"
	"github.com/audiolibrelab/jamloop/internal/sequencer"
	"golang.org/x/sync/errgroup"
)

// Service represents the core JamLoop service interface
type Service interface {
	// Command operations
	Execute(line string) error
	Dispatch(cmd command.Command) error

	// Scheduling
	Run(ctx context.Context) error

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	GetStatus() engine.Status
	GetLayers() layer.Snapshot
	GetLastError() string
	Subscribe(buffer int) (<-chan engine.Event, func())
	Metrics() *metrics.Metrics

	// Cleanup
	Close() error
}

// runner is a sink that needs its own goroutine, such as a dispatcher.
type runner interface {
	Run(ctx context.Context) error
}

// LooperService is the main service implementation
type LooperService struct {
	cfgMutex   sync.RWMutex
	cfg        *config.Config
	configFile string

	engine *engine.Engine
	output sequencer.Sink

	sourceMutex sync.Mutex
	source      *audio.Source

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Options wires the service to its surroundings. Output and Now must
// agree on the timeline: a dispatcher output reads the same clock.
type Options struct {
	ConfigFile string
	Output     sequencer.Sink
	Now        func() float64
	Metrics    *metrics.Metrics
}

// New creates a looper service. A nil Output keeps triggers in memory only.
func New(cfg *config.Config, opts Options) Service {
	if opts.Output == nil {
		opts.Output = &sequencer.Collector{}
	}
	if opts.Now == nil {
		opts.Now = clock.Wall()
	}

	engineOpts := engine.OptionsFromConfig(cfg)
	engineOpts.Sink = opts.Output
	engineOpts.Now = opts.Now
	engineOpts.Metrics = opts.Metrics

	return &LooperService{
		cfg:        cfg,
		configFile: opts.ConfigFile,
		engine:     engine.New(engineOpts),
		output:     opts.Output,
	}
}

// Execute parses a text command and dispatches it
func (s *LooperService) Execute(line string) error {
	cmd, err := command.Parse(line)
	if err != nil {
		s.setLastError(fmt.Sprintf("Invalid command %q: %v", line, err))
		return err
	}
	return s.Dispatch(cmd)
}

// Dispatch applies a command to the engine. A microphone grant without a
// stream attaches the configured capture source.
func (s *LooperService) Dispatch(cmd command.Command) error {
	slog.Debug("Service.Dispatch called", "command", cmd.Name())

	attached := false
	if c, ok := cmd.(command.MicrophoneEnabled); ok && c.Handle.Streamer == nil {
		if s.engine.Status().Microphone == mic.StateRequestedPermission {
			src, opened, err := s.openSource()
			if err != nil {
				s.setLastError(fmt.Sprintf("Failed to open capture source: %v", err))
				return err
			}
			attached = opened
			cmd = command.MicrophoneEnabled{Handle: src.Handle}
		}
	}

	if err := s.engine.Dispatch(cmd); err != nil {
		if attached {
			s.closeSource()
		}
		s.setLastError(fmt.Sprintf("Command %s declined: %v", cmd.Name(), err))
		return err
	}

	if _, ok := cmd.(command.MicrophoneDisabled); ok {
		s.closeSource()
	}
	s.clearLastError()
	return nil
}

// openSource returns the attached capture source, opening it if needed.
// opened reports whether this call opened it.
func (s *LooperService) openSource() (src *audio.Source, opened bool, err error) {
	s.sourceMutex.Lock()
	defer s.sourceMutex.Unlock()

	if s.source != nil {
		return s.source, false, nil
	}
	src, err = audio.Open(s.GetConfig().Audio)
	if err != nil {
		return nil, false, err
	}
	slog.Info("Capture source attached", "type", src.Type)
	s.source = src
	return src, true, nil
}

func (s *LooperService) closeSource() error {
	s.sourceMutex.Lock()
	defer s.sourceMutex.Unlock()

	if s.source == nil {
		return nil
	}
	err := s.source.Close()
	s.source = nil
	return err
}

// Run drives the engine scheduler, and the output when it has its own
// loop, until ctx is done.
func (s *LooperService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(ctx) })
	if r, ok := s.output.(runner); ok {
		g.Go(func() error { return r.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LoadProfile loads a new configuration profile and applies its transport
// settings. The tempo range stays as the engine was created with.
func (s *LooperService) LoadProfile(profile string) error {
	s.cfgMutex.RLock()
	configFile := s.configFile
	s.cfgMutex.RUnlock()

	newCfg, err := config.LoadWithProfile(configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	for _, cmd := range []command.Command{
		command.SetBPM{BPM: newCfg.Transport.BPM},
		command.SetSwing{Swing: newCfg.Transport.Swing},
		command.SetVolume{Volume: newCfg.Transport.Volume},
	} {
		if err := s.engine.Dispatch(cmd); err != nil {
			return fmt.Errorf("failed to apply profile '%s': %w", profile, err)
		}
	}

	s.cfgMutex.Lock()
	s.cfg = newCfg
	s.cfgMutex.Unlock()

	slog.Info("Profile loaded", "profile", newCfg.Profile, "bpm", newCfg.Transport.BPM)
	return nil
}

// GetConfig returns the current configuration
func (s *LooperService) GetConfig() *config.Config {
	s.cfgMutex.RLock()
	defer s.cfgMutex.RUnlock()
	return s.cfg
}

// GetStatus returns the engine status
func (s *LooperService) GetStatus() engine.Status {
	return s.engine.Status()
}

// GetLayers returns the current layers
func (s *LooperService) GetLayers() layer.Snapshot {
	return s.engine.Layers()
}

// Subscribe forwards engine notifications
func (s *LooperService) Subscribe(buffer int) (<-chan engine.Event, func()) {
	return s.engine.Subscribe(buffer)
}

// Metrics returns the collectors the engine reports to
func (s *LooperService) Metrics() *metrics.Metrics {
	return s.engine.Metrics()
}

// Close stops playback and releases the capture source
func (s *LooperService) Close() error {
	if err := s.engine.Dispatch(command.StopPlayback{}); err != nil {
		slog.Debug("Stop on close failed", "error", err)
	}
	return s.closeSource()
}

// GetLastError returns the last error message (thread-safe)
func (s *LooperService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *LooperService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Debug("Service error recorded", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *LooperService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
