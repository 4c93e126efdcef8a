package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RootConfig is the on-disk layout: a set of named profiles and the one
// selected by default.
type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// Config is the resolved configuration used by the looper.
type Config struct {
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Recorder  RecorderConfig  `mapstructure:"recorder" yaml:"recorder"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	MIDI      MIDIConfig      `mapstructure:"midi" yaml:"midi"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`

	// Profile is the name of the profile this config was resolved from.
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`

	// Internal field to track where each value came from
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type TransportConfig struct {
	BPM    int     `mapstructure:"bpm" yaml:"bpm"`
	Swing  float64 `mapstructure:"swing" yaml:"swing"`
	Volume float64 `mapstructure:"volume" yaml:"volume"`
	BPMMin int     `mapstructure:"bpm_min" yaml:"bpm_min"`
	BPMMax int     `mapstructure:"bpm_max" yaml:"bpm_max"`
}

type SchedulerConfig struct {
	LookaheadMs int `mapstructure:"lookahead_ms" yaml:"lookahead_ms"`
	TickMs      int `mapstructure:"tick_ms" yaml:"tick_ms"`
}

type RecorderConfig struct {
	NoteProbability float64 `mapstructure:"note_probability" yaml:"note_probability"`
	Seed            int64   `mapstructure:"seed" yaml:"seed"` // 0 seeds from the clock
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`
	Precision  int `mapstructure:"precision" yaml:"precision"` // bytes per sample

	// Source is the capture source attached when the microphone is granted:
	// "tone", "wav" or "silence".
	Source string  `mapstructure:"source" yaml:"source"`
	File   string  `mapstructure:"file" yaml:"file,omitempty"`
	ToneHz float64 `mapstructure:"tone_hz" yaml:"tone_hz"`
}

type MIDIConfig struct {
	Channel  int `mapstructure:"channel" yaml:"channel"` // 1-16
	BaseNote int `mapstructure:"base_note" yaml:"base_note"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// ConfigProfile is one entry under configs. Fields left out of the file fall
// back to the default profile, then to built-in defaults. Pointers mark the
// values where zero is a legitimate setting.
type ConfigProfile struct {
	Transport struct {
		BPM    int      `mapstructure:"bpm" yaml:"bpm,omitempty"`
		Swing  *float64 `mapstructure:"swing" yaml:"swing,omitempty"`
		Volume *float64 `mapstructure:"volume" yaml:"volume,omitempty"`
		BPMMin int      `mapstructure:"bpm_min" yaml:"bpm_min,omitempty"`
		BPMMax int      `mapstructure:"bpm_max" yaml:"bpm_max,omitempty"`
	} `mapstructure:"transport" yaml:"transport"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Recorder  struct {
		NoteProbability *float64 `mapstructure:"note_probability" yaml:"note_probability,omitempty"`
		Seed            int64    `mapstructure:"seed" yaml:"seed,omitempty"`
	} `mapstructure:"recorder" yaml:"recorder"`
	Audio  AudioConfig  `mapstructure:"audio" yaml:"audio"`
	MIDI   MIDIConfig   `mapstructure:"midi" yaml:"midi"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// InheritanceInfo records, per setting, whether the value is "built-in",
// "inherited" from the default profile or "profile-specific".
type InheritanceInfo struct {
	Fields map[string]string
}

const (
	SourceBuiltin  = "built-in"
	SourceDefault  = "inherited"
	SourceSelected = "profile-specific"
)

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Transport: TransportConfig{
			BPM:    120,
			Swing:  0,
			Volume: 0.8,
			BPMMin: 60,
			BPMMax: 200,
		},
		Scheduler: SchedulerConfig{
			LookaheadMs: 100,
			TickMs:      25,
		},
		Recorder: RecorderConfig{
			NoteProbability: 0.3,
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   2,
			Precision:  2,
			Source:     "tone",
			ToneHz:     440,
		},
		MIDI: MIDIConfig{
			Channel:  10,
			BaseNote: 36,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Profile: "default",
	}
}

// Lookahead is the scheduling horizon.
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Scheduler.LookaheadMs) * time.Millisecond
}

// TickInterval is the period of the scheduling loop.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickMs) * time.Millisecond
}

// LoadWithProfile resolves the named profile from configFile. An empty
// profile selects active_config, then "default". A missing file yields the
// built-in defaults unless a profile was asked for explicitly.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, configFile)
		}
		slog.Debug("Config file not found, using built-in defaults", "path", configFile)
		cfg := Defaults()
		cfg.Inheritance = builtinInheritance()
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}
	// viper lowercases map keys
	configName = strings.ToLower(configName)

	selected, exists := rootConfig.Configs[configName]
	if !exists && configName != "default" {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	cfg := Defaults()
	cfg.Inheritance = builtinInheritance()

	// The default profile is the base every other profile inherits from.
	if defaultProfile, ok := rootConfig.Configs["default"]; ok {
		source := SourceDefault
		if configName == "default" {
			source = SourceSelected
		}
		cfg = mergeProfile(cfg, defaultProfile, source)
	}
	if configName != "default" {
		cfg = mergeProfile(cfg, selected, SourceSelected)
	}
	cfg.Profile = configName

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed for profile '%s': %w", configName, err)
	}

	return cfg, nil
}

// ValidateConfigurationFormat reads and decodes the configuration file.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("JAMLOOP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	for name, p := range rootConfig.Configs {
		if p == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[strings.ToLower(rootConfig.ActiveConfig)]; !ok && rootConfig.ActiveConfig != "default" {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// ProfileNames returns the profile names defined in configFile, sorted.
func ProfileNames(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	configs := v.GetStringMap("configs")
	if _, ok := configs[strings.ToLower(newActiveConfig)]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeProfile applies the values set in profile over base. Zero values in
// the profile mean "not set", except for pointer fields.
func mergeProfile(base *Config, profile *ConfigProfile, source string) *Config {
	result := *base
	result.Inheritance = &InheritanceInfo{Fields: make(map[string]string)}
	if base.Inheritance != nil {
		for k, v := range base.Inheritance.Fields {
			result.Inheritance.Fields[k] = v
		}
	}
	if profile == nil {
		return &result
	}

	set := func(field string) { result.Inheritance.Fields[field] = source }

	if profile.Transport.BPM != 0 {
		result.Transport.BPM = profile.Transport.BPM
		set("transport.bpm")
	}
	if profile.Transport.Swing != nil {
		result.Transport.Swing = *profile.Transport.Swing
		set("transport.swing")
	}
	if profile.Transport.Volume != nil {
		result.Transport.Volume = *profile.Transport.Volume
		set("transport.volume")
	}
	if profile.Transport.BPMMin != 0 {
		result.Transport.BPMMin = profile.Transport.BPMMin
		set("transport.bpm_min")
	}
	if profile.Transport.BPMMax != 0 {
		result.Transport.BPMMax = profile.Transport.BPMMax
		set("transport.bpm_max")
	}

	if profile.Scheduler.LookaheadMs != 0 {
		result.Scheduler.LookaheadMs = profile.Scheduler.LookaheadMs
		set("scheduler.lookahead_ms")
	}
	if profile.Scheduler.TickMs != 0 {
		result.Scheduler.TickMs = profile.Scheduler.TickMs
		set("scheduler.tick_ms")
	}

	if profile.Recorder.NoteProbability != nil {
		result.Recorder.NoteProbability = *profile.Recorder.NoteProbability
		set("recorder.note_probability")
	}
	if profile.Recorder.Seed != 0 {
		result.Recorder.Seed = profile.Recorder.Seed
		set("recorder.seed")
	}

	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		set("audio.sample_rate")
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		set("audio.channels")
	}
	if profile.Audio.Precision != 0 {
		result.Audio.Precision = profile.Audio.Precision
		set("audio.precision")
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = strings.ToLower(profile.Audio.Source)
		set("audio.source")
	}
	if profile.Audio.File != "" {
		result.Audio.File = profile.Audio.File
		set("audio.file")
	}
	if profile.Audio.ToneHz != 0 {
		result.Audio.ToneHz = profile.Audio.ToneHz
		set("audio.tone_hz")
	}

	if profile.MIDI.Channel != 0 {
		result.MIDI.Channel = profile.MIDI.Channel
		set("midi.channel")
	}
	if profile.MIDI.BaseNote != 0 {
		result.MIDI.BaseNote = profile.MIDI.BaseNote
		set("midi.base_note")
	}

	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
		set("server.port")
	}

	return &result
}

var trackedFields = []string{
	"transport.bpm", "transport.swing", "transport.volume", "transport.bpm_min", "transport.bpm_max",
	"scheduler.lookahead_ms", "scheduler.tick_ms",
	"recorder.note_probability", "recorder.seed",
	"audio.sample_rate", "audio.channels", "audio.precision", "audio.source", "audio.file", "audio.tone_hz",
	"midi.channel", "midi.base_note",
	"server.port",
}

func builtinInheritance() *InheritanceInfo {
	info := &InheritanceInfo{Fields: make(map[string]string, len(trackedFields))}
	for _, f := range trackedFields {
		info.Fields[f] = SourceBuiltin
	}
	return info
}

// Validate checks that every setting is inside its domain.
func Validate(c *Config) error {
	t := c.Transport
	if t.BPMMin < 1 {
		return fmt.Errorf("transport.bpm_min must be >= 1, got %d", t.BPMMin)
	}
	if t.BPMMax < t.BPMMin {
		return fmt.Errorf("transport.bpm_max (%d) must be >= bpm_min (%d)", t.BPMMax, t.BPMMin)
	}
	if t.BPM < t.BPMMin || t.BPM > t.BPMMax {
		return fmt.Errorf("transport.bpm must be within [%d, %d], got %d", t.BPMMin, t.BPMMax, t.BPM)
	}
	if math.IsNaN(t.Swing) || t.Swing < 0 || t.Swing >= 0.95 {
		return fmt.Errorf("transport.swing must be within [0, 0.95), got %.3f", t.Swing)
	}
	if math.IsNaN(t.Volume) || t.Volume < 0 || t.Volume > 1 {
		return fmt.Errorf("transport.volume must be within [0, 1], got %.3f", t.Volume)
	}

	s := c.Scheduler
	if s.LookaheadMs <= 0 {
		return fmt.Errorf("scheduler.lookahead_ms must be > 0, got %d", s.LookaheadMs)
	}
	if s.TickMs <= 0 {
		return fmt.Errorf("scheduler.tick_ms must be > 0, got %d", s.TickMs)
	}
	if s.TickMs >= s.LookaheadMs {
		return fmt.Errorf("scheduler.tick_ms (%d) must be shorter than lookahead_ms (%d)", s.TickMs, s.LookaheadMs)
	}

	p := c.Recorder.NoteProbability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("recorder.note_probability must be within [0, 1], got %.3f", p)
	}

	a := c.Audio
	if a.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", a.Channels)
	}
	if a.Precision < 1 || a.Precision > 3 {
		return fmt.Errorf("audio.precision must be 1, 2 or 3 bytes, got %d", a.Precision)
	}
	switch a.Source {
	case "tone":
		if a.ToneHz <= 0 || a.ToneHz >= float64(a.SampleRate)/2 {
			return fmt.Errorf("audio.tone_hz must be within (0, %d), got %.1f", a.SampleRate/2, a.ToneHz)
		}
	case "wav":
		if a.File == "" {
			return fmt.Errorf("audio.file is required when audio.source is wav")
		}
	case "silence":
	default:
		return fmt.Errorf("audio.source must be tone, wav or silence, got %q", a.Source)
	}

	m := c.MIDI
	if m.Channel < 1 || m.Channel > 16 {
		return fmt.Errorf("midi.channel must be within [1, 16], got %d", m.Channel)
	}
	if m.BaseNote < 0 || m.BaseNote > 127 {
		return fmt.Errorf("midi.base_note must be within [0, 127], got %d", m.BaseNote)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	return nil
}
