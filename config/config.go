// Package config holds the immutable runtime configuration. One Config is
// built at startup; each component receives the pieces it needs at
// construction and never consults global state afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RecordingMode int

const (
	PressToToggle RecordingMode = iota
	HoldToRecord
	VoiceActivityDetection
	Continuous
)

var modeNames = map[string]RecordingMode{
	"press_to_toggle":          PressToToggle,
	"hold_to_record":           HoldToRecord,
	"voice_activity_detection": VoiceActivityDetection,
	"continuous":               Continuous,
}

func (m RecordingMode) String() string {
	for name, mode := range modeNames {
		if mode == m {
			return name
		}
	}
	return "unknown"
}

// UsesVAD reports whether recordings in this mode are terminated by the
// voice-activity detector rather than only by explicit stop commands.
func (m RecordingMode) UsesVAD() bool {
	return m == VoiceActivityDetection || m == Continuous
}

func (m *RecordingMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	mode, ok := modeNames[s]
	if !ok {
		return fmt.Errorf("unknown recording mode %q", s)
	}
	*m = mode
	return nil
}

// Profile is the per-profile recording and transcription configuration.
type Profile struct {
	Name           string         `yaml:"name"`
	Mode           RecordingMode  `yaml:"recording_mode"`
	Backend        string         `yaml:"backend"` // "openai" | "deepgram" | "fake"
	BackendOptions map[string]any `yaml:"backend_options"`
	Streaming      bool           `yaml:"streaming"`
	SampleRate     int            `yaml:"sample_rate"`
	Gain           float32        `yaml:"gain"`
	Language       string         `yaml:"language"`
	SilenceMs      int            `yaml:"silence_duration"`
}

func (p Profile) SilenceDuration() time.Duration {
	return time.Duration(p.SilenceMs) * time.Millisecond
}

type Config struct {
	Profiles          []Profile `yaml:"profiles"`
	Device            string    `yaml:"sound_device"` // empty = system default
	SaveDebugAudio    bool      `yaml:"save_debug_audio"`
	DebugAudioDir     string    `yaml:"debug_audio_dir"`
	ChimeOnCompletion bool      `yaml:"chime_on_completion"`
}

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultGain       = 1.0
	DefaultSilenceMs  = 900
)

// Load reads a YAML config file and applies per-profile defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("config declares no profiles")
	}
	seen := make(map[string]bool)
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		if p.Name == "" {
			return nil, fmt.Errorf("profile %d has no name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		applyDefaults(p)
	}
	if cfg.DebugAudioDir == "" {
		cfg.DebugAudioDir = "debug_audio"
	}
	return &cfg, nil
}

// Default returns a single-profile configuration usable without a config file.
func Default() *Config {
	p := Profile{Name: "default", Backend: "openai"}
	applyDefaults(&p)
	return &Config{Profiles: []Profile{p}, DebugAudioDir: "debug_audio"}
}

func applyDefaults(p *Profile) {
	if p.SampleRate == 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.Gain == 0 {
		p.Gain = DefaultGain
	}
	if p.SilenceMs == 0 {
		p.SilenceMs = DefaultSilenceMs
	}
	if p.Backend == "" {
		p.Backend = "openai"
	}
}
