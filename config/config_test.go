package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "murmur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
profiles:
  - name: notes
    backend: openai
`))
	require.NoError(t, err)
	require.Len(t, cfg.Profiles, 1)

	p := cfg.Profiles[0]
	require.Equal(t, "notes", p.Name)
	require.Equal(t, PressToToggle, p.Mode)
	require.Equal(t, DefaultSampleRate, p.SampleRate)
	require.Equal(t, float32(DefaultGain), p.Gain)
	require.Equal(t, 900*time.Millisecond, p.SilenceDuration())
	require.Equal(t, "debug_audio", cfg.DebugAudioDir)
}

func TestLoadFullProfile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sound_device: "USB Microphone"
save_debug_audio: true
chime_on_completion: true
profiles:
  - name: dictation
    recording_mode: voice_activity_detection
    backend: deepgram
    streaming: true
    sample_rate: 8000
    gain: 1.5
    language: en
    silence_duration: 1200
    backend_options:
      model: nova-3
`))
	require.NoError(t, err)

	require.Equal(t, "USB Microphone", cfg.Device)
	require.True(t, cfg.SaveDebugAudio)
	require.True(t, cfg.ChimeOnCompletion)

	p := cfg.Profiles[0]
	require.Equal(t, VoiceActivityDetection, p.Mode)
	require.True(t, p.Mode.UsesVAD())
	require.True(t, p.Streaming)
	require.Equal(t, 8000, p.SampleRate)
	require.Equal(t, float32(1.5), p.Gain)
	require.Equal(t, 1200*time.Millisecond, p.SilenceDuration())
	require.Equal(t, "nova-3", p.BackendOptions["model"])
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	_, err := Load(writeConfig(t, `
profiles:
  - name: broken
    recording_mode: push_to_talk
`))
	require.ErrorContains(t, err, "unknown recording mode")
}

func TestLoadRejectsDuplicateProfiles(t *testing.T) {
	_, err := Load(writeConfig(t, `
profiles:
  - name: twin
  - name: twin
`))
	require.ErrorContains(t, err, "duplicate profile name")
}

func TestLoadRejectsEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, "profiles: []\n"))
	require.ErrorContains(t, err, "no profiles")

	_, err = Load(writeConfig(t, "profiles:\n  - backend: openai\n"))
	require.ErrorContains(t, err, "has no name")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestModeRoundTrip(t *testing.T) {
	for name, mode := range map[string]RecordingMode{
		"press_to_toggle":          PressToToggle,
		"hold_to_record":           HoldToRecord,
		"voice_activity_detection": VoiceActivityDetection,
		"continuous":               Continuous,
	} {
		require.Equal(t, name, mode.String())
	}
	require.True(t, Continuous.UsesVAD())
	require.False(t, HoldToRecord.UsesVAD())
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Profiles, 1)
	require.Equal(t, "openai", cfg.Profiles[0].Backend)
	require.Equal(t, DefaultSampleRate, cfg.Profiles[0].SampleRate)
}
