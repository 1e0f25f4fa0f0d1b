package audio

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec, err := newDebugRecorder(dir, "roundtrip", 16000, 1)
	if err != nil {
		t.Fatalf("newDebugRecorder: %v", err)
	}

	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	if err := rec.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "roundtrip_") {
		t.Fatalf("expected one roundtrip_*.wav file, got %v", entries)
	}

	loaded, rate, err := LoadWAV(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", rate)
	}
	if len(loaded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(loaded))
	}
	for i, s := range samples {
		// Two quantization steps of slack for the 16-bit intermediate.
		if math.Abs(float64(loaded[i]-s)) > 2.0/32768 {
			t.Fatalf("sample %d: wrote %f, read back %f", i, s, loaded[i])
		}
	}
}

func TestLoadWAVMissingFile(t *testing.T) {
	if _, _, err := LoadWAV(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("not a wav file at all"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := LoadWAV(path); err == nil {
		t.Fatal("expected an error for a non-WAV file")
	}
}
