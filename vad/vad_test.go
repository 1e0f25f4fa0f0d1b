package vad

import (
	"math"
	"testing"
)

func genTone(freq float64, n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return frame
}

func TestFrameSizeNonStreaming(t *testing.T) {
	// Non-streaming captures always use 30ms frames regardless of chunk size.
	if got := FrameSize(16000, 4096, false); got != 480 {
		t.Fatalf("expected 480, got %d", got)
	}
	if got := FrameSize(8000, 0, false); got != 240 {
		t.Fatalf("expected 240, got %d", got)
	}
}

func TestFrameSizeStreamingAlignment(t *testing.T) {
	cases := []struct {
		rate, chunk, want int
	}{
		{16000, 4800, 480}, // 30ms divides
		{16000, 3200, 320}, // 20ms is the largest divisor
		{16000, 1600, 320},
		{16000, 4096, 160}, // nothing divides; fall back to 10ms
		{8000, 800, 160},   // 20ms at 8kHz
	}
	for _, c := range cases {
		if got := FrameSize(c.rate, c.chunk, true); got != c.want {
			t.Errorf("FrameSize(%d, %d, true) = %d, want %d", c.rate, c.chunk, got, c.want)
		}
	}
}

func TestFrameSizeDividesChunk(t *testing.T) {
	// Whenever a VAD-standard size divides the chunk, the chosen frame must
	// divide it too, so chunk slicing never splits a frame.
	for chunk := 160; chunk <= 16000; chunk += 160 {
		size := FrameSize(16000, chunk, true)
		if chunk%size != 0 {
			t.Fatalf("chunk %d not a multiple of frame %d", chunk, size)
		}
	}
}

func TestEnergyDetectorSilence(t *testing.T) {
	d := EnergyDetector{}
	if d.IsSpeech(make([]float32, 480)) {
		t.Fatal("silence classified as speech")
	}
	if d.IsSpeech(nil) {
		t.Fatal("empty frame classified as speech")
	}
}

func TestEnergyDetectorTone(t *testing.T) {
	d := EnergyDetector{}
	if !d.IsSpeech(genTone(440, 480)) {
		t.Fatal("loud tone not classified as speech")
	}
}

func TestEnergyDetectorThreshold(t *testing.T) {
	quiet := make([]float32, 480)
	for i := range quiet {
		quiet[i] = 0.02
	}
	if (EnergyDetector{Threshold: 0.5}).IsSpeech(quiet) {
		t.Fatal("quiet frame above strict threshold")
	}
	if !(EnergyDetector{Threshold: 0.001}).IsSpeech(quiet) {
		t.Fatal("quiet frame should pass a permissive threshold")
	}
}
