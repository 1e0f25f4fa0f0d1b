package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// debugRecorder writes the captured float32 stream to a 16-bit PCM WAV
// sidecar file, one per session. Quantizing to 16 bits keeps the artifacts
// small and playable everywhere.
type debugRecorder struct {
	file *os.File
	enc  *wav.Encoder
	fmt  *goaudio.Format
}

func newDebugRecorder(dir, profile string, sampleRate, channels int) (*debugRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("debug audio dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.wav", profile, time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("debug audio file: %w", err)
	}
	return &debugRecorder{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, channels, 1),
		fmt:  &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

func (r *debugRecorder) Write(samples []float32) error {
	buf := &goaudio.IntBuffer{Format: r.fmt, SourceBitDepth: 16, Data: make([]int, len(samples))}
	for i, s := range samples {
		buf.Data[i] = int(s * 32767)
	}
	return r.enc.Write(buf)
}

func (r *debugRecorder) Close() error {
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

// LoadWAV reads a PCM WAV file into normalized float32 samples. Used to feed
// the fake capture backend in simulation runs.
func LoadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if dec.SampleRate == 0 {
		return nil, 0, fmt.Errorf("%s: not a valid WAV file", filepath.Base(path))
	}

	bits := buf.SourceBitDepth
	if bits == 0 {
		bits = 16
	}
	scale := float32(int(1) << (bits - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return samples, int(dec.SampleRate), nil
}
