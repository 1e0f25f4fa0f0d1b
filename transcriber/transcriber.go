// Package transcriber routes captured audio to a speech-to-text backend and
// publishes the raw results. A Coordinator owns one Backend instance and one
// worker goroutine; backends are selected once at construction.
package transcriber

import (
	"context"
	"fmt"

	"murmur/audio"
)

// Result is one transcription hypothesis or final.
type Result struct {
	Text           string
	Err            error
	EndOfUtterance bool
}

// RawResult is the bus payload for raw_transcription_result. SessionID lets
// subscribers gate against stale sessions.
type RawResult struct {
	Result    Result
	SessionID string
}

// InitError marks a backend that could not be prepared. It is fatal to the
// owning profile's ability to record but never to the process.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initializing %s backend: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Backend is the capability contract implemented once per supported engine.
type Backend interface {
	// Initialize prepares the backend from configuration. Failure is
	// reported as *InitError.
	Initialize(opts map[string]any) error
	IsInitialized() bool

	// PreferredStreamingChunkSize is the chunk length, in samples, this
	// backend wants to receive when streaming.
	PreferredStreamingChunkSize() int

	// ProcessStream consumes chunks until the nil end-of-audio sentinel (or
	// ctx cancellation) and yields results lazily. The returned channel is
	// closed when the stream is done.
	ProcessStream(ctx context.Context, chunks <-chan *audio.Chunk) <-chan Result

	// TranscribeComplete transcribes one finished utterance in isolation.
	TranscribeComplete(samples []float32, sampleRate, channels int, language string) Result

	Cleanup()
}

// New resolves a backend by its configured kind. The set is closed; adding an
// engine means adding a case here.
func New(kind string) (Backend, error) {
	switch kind {
	case "openai":
		return NewOpenAI(), nil
	case "deepgram":
		return NewDeepgram(), nil
	case "fake":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %q", kind)
	}
}

func optString(opts map[string]any, key, fallback string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
