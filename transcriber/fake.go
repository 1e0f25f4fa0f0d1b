package transcriber

import (
	"context"
	"sync"

	"murmur/audio"
)

// Fake is a scripted backend for tests and the offline simulation mode.
// Batch calls return BatchText; streaming sessions replay Script, one result
// per received chunk, flushing the remainder at end of audio.
type Fake struct {
	InitFailure error
	BatchText   string
	BatchErr    error
	Script      []Result

	mu          sync.Mutex
	initialized bool
	batchCalls  int
	chunksSeen  int
}

func NewFake() *Fake {
	return &Fake{BatchText: "fake transcription"}
}

func (f *Fake) Initialize(opts map[string]any) error {
	if f.InitFailure != nil {
		return &InitError{Backend: "fake", Err: f.InitFailure}
	}
	if text, ok := opts["text"].(string); ok {
		f.BatchText = text
	}
	f.mu.Lock()
	f.initialized = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *Fake) PreferredStreamingChunkSize() int { return 4096 }

func (f *Fake) ProcessStream(ctx context.Context, chunks <-chan *audio.Chunk) <-chan Result {
	out := make(chan Result, len(f.Script)+1)
	go func() {
		defer close(out)
		next := 0
		for {
			select {
			case chunk := <-chunks:
				if chunk == nil {
					for ; next < len(f.Script); next++ {
						out <- f.Script[next]
					}
					return
				}
				f.mu.Lock()
				f.chunksSeen++
				f.mu.Unlock()
				if next < len(f.Script) {
					out <- f.Script[next]
					next++
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (f *Fake) TranscribeComplete(samples []float32, sampleRate, channels int, language string) Result {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	return Result{Text: f.BatchText, Err: f.BatchErr}
}

func (f *Fake) Cleanup() {
	f.mu.Lock()
	f.initialized = false
	f.mu.Unlock()
}

func (f *Fake) BatchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls
}

func (f *Fake) ChunksSeen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunksSeen
}
