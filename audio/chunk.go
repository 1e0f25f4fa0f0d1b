package audio

// Chunk is one bounded slice of captured audio handed from the capture engine
// to a transcription worker. Immutable after creation; consumed exactly once.
type Chunk struct {
	SessionID  string
	SampleRate int
	Channels   int
	Language   string
	Samples    []float32 // amplitudes in [-1.0, 1.0]
}

// Duration in seconds.
func (c *Chunk) Duration() float64 {
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Queue carries chunks from the capture goroutine to a transcription worker
// in capture order. A nil Chunk is the reserved end-of-audio sentinel: no more
// chunks will arrive for the current session.
type Queue chan *Chunk

func NewQueue() Queue {
	return make(Queue, 64)
}
