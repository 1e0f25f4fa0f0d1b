// Package bus is the process-wide publish/subscribe registry. Delivery is
// synchronous on the publishing goroutine, in subscription order, so handlers
// must not block.
package bus

import "sync"

// Topic names. Payload types are noted next to each topic.
const (
	RecordingStopped       = "recording_stopped"        // string session id (VAD auto-stop)
	AudioDiscarded         = "audio_discarded"          // string session id
	RawTranscriptionResult = "raw_transcription_result" // transcriber.RawResult
	TranscriptionError     = "transcription_error"      // error
	TranscriptionFinished  = "transcription_finished"   // string profile name
	TranscriptionComplete  = "transcription_complete"   // string session id
	ProfileStateChange     = "profile_state_change"     // StateChange
)

// StateChange is the payload for ProfileStateChange.
type StateChange struct {
	Profile string
	Status  string
}

type Handler func(payload any)

type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]*Subscription
}

// Subscription is a handle returned by Subscribe; Cancel removes the handler.
// Components subscribe at construction and cancel at teardown so no handler
// outlives its owner.
type Subscription struct {
	bus   *Bus
	topic string
	id    int
	fn    Handler
}

func New() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

func (b *Bus) Subscribe(topic string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{bus: b, topic: topic, id: b.nextID, fn: fn}
	b.subs[topic] = append(b.subs[topic], s)
	return s
}

func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.topic]
	for i, sub := range list {
		if sub.id == s.id {
			b.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	s.bus = nil
}

// Publish delivers payload to every subscriber of topic, synchronously.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	list := make([]*Subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range list {
		s.fn(payload)
	}
}
