// Package session holds the per-profile state machine that binds a profile's
// transcription coordinator, reconciler, and output sink together, and gates
// every result by session identity.
package session

import (
	"strings"
	"sync"

	"murmur/bus"
	"murmur/config"
	"murmur/log"
	"murmur/reconcile"
	"murmur/transcriber"
)

type State int

const (
	Idle State = iota
	Recording
	Transcribing
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	default:
		return "idle"
	}
}

// OutputSink is the external delivery collaborator. Non-streaming profiles
// hand it whole utterances; streaming profiles hand it display edits.
type OutputSink interface {
	WriteText(text string)
	ApplyEdit(retract int, appendText string)
}

// PostProcessor transforms a raw result before reconciliation or output.
type PostProcessor interface {
	Process(r transcriber.Result) string
}

// PostProcessorFunc adapts a function to the PostProcessor interface.
type PostProcessorFunc func(r transcriber.Result) string

func (f PostProcessorFunc) Process(r transcriber.Result) string { return f(r) }

// Identity passes raw text through unchanged.
var Identity = PostProcessorFunc(func(r transcriber.Result) string { return r.Text })

// Transcription is the slice of the coordinator the controller drives.
type Transcription interface {
	StartTranscription(sessionID string)
}

// Controller is the per-profile session state machine. State mutations come
// from the control goroutine (start/stop commands) and from coordinator
// workers publishing results, so everything is mutex-guarded.
type Controller struct {
	name      string
	mode      config.RecordingMode
	streaming bool
	events    *bus.Bus
	coord     Transcription
	post      PostProcessor
	sink      OutputSink

	mu        sync.Mutex
	state     State
	sessionID string
	rec       *reconcile.Reconciler

	subs []*bus.Subscription
}

func NewController(name string, mode config.RecordingMode, streaming bool, events *bus.Bus, coord Transcription, post PostProcessor, sink OutputSink) *Controller {
	if post == nil {
		post = Identity
	}
	c := &Controller{
		name:      name,
		mode:      mode,
		streaming: streaming,
		events:    events,
		coord:     coord,
		post:      post,
		sink:      sink,
		rec:       reconcile.New(),
	}
	c.subs = append(c.subs,
		events.Subscribe(bus.RawTranscriptionResult, func(payload any) {
			if raw, ok := payload.(transcriber.RawResult); ok {
				c.HandleRawResult(raw)
			}
		}),
		events.Subscribe(bus.TranscriptionFinished, func(payload any) {
			if profile, ok := payload.(string); ok && profile == c.name {
				c.FinishTranscription()
			}
		}),
	)
	return c
}

func (c *Controller) Name() string               { return c.name }
func (c *Controller) Mode() config.RecordingMode { return c.mode }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) IsIdle() bool      { return c.State() == Idle }
func (c *Controller) IsRecording() bool { return c.State() == Recording }

// StartTranscription binds a fresh session and moves to Recording. Only
// valid from Idle; anything else is a logged no-op.
func (c *Controller) StartTranscription(sessionID string) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		log.Warnf("%s: start ignored in state %s", c.name, c.state)
		return
	}
	c.sessionID = sessionID
	c.state = Recording
	c.rec = reconcile.New()
	c.mu.Unlock()

	status := "Recording..."
	if c.streaming {
		status = "Streaming..."
	}
	c.events.Publish(bus.ProfileStateChange, bus.StateChange{Profile: c.name, Status: status})
	c.coord.StartTranscription(sessionID)
}

// RecordingStopped marks the end of audio capture; results may still arrive.
// Only valid from Recording.
func (c *Controller) RecordingStopped() {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return
	}
	c.state = Transcribing
	c.mu.Unlock()
	c.events.Publish(bus.ProfileStateChange, bus.StateChange{Profile: c.name, Status: "Transcribing..."})
}

// FinishTranscription returns the controller to Idle. Idempotent: completion
// is emitted only when actually leaving Recording or Transcribing.
func (c *Controller) FinishTranscription() {
	c.mu.Lock()
	previous := c.state
	finished := c.sessionID
	c.state = Idle
	c.sessionID = ""
	c.mu.Unlock()

	if previous != Recording && previous != Transcribing {
		return
	}
	c.events.Publish(bus.ProfileStateChange, bus.StateChange{Profile: c.name, Status: ""})
	c.events.Publish(bus.TranscriptionComplete, finished)
}

// HandleRawResult applies one result if it belongs to the current session.
// Stale results from a superseded session are discarded silently.
func (c *Controller) HandleRawResult(raw transcriber.RawResult) {
	c.mu.Lock()
	if raw.SessionID == "" || raw.SessionID != c.sessionID {
		c.mu.Unlock()
		return
	}
	rec := c.rec
	c.mu.Unlock()

	if raw.Result.Err != nil {
		return
	}

	text := c.post.Process(raw.Result)
	if strings.TrimSpace(text) == "" && !raw.Result.EndOfUtterance {
		return
	}

	if c.streaming {
		edit := rec.Push(text, raw.Result.EndOfUtterance)
		if edit.Retract > 0 || edit.Append != "" {
			c.sink.ApplyEdit(edit.Retract, edit.Append)
		}
		if raw.Result.EndOfUtterance && strings.TrimSpace(text) != "" {
			log.TranscriptionText(text)
		}
		return
	}
	if raw.Result.EndOfUtterance && strings.TrimSpace(text) != "" {
		c.sink.WriteText(text)
		log.TranscriptionText(text)
	}
}

// Edge predicates consumed by the input collaborator. Pure functions of
// current state and configured mode.

func (c *Controller) ShouldStartOnPress() bool {
	return c.State() == Idle
}

func (c *Controller) ShouldStopOnPress() bool {
	if c.State() != Recording {
		return false
	}
	switch c.mode {
	case config.PressToToggle, config.Continuous, config.VoiceActivityDetection:
		return true
	}
	return false
}

func (c *Controller) ShouldStopOnRelease() bool {
	return c.State() == Recording && c.mode == config.HoldToRecord
}

// Close cancels the controller's bus subscriptions.
func (c *Controller) Close() {
	for _, s := range c.subs {
		s.Cancel()
	}
	c.subs = nil
}
