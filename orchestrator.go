package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"

	"murmur/audio"
	"murmur/bus"
	"murmur/config"
	"murmur/log"
	"murmur/session"
	"murmur/transcriber"
)

// profileRuntime groups the per-profile collaborators: the chunk queue shared
// between capture and transcription, the coordinator owning the backend, and
// the session state machine.
type profileRuntime struct {
	profile config.Profile
	queue   audio.Queue
	coord   *transcriber.Coordinator
	ctl     *session.Controller
}

// SinkFactory builds the output sink for one profile.
type SinkFactory func(p config.Profile) session.OutputSink

// Orchestrator is the top-level coordinator: it owns the capture engine, one
// runtime per profile, and the session-id routing table. The routing table
// has a single writer (orchestrator methods); event handlers resolve profiles
// through it.
type Orchestrator struct {
	events *bus.Bus
	engine *audio.Engine
	cfg    *config.Config

	mu              sync.Mutex
	profiles        map[string]*profileRuntime
	sessions        map[string]string // session id -> profile name
	manuallyStopped map[string]struct{}
	closed          bool

	subs []*bus.Subscription
}

func NewOrchestrator(cfg *config.Config, events *bus.Bus, engine *audio.Engine, sinks SinkFactory) (*Orchestrator, error) {
	o := &Orchestrator{
		events:          events,
		engine:          engine,
		cfg:             cfg,
		profiles:        make(map[string]*profileRuntime),
		sessions:        make(map[string]string),
		manuallyStopped: make(map[string]struct{}),
	}

	for _, p := range cfg.Profiles {
		backend, err := transcriber.New(p.Backend)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.Name, err)
		}
		queue := audio.NewQueue()
		coord := transcriber.NewCoordinator(p.Name, backend, events, queue, p.Streaming, p.BackendOptions)
		ctl := session.NewController(p.Name, p.Mode, p.Streaming, events, coord, nil, sinks(p))
		o.profiles[p.Name] = &profileRuntime{profile: p, queue: queue, coord: coord, ctl: ctl}
	}

	o.subs = append(o.subs,
		events.Subscribe(bus.RecordingStopped, func(payload any) {
			if sid, ok := payload.(string); ok {
				o.handleRecordingStopped(sid)
			}
		}),
		events.Subscribe(bus.AudioDiscarded, func(payload any) {
			if sid, ok := payload.(string); ok {
				o.handleAudioDiscarded(sid)
			}
		}),
		events.Subscribe(bus.TranscriptionComplete, func(payload any) {
			if sid, ok := payload.(string); ok {
				o.handleTranscriptionComplete(sid)
			}
		}),
	)
	return o, nil
}

// Start initializes every profile's backend and spawns the capture goroutine.
// A backend initialization failure aborts startup, tears down whatever was
// already started, and reports one consolidated error.
func (o *Orchestrator) Start() error {
	var started []*profileRuntime
	for _, rt := range o.profiles {
		if err := rt.coord.Start(); err != nil {
			for _, s := range started {
				s.coord.Cleanup()
			}
			return fmt.Errorf("starting profile %s: %w", rt.profile.Name, err)
		}
		started = append(started, rt)
	}
	o.engine.Start()
	return nil
}

// StartRecording begins a new session for the named profile. Refused (logged,
// no-op) while the profile is busy or any recording occupies the engine.
func (o *Orchestrator) StartRecording(name string) {
	o.mu.Lock()
	rt, ok := o.profiles[name]
	if !ok {
		o.mu.Unlock()
		log.Warnf("start: unknown profile %q", name)
		return
	}
	if o.closed || !rt.ctl.IsIdle() || o.engine.IsRecording() {
		o.mu.Unlock()
		log.Warnf("%s: start ignored; a recording is already active", name)
		return
	}
	delete(o.manuallyStopped, name)
	sid := uuid.NewString()
	o.sessions[sid] = name
	o.mu.Unlock()

	log.SessionStart(name, rt.profile.Backend, sid)
	rt.ctl.StartTranscription(sid)
	o.engine.StartRecording(o.recordingContext(rt, sid))
}

// StopRecording ends the named profile's active session. In continuous mode
// an explicit stop also suppresses the auto-restart.
func (o *Orchestrator) StopRecording(name string) {
	o.mu.Lock()
	rt, ok := o.profiles[name]
	if !ok {
		o.mu.Unlock()
		log.Warnf("stop: unknown profile %q", name)
		return
	}
	if !rt.ctl.IsRecording() {
		o.mu.Unlock()
		log.Warnf("%s: stop ignored; not recording", name)
		return
	}
	if rt.profile.Mode == config.Continuous {
		o.manuallyStopped[name] = struct{}{}
	}
	o.mu.Unlock()

	o.engine.StopRecording()
	rt.ctl.RecordingStopped()
}

func (o *Orchestrator) recordingContext(rt *profileRuntime, sid string) *audio.RecordingContext {
	p := rt.profile
	chunkSize := 0
	if p.Streaming {
		chunkSize = rt.coord.PreferredStreamingChunkSize()
	}
	return &audio.RecordingContext{
		SessionID:       sid,
		Profile:         p.Name,
		Queue:           rt.queue,
		SampleRate:      p.SampleRate,
		Channels:        config.DefaultChannels,
		Gain:            p.Gain,
		Language:        p.Language,
		Streaming:       p.Streaming,
		ChunkSize:       chunkSize,
		UseVAD:          p.Mode.UsesVAD(),
		SilenceDuration: p.SilenceDuration(),
	}
}

func (o *Orchestrator) resolve(sessionID string) *profileRuntime {
	o.mu.Lock()
	defer o.mu.Unlock()
	name, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}
	return o.profiles[name]
}

// handleRecordingStopped routes a VAD auto-stop to the owning controller.
func (o *Orchestrator) handleRecordingStopped(sessionID string) {
	if rt := o.resolve(sessionID); rt != nil {
		rt.ctl.RecordingStopped()
	}
}

// handleAudioDiscarded routes a no-speech / too-short capture: the controller
// leaves Recording, and the queue sentinel drives it to completion.
func (o *Orchestrator) handleAudioDiscarded(sessionID string) {
	rt := o.resolve(sessionID)
	if rt == nil {
		return
	}
	log.Infof("%s: audio discarded", rt.profile.Name)
	rt.ctl.RecordingStopped()
}

// handleTranscriptionComplete retires the session mapping, chimes when
// configured, and restarts continuous profiles that were not manually stopped.
func (o *Orchestrator) handleTranscriptionComplete(sessionID string) {
	o.mu.Lock()
	name, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.sessions, sessionID)
	rt := o.profiles[name]
	_, stopped := o.manuallyStopped[name]
	if stopped {
		delete(o.manuallyStopped, name)
	}
	closed := o.closed
	o.mu.Unlock()

	log.SessionEnd(name, sessionID)

	if o.cfg.ChimeOnCompletion && !closed {
		go func() {
			if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
				log.Warnf("chime: %v", err)
			}
		}()
	}

	if rt.profile.Mode == config.Continuous && !stopped && !closed {
		o.StartRecording(name)
	}
}

// Status returns one line per profile with its current state, plus the
// engine state.
func (o *Orchestrator) Status() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.profiles))
	for name := range o.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names)+1)
	for _, name := range names {
		rt := o.profiles[name]
		lines = append(lines, fmt.Sprintf("%-12s %-24s %s", name, rt.profile.Mode, rt.ctl.State()))
	}
	state := "idle"
	switch o.engine.State() {
	case audio.EngineStopped:
		state = "stopped"
	case audio.EngineRecording:
		state = "recording"
	}
	return append(lines, "engine: "+state)
}

// Cleanup tears everything down in dependency order: the capture engine stops
// first so no worker receives chunks for a controller that no longer exists,
// then every still-open session is force-finished, then the controllers and
// coordinators go.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	open := make([]string, 0, len(o.sessions))
	for _, name := range o.sessions {
		open = append(open, name)
	}
	o.mu.Unlock()

	o.engine.Stop()

	for _, name := range open {
		if rt := o.profiles[name]; rt != nil {
			rt.ctl.FinishTranscription()
		}
	}

	for _, rt := range o.profiles {
		rt.ctl.Close()
		rt.coord.Cleanup()
	}

	for _, s := range o.subs {
		s.Cancel()
	}
	o.subs = nil

	o.mu.Lock()
	o.sessions = make(map[string]string)
	o.manuallyStopped = make(map[string]struct{})
	o.mu.Unlock()
}
