package audio

import (
	"sync/atomic"
	"time"

	"murmur/bus"
	"murmur/log"
	"murmur/vad"
)

type EngineState int32

const (
	EngineStopped EngineState = iota // no device held
	EngineIdle                       // capture goroutine alive, awaiting a request
	EngineRecording                  // actively streaming to a session
)

// RecordingContext binds one capture to a session and its destination queue.
// Created per recording command, never reused across sessions.
type RecordingContext struct {
	SessionID string
	Profile   string
	Queue     Queue

	SampleRate int
	Channels   int
	Gain       float32
	Language   string

	Streaming bool
	ChunkSize int // samples per streaming chunk (backend preference)

	UseVAD          bool
	SilenceDuration time.Duration
}

// EngineConfig carries the cross-session capture settings.
type EngineConfig struct {
	SaveDebugAudio bool
	DebugAudioDir  string

	// NewDetector builds the per-session VAD classifier. Nil means the
	// WebRTC detector.
	NewDetector func(sampleRate int) (vad.Detector, error)
}

// Skip VAD classification for the first 150ms of a recording so input-device
// transients (key clicks, stream spin-up pops) cannot register as speech.
const vadWarmup = 150 * time.Millisecond

const minCaptureDuration = 200 * time.Millisecond

// Engine owns the microphone device. One long-lived capture goroutine
// consumes recording requests from a channel; a nil request is the stop
// sentinel that ends the current capture (or just wakes the loop when idle).
// No other goroutine touches the device.
type Engine struct {
	events *bus.Bus
	ctx    Context
	device *DeviceInfo
	cfg    EngineConfig

	state    atomic.Int32
	requests chan *RecordingContext
	done     chan struct{}
	started  atomic.Bool
}

func NewEngine(events *bus.Bus, ctx Context, device *DeviceInfo, cfg EngineConfig) *Engine {
	if cfg.NewDetector == nil {
		cfg.NewDetector = vad.NewWebRTC
	}
	return &Engine{
		events:   events,
		ctx:      ctx,
		device:   device,
		cfg:      cfg,
		requests: make(chan *RecordingContext, 8),
		done:     make(chan struct{}),
	}
}

func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

func (e *Engine) IsRecording() bool {
	return e.State() == EngineRecording
}

// Start spawns the capture goroutine. Engines are single-use: calling Start
// again, even after Stop, is a no-op.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.state.Store(int32(EngineIdle))
	go e.run()
}

// StartRecording enqueues a recording request. It takes effect when the
// engine is idle; requests sent to a stopped engine are dropped.
func (e *Engine) StartRecording(rc *RecordingContext) {
	if e.State() == EngineStopped || rc == nil {
		return
	}
	e.requests <- rc
}

// StopRecording enqueues a stop sentinel; the current capture loop exits at
// its next poll.
func (e *Engine) StopRecording() {
	if e.State() == EngineStopped {
		return
	}
	select {
	case e.requests <- nil:
	default:
	}
}

// Stop terminates the capture goroutine and waits for it with a bounded
// timeout. The device context is released by the goroutine itself on exit, so
// a join timeout never races an in-flight device read; it is logged and the
// goroutine keeps owning the handle until it actually finishes.
func (e *Engine) Stop() {
	if !e.started.Load() {
		e.ctx.Close()
		return
	}
	if e.State() == EngineStopped {
		return
	}
	e.state.Store(int32(EngineStopped))
	select {
	case e.requests <- nil:
	default:
	}
	select {
	case <-e.done:
	case <-time.After(2 * time.Second):
		log.Warn("capture goroutine did not terminate within 2s; device release deferred to it")
	}
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.ctx.Close()

	var next *RecordingContext
	for e.State() != EngineStopped {
		rc := next
		next = nil
		if rc == nil {
			var ok bool
			select {
			case rc, ok = <-e.requests:
				if !ok || rc == nil {
					continue
				}
			case <-time.After(200 * time.Millisecond):
				continue
			}
		}
		if e.State() == EngineStopped {
			break
		}
		e.state.Store(int32(EngineRecording))
		next = e.record(rc)
		if e.State() != EngineStopped {
			e.state.Store(int32(EngineIdle))
		}
	}
}

// record runs one capture. It returns a recording request that arrived while
// capturing, if any, so the run loop can serve it next.
func (e *Engine) record(rc *RecordingContext) (next *RecordingContext) {
	var detector vad.Detector
	if rc.UseVAD {
		var err error
		detector, err = e.cfg.NewDetector(rc.SampleRate)
		if err != nil {
			log.Errorf("vad init: %v", err)
			e.discard(rc)
			return nil
		}
	}

	frameSize := vad.FrameSize(rc.SampleRate, rc.ChunkSize, rc.Streaming)
	frameDur := time.Duration(frameSize) * time.Second / time.Duration(rc.SampleRate)
	warmupFrames := int(vadWarmup / frameDur)
	silenceFrames := int(rc.SilenceDuration / frameDur)

	capture, err := e.ctx.NewCapture(e.device, CaptureConfig{
		SampleRate: uint32(rc.SampleRate),
		Channels:   uint32(rc.Channels),
	})
	if err != nil {
		log.Errorf("capture open: %v", err)
		e.discard(rc)
		return nil
	}

	var debug *debugRecorder
	if e.cfg.SaveDebugAudio {
		debug, err = newDebugRecorder(e.cfg.DebugAudioDir, rc.Profile, rc.SampleRate, rc.Channels)
		if err != nil {
			log.Warnf("debug recording disabled: %v", err)
		}
	}

	frames := make(chan []float32, 32)
	capture.SetCallback(func(samples []float32) {
		cp := make([]float32, len(samples))
		copy(cp, samples)
		select {
		case frames <- cp:
		default:
			// consumer behind; dropping is better than stalling the device
		}
	})

	var (
		pending     []float32 // raw samples awaiting frame alignment
		accumulated []float32 // gained, clamped samples not yet emitted
		total       int       // samples captured this session
		speechSeen  bool
		silentRun   int
		autoStopped bool
	)

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		if debug != nil {
			debug.Close()
		}
		log.Errorf("capture start: %v", err)
		e.discard(rc)
		return nil
	}

loop:
	for {
		select {
		case req := <-e.requests:
			if req != nil {
				next = req
			}
			break loop
		case raw := <-frames:
			for i, s := range raw {
				s *= rc.Gain
				if s > 1.0 {
					s = 1.0
				} else if s < -1.0 {
					s = -1.0
				}
				raw[i] = s
			}
			pending = append(pending, raw...)

			for len(pending) >= frameSize {
				frame := pending[:frameSize]
				pending = pending[frameSize:]
				total += frameSize
				accumulated = append(accumulated, frame...)

				if debug != nil {
					if err := debug.Write(frame); err != nil {
						log.Warnf("debug write: %v", err)
						debug.Close()
						debug = nil
					}
				}

				if rc.Streaming {
					for len(accumulated) >= rc.ChunkSize {
						e.push(rc, accumulated[:rc.ChunkSize:rc.ChunkSize])
						accumulated = accumulated[rc.ChunkSize:]
					}
				}

				if detector == nil {
					continue
				}
				if warmupFrames > 0 {
					warmupFrames--
					continue
				}
				if detector.IsSpeech(frame) {
					silentRun = 0
					if !speechSeen {
						speechSeen = true
						log.Info("speech detected")
					}
				} else {
					silentRun++
				}
				if speechSeen && silentRun > silenceFrames {
					autoStopped = true
					break loop
				}
			}
		}
		if e.State() == EngineStopped {
			break
		}
	}

	capture.Stop()
	capture.ClearCallback()
	capture.Close()
	if debug != nil {
		if err := debug.Close(); err != nil {
			log.Warnf("debug close: %v", err)
		}
	}

	duration := float64(total) / float64(rc.SampleRate)
	if !rc.Streaming {
		e.finalize(rc, accumulated, speechSeen, duration)
	}

	// Return to Idle before the sentinel goes out: consumers react to the
	// sentinel by finishing the session, and a continuous-mode restart must
	// observe the engine as available by then.
	if next == nil && e.State() != EngineStopped {
		e.state.Store(int32(EngineIdle))
	}

	// End-of-audio sentinel: the consumer learns no more chunks are coming.
	rc.Queue <- nil

	log.Capture(rc.SessionID, duration, speechSeen, autoStopped)
	if autoStopped && e.State() != EngineStopped {
		e.events.Publish(bus.RecordingStopped, rc.SessionID)
	}
	return next
}

// finalize decides what happens to a non-streaming capture: discard when VAD
// never saw speech or the take is too short, otherwise emit it as one chunk.
func (e *Engine) finalize(rc *RecordingContext, samples []float32, speechSeen bool, duration float64) {
	switch {
	case rc.UseVAD && !speechSeen:
		log.Infof("session %s discarded: no speech detected", rc.SessionID)
		e.events.Publish(bus.AudioDiscarded, rc.SessionID)
	case duration >= minCaptureDuration.Seconds():
		e.push(rc, samples)
	default:
		log.Infof("session %s discarded: too short (%.2fs)", rc.SessionID, duration)
		e.events.Publish(bus.AudioDiscarded, rc.SessionID)
	}
}

func (e *Engine) push(rc *RecordingContext, samples []float32) {
	rc.Queue <- &Chunk{
		SessionID:  rc.SessionID,
		SampleRate: rc.SampleRate,
		Channels:   rc.Channels,
		Language:   rc.Language,
		Samples:    samples,
	}
}

// discard reports a capture that never produced audio: the consumer still
// gets its sentinel and the orchestrator gets a discard event.
func (e *Engine) discard(rc *RecordingContext) {
	if e.State() != EngineStopped {
		e.state.Store(int32(EngineIdle))
	}
	rc.Queue <- nil
	e.events.Publish(bus.AudioDiscarded, rc.SessionID)
}
