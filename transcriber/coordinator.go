package transcriber

import (
	"context"
	"sync"
	"time"

	"murmur/audio"
	"murmur/bus"
	"murmur/log"
)

// command is the worker protocol: either "process this session" or "exit".
// A single command channel replaces the wake/stop flag pair so there is no
// window where a cleared flag races a new session.
type command struct {
	sessionID string
	stop      bool
}

// Coordinator owns one backend instance and the worker goroutine that feeds
// it. The worker is the only goroutine that ever touches the backend after
// initialization.
type Coordinator struct {
	profile   string
	backend   Backend
	events    *bus.Bus
	queue     audio.Queue
	streaming bool
	opts      map[string]any

	mu      sync.Mutex
	running bool
	cmds    chan command
	done    chan struct{}
}

func NewCoordinator(profile string, backend Backend, events *bus.Bus, queue audio.Queue, streaming bool, opts map[string]any) *Coordinator {
	return &Coordinator{
		profile:   profile,
		backend:   backend,
		events:    events,
		queue:     queue,
		streaming: streaming,
		opts:      opts,
	}
}

func (c *Coordinator) PreferredStreamingChunkSize() int {
	return c.backend.PreferredStreamingChunkSize()
}

// Start initializes the backend if needed and spawns the worker. A backend
// initialization failure is returned as *InitError and leaves the worker
// unspawned; it is not retried.
func (c *Coordinator) Start() error {
	if !c.backend.IsInitialized() {
		if err := c.backend.Initialize(c.opts); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.cmds = make(chan command, 4)
	c.done = make(chan struct{})
	go c.worker()
	return nil
}

// StartTranscription tells the worker to process the given session's queue.
func (c *Coordinator) StartTranscription(sessionID string) {
	c.mu.Lock()
	running := c.running
	cmds := c.cmds
	c.mu.Unlock()
	if !running {
		log.Warnf("%s: transcription requested but coordinator not started", c.profile)
		return
	}
	cmds <- command{sessionID: sessionID}
}

// Stop signals the worker to exit and joins it with a bounded timeout.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cmds := c.cmds
	done := c.done
	c.mu.Unlock()

	cmds <- command{stop: true}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Warnf("%s: transcription worker did not terminate within 2s", c.profile)
	}
}

// Cleanup stops the worker and releases backend resources.
func (c *Coordinator) Cleanup() {
	c.Stop()
	c.backend.Cleanup()
}

func (c *Coordinator) worker() {
	defer close(c.done)
	for cmd := range c.cmds {
		if cmd.stop {
			return
		}
		if c.process(cmd.sessionID) {
			return
		}
	}
}

// process drains one session's queue. It returns true when a stop command
// arrived mid-session. Whatever the exit path, transcription_finished is
// published exactly once.
func (c *Coordinator) process(sessionID string) (stopped bool) {
	defer c.events.Publish(bus.TranscriptionFinished, c.profile)

	if c.streaming {
		return c.processStreaming(sessionID)
	}
	return c.processBatch(sessionID)
}

func (c *Coordinator) processStreaming(sessionID string) (stopped bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := c.backend.ProcessStream(ctx, c.queue)
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return false
			}
			c.emit(r, sessionID)
		case cmd := <-c.cmds:
			if cmd.stop {
				cancel()
				for range results {
				}
				return true
			}
			log.Warnf("%s: session %s requested while busy; dropped", c.profile, cmd.sessionID)
		}
	}
}

func (c *Coordinator) processBatch(sessionID string) (stopped bool) {
	for {
		select {
		case chunk := <-c.queue:
			if chunk == nil {
				return false
			}
			start := time.Now()
			r := c.backend.TranscribeComplete(chunk.Samples, chunk.SampleRate, chunk.Channels, chunk.Language)
			r.EndOfUtterance = true
			log.Infof("%s: transcribed %.1fs chunk in %.2fs", c.profile, chunk.Duration(), time.Since(start).Seconds())
			c.emit(r, sessionID)
		case cmd := <-c.cmds:
			if cmd.stop {
				return true
			}
			log.Warnf("%s: session %s requested while busy; dropped", c.profile, cmd.sessionID)
		}
	}
}

func (c *Coordinator) emit(r Result, sessionID string) {
	if r.Err != nil {
		c.events.Publish(bus.TranscriptionError, r.Err)
	}
	c.events.Publish(bus.RawTranscriptionResult, RawResult{Result: r, SessionID: sessionID})
}
