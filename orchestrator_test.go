package main

import (
	"math"
	"sync"
	"testing"
	"time"

	"murmur/audio"
	"murmur/bus"
	"murmur/config"
	"murmur/session"
	"murmur/vad"
)

type testSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *testSink) WriteText(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func (s *testSink) ApplyEdit(int, string) {}

func (s *testSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func speechSamples(seconds float64) []float32 {
	samples := make([]float32, int(16000*seconds))
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return samples
}

func testProfile(name string, mode config.RecordingMode) config.Profile {
	return config.Profile{
		Name:           name,
		Mode:           mode,
		Backend:        "fake",
		BackendOptions: map[string]any{"text": "hello from fake"},
		SampleRate:     16000,
		Gain:           1.0,
		SilenceMs:      300,
	}
}

// newTestOrchestrator wires a full pipeline against the fake capture backend
// and the scripted transcriber.
func newTestOrchestrator(t *testing.T, samples []float32, profiles ...config.Profile) (*Orchestrator, *bus.Bus, *testSink) {
	t.Helper()
	cfg := &config.Config{Profiles: profiles}
	events := bus.New()
	ctx := audio.NewFakeContext(samples, 16000, false)
	engine := audio.NewEngine(events, ctx, nil, audio.EngineConfig{
		NewDetector: func(int) (vad.Detector, error) { return vad.EnergyDetector{}, nil },
	})
	sink := &testSink{}
	orch, err := NewOrchestrator(cfg, events, engine, func(config.Profile) session.OutputSink { return sink })
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orch.Cleanup)
	return orch, events, sink
}

func completions(events *bus.Bus) chan string {
	ch := make(chan string, 16)
	events.Subscribe(bus.TranscriptionComplete, func(p any) {
		if sid, ok := p.(string); ok {
			select {
			case ch <- sid:
			default:
			}
		}
	})
	return ch
}

func waitCompletion(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case sid := <-ch:
		return sid
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transcription_complete")
		return ""
	}
}

func controllerState(o *Orchestrator, name string) session.State {
	return o.profiles[name].ctl.State()
}

func TestBatchSessionEndToEnd(t *testing.T) {
	orch, events, sink := newTestOrchestrator(t, speechSamples(2), testProfile("notes", config.PressToToggle))
	done := completions(events)

	orch.StartRecording("notes")
	time.Sleep(30 * time.Millisecond)
	orch.StopRecording("notes")

	waitCompletion(t, done)
	if got := sink.all(); len(got) != 1 || got[0] != "hello from fake" {
		t.Fatalf("sink received %v", got)
	}
	if s := controllerState(orch, "notes"); s != session.Idle {
		t.Fatalf("controller state %v after completion", s)
	}
}

func TestStartRefusedWhileEngineBusy(t *testing.T) {
	orch, events, _ := newTestOrchestrator(t, nil,
		testProfile("a", config.PressToToggle),
		testProfile("b", config.PressToToggle))
	done := completions(events)

	orch.StartRecording("a")
	time.Sleep(20 * time.Millisecond)

	// Engine is occupied by profile a; both of these must be refused.
	orch.StartRecording("b")
	orch.StartRecording("a")

	if s := controllerState(orch, "b"); s != session.Idle {
		t.Fatalf("profile b state %v, want idle", s)
	}
	orch.mu.Lock()
	open := len(orch.sessions)
	orch.mu.Unlock()
	if open != 1 {
		t.Fatalf("%d sessions open, want 1", open)
	}

	orch.StopRecording("a")
	waitCompletion(t, done)
}

func TestStopIsIdempotentPerProfile(t *testing.T) {
	orch, events, _ := newTestOrchestrator(t, speechSamples(2), testProfile("notes", config.PressToToggle))
	done := completions(events)

	orch.StartRecording("notes")
	time.Sleep(20 * time.Millisecond)
	orch.StopRecording("notes")
	orch.StopRecording("notes") // second stop must be a no-op

	waitCompletion(t, done)
	select {
	case sid := <-done:
		t.Fatalf("duplicate completion %q", sid)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestContinuousModeRestartsWithFreshSession(t *testing.T) {
	// Speech then silence: VAD auto-stops each session, and completion must
	// start the next one without any explicit command.
	orch, events, _ := newTestOrchestrator(t, speechSamples(0.8), testProfile("dictation", config.Continuous))
	done := completions(events)

	orch.StartRecording("dictation")

	first := waitCompletion(t, done)
	second := waitCompletion(t, done)
	if first == second {
		t.Fatalf("restarted session reused id %q", first)
	}
	// Cleanup (registered above) halts the self-restarting loop.
}

func TestManualStopSuppressesContinuousRestart(t *testing.T) {
	// Silence only: VAD never auto-stops, so the stop below is unambiguously
	// manual.
	orch, events, _ := newTestOrchestrator(t, nil, testProfile("dictation", config.Continuous))
	done := completions(events)

	orch.StartRecording("dictation")
	time.Sleep(30 * time.Millisecond)
	orch.StopRecording("dictation")

	waitCompletion(t, done)
	select {
	case sid := <-done:
		t.Fatalf("auto-restart after manual stop (session %q)", sid)
	case <-time.After(300 * time.Millisecond):
	}
	if s := controllerState(orch, "dictation"); s != session.Idle {
		t.Fatalf("controller state %v after manual stop", s)
	}

	// The marker was consumed: an explicit start works again.
	orch.StartRecording("dictation")
	orch.mu.Lock()
	open := len(orch.sessions)
	orch.mu.Unlock()
	if open != 1 {
		t.Fatal("explicit restart after manual stop was refused")
	}
}

func TestSilentCaptureIsDiscardedWithoutOutput(t *testing.T) {
	orch, events, sink := newTestOrchestrator(t, nil, testProfile("notes", config.VoiceActivityDetection))
	done := completions(events)

	orch.StartRecording("notes")
	time.Sleep(30 * time.Millisecond)
	orch.StopRecording("notes")

	waitCompletion(t, done)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("discarded capture still produced output: %v", got)
	}
}

func TestCleanupForceFinishesOpenSessions(t *testing.T) {
	orch, events, _ := newTestOrchestrator(t, nil, testProfile("notes", config.PressToToggle))
	done := completions(events)

	orch.StartRecording("notes")
	time.Sleep(20 * time.Millisecond)

	orch.Cleanup()
	waitCompletion(t, done)
	if s := controllerState(orch, "notes"); s != session.Idle {
		t.Fatalf("controller state %v after cleanup", s)
	}

	// A closed orchestrator refuses new work, quietly.
	orch.StartRecording("notes")
	orch.mu.Lock()
	open := len(orch.sessions)
	orch.mu.Unlock()
	if open != 0 {
		t.Fatalf("%d sessions open after cleanup", open)
	}
}

func TestUnknownProfileIsLoggedNoOp(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, nil, testProfile("notes", config.PressToToggle))
	orch.StartRecording("nope")
	orch.StopRecording("nope")
}

func TestInitFailureAbortsStartup(t *testing.T) {
	p := testProfile("broken", config.PressToToggle)
	p.Backend = "unsupported"
	cfg := &config.Config{Profiles: []config.Profile{p}}
	engine := audio.NewEngine(bus.New(), audio.NewFakeContext(nil, 16000, false), nil, audio.EngineConfig{})
	_, err := NewOrchestrator(cfg, bus.New(), engine, func(config.Profile) session.OutputSink { return &testSink{} })
	if err == nil {
		t.Fatal("expected constructor error for unsupported backend")
	}
}
