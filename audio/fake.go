package audio

import (
	"sync"
	"time"
)

const fakeFrameSize = 480 // 30ms at 16kHz

// FakeContext replays a fixed sample buffer through the CaptureDevice
// interface, then feeds silence until stopped. It drives the capture engine
// in tests and in the stdin-driven simulation mode.
type FakeContext struct {
	samples  []float32
	realtime bool
	rate     int
}

func NewFakeContext(samples []float32, sampleRate int, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, realtime: realtime, rate: sampleRate}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{samples: f.samples, realtime: f.realtime, rate: f.rate}, nil
}

type FakeCapture struct {
	samples  []float32
	realtime bool
	rate     int

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) current() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	interval := time.Duration(0)
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]float32, fakeFrameSize)
		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.current()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.samples) {
				end := min(pos+fakeFrameSize, len(f.samples))
				cb(f.samples[pos:end])
				pos = end
			} else {
				cb(silence)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(max(interval, time.Millisecond)):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
}

func (f *FakeCapture) Close() {}
