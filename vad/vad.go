// Package vad classifies audio frames as speech or silence. The production
// detector wraps the WebRTC VAD; an energy-based detector exists for
// environments (and tests) where the cgo binding is unavailable.
package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// Detector classifies one frame of float32 samples in [-1, 1]. Frames must be
// exactly FrameSize(rate, ...) samples long.
type Detector interface {
	IsSpeech(frame []float32) bool
}

// validFrameDurations are the frame lengths, in milliseconds, accepted by the
// WebRTC VAD.
var validFrameDurations = [...]int{30, 20, 10}

// FrameSize picks the capture frame length in samples. Streaming sessions use
// the largest VAD-standard duration that evenly divides the backend's
// preferred chunk size, so chunk slicing never splits a frame. Non-streaming
// sessions always use 30 ms frames.
func FrameSize(sampleRate, streamingChunkSize int, streaming bool) int {
	if !streaming {
		return sampleRate * 30 / 1000
	}
	for _, ms := range validFrameDurations {
		size := sampleRate * ms / 1000
		if streamingChunkSize%size == 0 {
			return size
		}
	}
	return sampleRate * 10 / 1000
}

const webrtcMode = 2 // aggressiveness 0..3

type webrtcDetector struct {
	vad        *webrtcvad.VAD
	sampleRate int
	buf        []byte
}

// NewWebRTC returns a Detector backed by the WebRTC VAD.
func NewWebRTC(sampleRate int) (Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtcvad init: %w", err)
	}
	if err := v.SetMode(webrtcMode); err != nil {
		return nil, fmt.Errorf("webrtcvad mode: %w", err)
	}
	return &webrtcDetector{vad: v, sampleRate: sampleRate}, nil
}

func (d *webrtcDetector) IsSpeech(frame []float32) bool {
	if cap(d.buf) < len(frame)*2 {
		d.buf = make([]byte, len(frame)*2)
	}
	d.buf = d.buf[:len(frame)*2]
	for i, s := range frame {
		v := int16(s * 32767)
		d.buf[i*2] = byte(v)
		d.buf[i*2+1] = byte(v >> 8)
	}
	active, err := d.vad.Process(d.sampleRate, d.buf)
	if err != nil {
		return false
	}
	return active
}
