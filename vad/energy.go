package vad

import "math"

// EnergyDetector is a pure-Go fallback classifier using RMS energy against a
// fixed threshold. It is far cruder than the WebRTC model but has no cgo
// dependency, which also makes it the detector of choice in tests.
type EnergyDetector struct {
	Threshold float64 // RMS over normalized samples; 0 means DefaultEnergyThreshold
}

const DefaultEnergyThreshold = 0.01

func (d EnergyDetector) IsSpeech(frame []float32) bool {
	if len(frame) == 0 {
		return false
	}
	threshold := d.Threshold
	if threshold == 0 {
		threshold = DefaultEnergyThreshold
	}
	var sumSquares float64
	for _, s := range frame {
		sumSquares += float64(s) * float64(s)
	}
	return math.Sqrt(sumSquares/float64(len(frame))) >= threshold
}
