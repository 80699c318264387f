package vad

import (
	"fmt"
	"math"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTC classifies frames with the WebRTC voice activity detector.
// Valid frames are 10, 20 or 30 ms at 8, 16, 32 or 48 kHz.
type WebRTC struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

// NewWebRTC builds a WebRTC classifier. Aggressiveness runs from 0 (least
// strict) to 3 (most frames rejected as non-speech).
func NewWebRTC(aggressiveness int) (*WebRTC, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}
	if err := v.SetMode(clampAggressiveness(aggressiveness)); err != nil {
		return nil, fmt.Errorf("%w: set mode: %v", ErrEngineInit, err)
	}
	return &WebRTC{vad: v}, nil
}

func (w *WebRTC) IsSpeech(frame Frame, sampleRate int) (bool, error) {
	buf := frame.Bytes()
	if !webrtcvad.ValidRateAndFrameLength(sampleRate, len(frame)) {
		return false, fmt.Errorf("unsupported rate/frame %d/%d", sampleRate, len(frame))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vad.Process(sampleRate, buf)
}

// energyThresholds are normalised RMS levels per aggressiveness level.
var energyThresholds = [4]float64{0.006, 0.01, 0.015, 0.025}

// Energy is an RMS threshold classifier, used when WebRTC VAD is unavailable.
type Energy struct {
	Threshold float64
}

// NewEnergy returns an Energy classifier whose threshold rises with
// aggressiveness.
func NewEnergy(aggressiveness int) *Energy {
	return &Energy{Threshold: energyThresholds[clampAggressiveness(aggressiveness)]}
}

func (e *Energy) IsSpeech(frame Frame, _ int) (bool, error) {
	return RMS(frame) > e.Threshold, nil
}

// RMS returns the normalised root-mean-square level of frame in [0, 1].
func RMS(frame Frame) float64 {
	if len(frame) == 0 {
		return 0
	}
	var s float64
	for _, x := range frame {
		v := float64(x) / 32768.0
		s += v * v
	}
	return math.Sqrt(s / float64(len(frame)))
}

// NewClassifier prefers WebRTC VAD and degrades to the energy classifier.
// When it degrades, the returned error wraps ErrEngineInit so the caller can
// tell the user noise reduction is off; the classifier is still usable.
func NewClassifier(aggressiveness int) (Classifier, error) {
	w, err := NewWebRTC(aggressiveness)
	if err != nil {
		return NewEnergy(aggressiveness), err
	}
	return w, nil
}

func clampAggressiveness(a int) int {
	if a < 0 {
		return 0
	}
	if a > 3 {
		return 3
	}
	return a
}
