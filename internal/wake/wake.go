// Package wake spots the wake word in a stream of microphone frames.
package wake

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"
)

// ErrEngineInit is returned when the wake-word engine cannot start, for
// example without an access key. Callers fall back to continuous listening.
var ErrEngineInit = errors.New("wake: engine init failed")

// Spotter consumes frames of exactly FrameLength samples at SampleRate and
// reports when the wake word was heard.
type Spotter interface {
	Feed(frame []int16) (bool, error)
	FrameLength() int
	SampleRate() int
	Close() error
}

// Keyword is the built-in keyword the assistant answers to.
const Keyword = "computer"

// Porcupine is a Spotter backed by Picovoice Porcupine.
type Porcupine struct {
	mu     sync.Mutex
	engine porcupine.Porcupine
	closed bool
}

// NewPorcupine starts Porcupine with the built-in "computer" keyword.
// sensitivity is clamped to [0, 1].
func NewPorcupine(accessKey string, sensitivity float32) (*Porcupine, error) {
	if strings.TrimSpace(accessKey) == "" {
		return nil, fmt.Errorf("%w: missing access key", ErrEngineInit)
	}

	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}

	p := &Porcupine{
		engine: porcupine.Porcupine{
			AccessKey:       accessKey,
			BuiltInKeywords: []porcupine.BuiltInKeyword{porcupine.COMPUTER},
			Sensitivities:   []float32{sensitivity},
		},
	}

	if err := p.engine.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}

	return p, nil
}

func (p *Porcupine) FrameLength() int { return porcupine.FrameLength }

func (p *Porcupine) SampleRate() int { return porcupine.SampleRate }

func (p *Porcupine) Feed(frame []int16) (bool, error) {
	if len(frame) != porcupine.FrameLength {
		return false, fmt.Errorf("wake: frame has %d samples, want %d", len(frame), porcupine.FrameLength)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, errors.New("wake: spotter closed")
	}

	idx, err := p.engine.Process(frame)
	if err != nil {
		return false, fmt.Errorf("wake: process: %w", err)
	}

	return idx >= 0, nil
}

func (p *Porcupine) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.engine.Delete()
}
