package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const playerSampleRate = beep.SampleRate(44100)

// Player plays mp3 and wav files through the default output device.
type Player struct {
	mu     sync.Mutex
	inited bool
}

func NewPlayer() *Player { return &Player{} }

// Play blocks until the file finishes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		streamer, format, err = mp3.Decode(f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	if err := p.init(); err != nil {
		return err
	}

	var s beep.Streamer = streamer
	if format.SampleRate != playerSampleRate {
		s = beep.Resample(4, format.SampleRate, playerSampleRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Stop drops everything currently playing.
func (p *Player) Stop() {
	p.mu.Lock()
	inited := p.inited
	p.mu.Unlock()

	if inited {
		speaker.Clear()
	}
}

func (p *Player) init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inited {
		return nil
	}

	if err := speaker.Init(playerSampleRate, playerSampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}

	p.inited = true

	return nil
}
