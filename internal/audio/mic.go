// Package audio owns the sound devices: the microphone lease, file playback
// and ducking of other applications while the assistant talks.
package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	// ErrDeviceUnavailable means the input device could not be opened.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrDeviceBusy means another stream currently holds the microphone.
	ErrDeviceBusy = errors.New("audio: input device busy")
)

// Stream delivers fixed-size mono int16 frames. Every Read returns a fresh
// slice the caller may keep.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}

// Source opens input streams.
type Source interface {
	Open(sampleRate, frameLen int) (Stream, error)
}

// Mic is the default input device. At most one stream is open at a time;
// Open fails with ErrDeviceBusy until the current stream is closed.
type Mic struct {
	mu     sync.Mutex
	inited bool
	leased bool
}

func NewMic() *Mic { return &Mic{} }

func (m *Mic) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inited {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	m.inited = true

	return nil
}

// Close terminates portaudio. Open streams become unusable.
func (m *Mic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return nil
	}

	m.inited = false
	m.leased = false

	return portaudio.Terminate()
}

func (m *Mic) Open(sampleRate, frameLen int) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return nil, fmt.Errorf("%w: not initialised", ErrDeviceUnavailable)
	}
	if m.leased {
		return nil, ErrDeviceBusy
	}

	buf := make([]int16, frameLen)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err)
	}

	m.leased = true

	return &micStream{mic: m, stream: stream, buf: buf}, nil
}

func (m *Mic) release() {
	m.mu.Lock()
	m.leased = false
	m.mu.Unlock()
}

type micStream struct {
	mic    *Mic
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
	closed bool
}

func (s *micStream) Read() ([]int16, error) {
	if s.closed {
		return nil, errors.New("audio: read on closed stream")
	}

	// An overflow only means frames were lost; the buffer still holds audio.
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("%w: read: %v", ErrDeviceUnavailable, err)
	}

	out := make([]int16, len(s.buf))
	copy(out, s.buf)

	return out, nil
}

func (s *micStream) Close() error {
	var err error

	s.once.Do(func() {
		s.closed = true
		s.stream.Stop()
		err = s.stream.Close()
		s.mic.release()
	})

	return err
}
