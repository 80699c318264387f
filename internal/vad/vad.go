// Package vad turns a stream of fixed-size PCM frames into voice segments.
//
// Every frame is classified as speech or non-speech and pushed into a small
// ring buffer. The detector starts a segment once more than half of the ring
// is voiced, and closes it once more than 90% of the ring is unvoiced. The
// ring smooths single-frame misclassifications so a cough or a click does not
// open a segment and a short pause does not close one.
//
// A Detector is not safe for concurrent use; each capture stream owns one.
package vad

import (
	"errors"
	"fmt"
)

const (
	DefaultSampleRate = 16000
	DefaultFrameMs    = 30

	// RingCapacity is the number of classified frames used to decide segment
	// boundaries.
	RingCapacity = 8

	startRatio = 0.5
	endRatio   = 0.9
)

var (
	// ErrInvalidFrameSize is returned by Process when the frame length does
	// not match the configured sample rate and frame duration.
	ErrInvalidFrameSize = errors.New("vad: invalid frame size")

	// ErrEngineInit is returned when a classifier backend cannot be built.
	ErrEngineInit = errors.New("vad: engine init failed")
)

// Frame is a single block of 16-bit mono PCM samples. Frames handed to the
// detector must not be modified afterwards.
type Frame []int16

// Bytes returns the frame as little-endian PCM.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f)*2)
	for i, s := range f {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EventKind tells the caller what happened on a processed frame.
type EventKind int

const (
	None EventKind = iota
	SegmentStarted
	SegmentEnded
)

func (k EventKind) String() string {
	switch k {
	case None:
		return "none"
	case SegmentStarted:
		return "segment-started"
	case SegmentEnded:
		return "segment-ended"
	default:
		return "unknown"
	}
}

// Segment is the ordered run of frames between a segment start and end.
type Segment []Frame

// Samples flattens the segment into one PCM buffer.
func (s Segment) Samples() []int16 {
	n := 0
	for _, f := range s {
		n += len(f)
	}
	out := make([]int16, 0, n)
	for _, f := range s {
		out = append(out, f...)
	}
	return out
}

// Event is the result of Process. Frames holds the buffered frames that
// opened the segment (SegmentStarted) or the complete segment (SegmentEnded).
type Event struct {
	Kind   EventKind
	Frames Segment
}

// Classifier decides whether a single frame contains speech.
type Classifier interface {
	IsSpeech(frame Frame, sampleRate int) (bool, error)
}

// Config describes the frames a Detector accepts.
type Config struct {
	SampleRate int
	FrameMs    int

	// OnError receives classification failures. The frame is then treated
	// as producing no event.
	OnError func(error)
}

// FrameSize returns the number of samples per frame.
func (c Config) FrameSize() int {
	return c.SampleRate * c.FrameMs / 1000
}

type entry struct {
	frame  Frame
	speech bool
}

// ring is a fixed-capacity FIFO that drops its oldest entry on overflow.
type ring struct {
	buf  [RingCapacity]entry
	head int
	n    int
}

func (r *ring) push(e entry) {
	idx := (r.head + r.n) % len(r.buf)
	if r.n == len(r.buf) {
		r.buf[r.head] = e
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[idx] = e
	r.n++
}

func (r *ring) len() int { return r.n }

func (r *ring) voiced() int {
	count := 0
	for i := 0; i < r.n; i++ {
		if r.buf[(r.head+i)%len(r.buf)].speech {
			count++
		}
	}
	return count
}

func (r *ring) frames() []Frame {
	out := make([]Frame, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)].frame)
	}
	return out
}

func (r *ring) clear() {
	r.buf = [RingCapacity]entry{}
	r.head = 0
	r.n = 0
}

// Detector is the two-state (idle / capturing) segment tracker.
type Detector struct {
	cfg       Config
	frameSize int
	cls       Classifier

	ring      ring
	triggered bool
	segment   Segment
}

// New creates a Detector. Zero values in cfg fall back to 16 kHz / 30 ms.
func New(cls Classifier, cfg Config) *Detector {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = DefaultFrameMs
	}
	return &Detector{
		cfg:       cfg,
		frameSize: cfg.FrameSize(),
		cls:       cls,
	}
}

// FrameSize returns the exact number of samples Process expects.
func (d *Detector) FrameSize() int { return d.frameSize }

// SampleRate returns the configured sample rate.
func (d *Detector) SampleRate() int { return d.cfg.SampleRate }

// Triggered reports whether a segment is currently open.
func (d *Detector) Triggered() bool { return d.triggered }

// Buffered returns the number of entries in the ring.
func (d *Detector) Buffered() int { return d.ring.len() }

// Process classifies one frame and advances the state machine.
func (d *Detector) Process(frame Frame) (Event, error) {
	if len(frame) != d.frameSize {
		return Event{}, fmt.Errorf("%w: got %d samples, want %d", ErrInvalidFrameSize, len(frame), d.frameSize)
	}

	speech, err := d.cls.IsSpeech(frame, d.cfg.SampleRate)
	if err != nil {
		if d.cfg.OnError != nil {
			d.cfg.OnError(fmt.Errorf("vad: classify: %w", err))
		}
		return Event{}, nil
	}

	d.ring.push(entry{frame: frame, speech: speech})

	if !d.triggered {
		if float64(d.ring.voiced()) > startRatio*RingCapacity {
			d.triggered = true
			d.segment = d.ring.frames()
			d.ring.clear()
			return Event{Kind: SegmentStarted, Frames: append(Segment(nil), d.segment...)}, nil
		}
		return Event{}, nil
	}

	d.segment = append(d.segment, frame)
	unvoiced := d.ring.len() - d.ring.voiced()
	if float64(unvoiced) > endRatio*RingCapacity {
		seg := d.segment
		d.triggered = false
		d.segment = nil
		d.ring.clear()
		return Event{Kind: SegmentEnded, Frames: seg}, nil
	}
	return Event{}, nil
}

// Reset drops any open segment and buffered frames.
func (d *Detector) Reset() {
	d.triggered = false
	d.segment = nil
	d.ring.clear()
}
