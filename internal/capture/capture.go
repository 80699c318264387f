// Package capture records one spoken command from the microphone and turns
// it into text.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hark/internal/audio"
	"hark/internal/observe"
	"hark/internal/vad"
	"hark/pkg/stt"
)

// ErrNoSpeechTimeout is returned when no voice segment starts before the
// capture timeout.
var ErrNoSpeechTimeout = errors.New("capture: no speech before timeout")

type Config struct {
	Source     audio.Source
	Recognizer stt.Recognizer

	// Classifier is shared by every capture; captures never overlap since
	// the source is an exclusive lease.
	Classifier vad.Classifier

	SampleRate int
	FrameMs    int

	// OnError receives recoverable problems (bad frames, classifier errors).
	OnError func(error)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

type Capturer struct {
	cfg Config
}

func New(cfg Config) *Capturer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = vad.DefaultSampleRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = vad.DefaultFrameMs
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capturer{cfg: cfg}
}

// CaptureAndTranscribe records one phrase and recognises it in mode.
func (c *Capturer) CaptureAndTranscribe(ctx context.Context, timeout, phraseLimit time.Duration, mode Mode) (string, error) {
	pcm, err := c.Record(ctx, timeout, phraseLimit)
	if err != nil {
		return "", err
	}

	return c.Transcribe(ctx, pcm, mode)
}

// Record opens the source and returns the first voice segment. It fails with
// ErrNoSpeechTimeout if nothing starts within timeout of audio, and cuts the
// phrase at phraseLimit. Time is measured in captured audio, not wall clock.
func (c *Capturer) Record(ctx context.Context, timeout, phraseLimit time.Duration) ([]int16, error) {
	pcm, err := c.record(ctx, timeout, phraseLimit)
	if err != nil {
		c.cfg.Metrics.Capture(ctx, outcome(err))
	}
	return pcm, err
}

func (c *Capturer) record(ctx context.Context, timeout, phraseLimit time.Duration) ([]int16, error) {
	det := vad.New(c.cfg.Classifier, vad.Config{
		SampleRate: c.cfg.SampleRate,
		FrameMs:    c.cfg.FrameMs,
		OnError:    c.cfg.OnError,
	})

	stream, err := c.cfg.Source.Open(c.cfg.SampleRate, det.FrameSize())
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	frameDur := time.Duration(c.cfg.FrameMs) * time.Millisecond

	var (
		waited  time.Duration
		spoken  time.Duration
		started bool
		pcm     []int16
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := stream.Read()
		if err != nil {
			return nil, err
		}

		ev, err := det.Process(frame)
		if err != nil {
			if c.cfg.OnError != nil {
				c.cfg.OnError(err)
			}
			// Rejected frames still use up the wait for speech.
			if !started {
				waited += frameDur
				if timeout > 0 && waited >= timeout {
					return nil, ErrNoSpeechTimeout
				}
			}
			continue
		}

		if !started {
			waited += frameDur

			if ev.Kind == vad.SegmentStarted {
				started = true
				pcm = ev.Frames.Samples()
				spoken = time.Duration(len(ev.Frames)) * frameDur
				c.cfg.Logger.Debug("Speech started", "after", waited)
			} else if timeout > 0 && waited >= timeout {
				return nil, ErrNoSpeechTimeout
			}
		} else {
			if ev.Kind == vad.SegmentEnded {
				return ev.Frames.Samples(), nil
			}

			pcm = append(pcm, frame...)
			spoken += frameDur
		}

		if started && phraseLimit > 0 && spoken >= phraseLimit {
			c.cfg.Logger.Debug("Phrase limit reached", "limit", phraseLimit)
			return pcm, nil
		}
	}
}

// Transcribe runs the recogniser in mode; bilingual mode retries once in the
// secondary language when the primary finds no words.
func (c *Capturer) Transcribe(ctx context.Context, pcm []int16, mode Mode) (string, error) {
	rec := timedRecognizer{inner: c.cfg.Recognizer, metrics: c.cfg.Metrics}

	text, err := stt.Bilingual(ctx, rec, pcm, c.cfg.SampleRate, mode.Primary, mode.Secondary)
	c.cfg.Metrics.Capture(ctx, outcome(err))
	if err != nil {
		return "", err
	}

	return text, nil
}

type timedRecognizer struct {
	inner   stt.Recognizer
	metrics *observe.Metrics
}

func (t timedRecognizer) Recognize(ctx context.Context, pcm []int16, sampleRate int, lang string) (string, error) {
	start := time.Now()
	text, err := t.inner.Recognize(ctx, pcm, sampleRate, lang)
	t.metrics.Recognition(ctx, lang, outcome(err), time.Since(start))
	return text, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoSpeechTimeout):
		return "timeout"
	case errors.Is(err, stt.ErrUnrecognized):
		return "unrecognized"
	case errors.Is(err, stt.ErrService):
		return "service_error"
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, audio.ErrDeviceBusy):
		return "device_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
