package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hark/internal/audio"
	"hark/internal/vad"
	"hark/pkg/stt"
)

// loudness classifier: any frame with a non-zero first sample is speech.
type loudness struct{}

func (loudness) IsSpeech(f vad.Frame, _ int) (bool, error) { return f[0] != 0, nil }

// scriptStream plays back a fixed list of speech/silence flags, then
// silence forever.
type scriptStream struct {
	script []bool
	size   int
	pos    int
	closed bool
}

func (s *scriptStream) Read() ([]int16, error) {
	f := make([]int16, s.size)
	if s.pos < len(s.script) && s.script[s.pos] {
		f[0] = 1000
	}
	s.pos++
	return f, nil
}

func (s *scriptStream) Close() error {
	s.closed = true
	return nil
}

type scriptSource struct {
	script []bool
	err    error
	last   *scriptStream
}

func (s *scriptSource) Open(_ int, frameLen int) (audio.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.last = &scriptStream{script: s.script, size: frameLen}
	return s.last, nil
}

type fakeRecognizer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	text  map[string]string
	got   int
}

func (r *fakeRecognizer) Recognize(_ context.Context, pcm []int16, _ int, lang string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, lang)
	r.got = len(pcm)
	if err := r.errs[lang]; err != nil {
		return "", err
	}
	return r.text[lang], nil
}

func speech(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func newCapturer(src audio.Source, rec stt.Recognizer) *Capturer {
	return New(Config{
		Source:     src,
		Recognizer: rec,
		Classifier: loudness{},
	})
}

func TestCapture_SilenceTimesOutWithoutRecognizer(t *testing.T) {
	src := &scriptSource{}
	rec := &fakeRecognizer{}
	c := newCapturer(src, rec)

	_, err := c.CaptureAndTranscribe(context.Background(), 300*time.Millisecond, 5*time.Second, Fixed(English))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSpeechTimeout))
	assert.Empty(t, rec.calls)
	assert.Equal(t, 10, src.last.pos, "300ms of 30ms frames")
	assert.True(t, src.last.closed)
}

// shortSource hands out frames one sample short of what was asked for.
type shortSource struct{ last *scriptStream }

func (s *shortSource) Open(_ int, frameLen int) (audio.Stream, error) {
	s.last = &scriptStream{size: frameLen - 1}
	return s.last, nil
}

func TestCapture_RejectedFramesCountTowardTimeout(t *testing.T) {
	src := &shortSource{}
	var errs []error
	c := New(Config{
		Source:     src,
		Recognizer: &fakeRecognizer{},
		Classifier: loudness{},
		OnError:    func(err error) { errs = append(errs, err) },
	})

	_, err := c.Record(context.Background(), 300*time.Millisecond, 5*time.Second)
	require.ErrorIs(t, err, ErrNoSpeechTimeout)
	assert.Equal(t, 10, src.last.pos)
	assert.Len(t, errs, 10)
	assert.ErrorIs(t, errs[0], vad.ErrInvalidFrameSize)
}

// countingClassifier counts the frames it classifies.
type countingClassifier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClassifier) IsSpeech(f vad.Frame, rate int) (bool, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return loudness{}.IsSpeech(f, rate)
}

func TestCapture_SharesClassifierAcrossRecordings(t *testing.T) {
	cls := &countingClassifier{}
	c := New(Config{Source: &scriptSource{}, Recognizer: &fakeRecognizer{}, Classifier: cls})

	for range 2 {
		_, err := c.Record(context.Background(), 300*time.Millisecond, time.Second)
		require.ErrorIs(t, err, ErrNoSpeechTimeout)
	}
	assert.Equal(t, 20, cls.calls)
}

func TestCapture_RecordsUntilSegmentEnds(t *testing.T) {
	script := append(append([]bool{false, false}, speech(20)...), false)
	src := &scriptSource{script: script}
	c := newCapturer(src, &fakeRecognizer{})

	pcm, err := c.Record(context.Background(), time.Second, 10*time.Second)
	require.NoError(t, err)

	// Segment opens on the fifth voiced frame (ring of 7) and ends once
	// eight unvoiced frames fill the ring.
	assert.Equal(t, (7+15+8)*480, len(pcm))
	assert.True(t, src.last.closed)
}

func TestCapture_PhraseLimitCutsRecording(t *testing.T) {
	src := &scriptSource{script: speech(1000)}
	c := newCapturer(src, &fakeRecognizer{})

	pcm, err := c.Record(context.Background(), time.Second, 600*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 20*480, len(pcm))
}

func TestCapture_BilingualFallback(t *testing.T) {
	src := &scriptSource{script: speech(10)}
	rec := &fakeRecognizer{
		errs: map[string]error{English: stt.ErrUnrecognized},
		text: map[string]string{Arabic: "شغل المصباح"},
	}
	c := newCapturer(src, rec)

	text, err := c.CaptureAndTranscribe(context.Background(), time.Second, 5*time.Second, ParseMode("bilingual"))
	require.NoError(t, err)
	assert.Equal(t, "شغل المصباح", text)
	assert.Equal(t, []string{English, Arabic}, rec.calls)
	assert.NotZero(t, rec.got)
}

func TestCapture_ServiceErrorNotRetried(t *testing.T) {
	src := &scriptSource{script: speech(10)}
	rec := &fakeRecognizer{errs: map[string]error{English: stt.ErrService}}
	c := newCapturer(src, rec)

	_, err := c.CaptureAndTranscribe(context.Background(), time.Second, 5*time.Second, Bilingual(English, Arabic))
	assert.True(t, errors.Is(err, stt.ErrService))
	assert.Equal(t, []string{English}, rec.calls)
}

func TestCapture_DeviceUnavailable(t *testing.T) {
	src := &scriptSource{err: audio.ErrDeviceUnavailable}
	rec := &fakeRecognizer{}
	c := newCapturer(src, rec)

	_, err := c.CaptureAndTranscribe(context.Background(), time.Second, time.Second, Fixed(English))
	assert.True(t, errors.Is(err, audio.ErrDeviceUnavailable))
	assert.Empty(t, rec.calls)
}

func TestCapture_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCapturer(&scriptSource{}, &fakeRecognizer{})
	_, err := c.Record(ctx, time.Second, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, Fixed(English), ParseMode(""))
	assert.Equal(t, Fixed(Arabic), ParseMode("ar-SA"))
	assert.Equal(t, Bilingual(English, Arabic), ParseMode("Bilingual"))
	assert.True(t, ParseMode("bilingual").IsBilingual())
	assert.Equal(t, "en-US", Fixed(English).String())
}
