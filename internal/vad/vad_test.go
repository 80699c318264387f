package vad

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted treats any frame whose first sample is non-zero as speech.
type scripted struct {
	err error
}

func (s scripted) IsSpeech(frame Frame, _ int) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return frame[0] != 0, nil
}

func frame(speech bool, tag int16) Frame {
	f := make(Frame, 480)
	if speech {
		f[0] = 1000
	}
	f[1] = tag
	return f
}

func newTestDetector() *Detector {
	return New(scripted{}, Config{SampleRate: 16000, FrameMs: 30})
}

func TestDetector_StartsAfterMajorityVoiced(t *testing.T) {
	d := newTestDetector()
	require.Equal(t, 480, d.FrameSize())

	var tag int16
	for i := 0; i < 3; i++ {
		tag++
		ev, err := d.Process(frame(false, tag))
		require.NoError(t, err)
		assert.Equal(t, None, ev.Kind)
	}
	for i := 0; i < 4; i++ {
		tag++
		ev, err := d.Process(frame(true, tag))
		require.NoError(t, err)
		assert.Equal(t, None, ev.Kind, "four voiced frames must not trigger")
	}

	tag++
	ev, err := d.Process(frame(true, tag))
	require.NoError(t, err)
	require.Equal(t, SegmentStarted, ev.Kind)
	require.Len(t, ev.Frames, 8)
	for i, f := range ev.Frames {
		assert.Equal(t, int16(i+1), f[1], "frames must keep arrival order")
	}
	assert.True(t, d.Triggered())
	assert.Equal(t, 0, d.Buffered())
}

func TestDetector_EndsAfterUnvoicedRun(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 8; i++ {
		_, err := d.Process(frame(true, 0))
		require.NoError(t, err)
	}
	require.True(t, d.Triggered())

	for i := 0; i < 7; i++ {
		ev, err := d.Process(frame(false, 0))
		require.NoError(t, err)
		assert.Equal(t, None, ev.Kind, "seven unvoiced frames must not release")
	}

	ev, err := d.Process(frame(false, 0))
	require.NoError(t, err)
	require.Equal(t, SegmentEnded, ev.Kind)
	assert.NotEmpty(t, ev.Frames)
	assert.False(t, d.Triggered())
	assert.Equal(t, 0, d.Buffered())
}

func TestDetector_SegmentContainsEveryFrameInOrder(t *testing.T) {
	d := newTestDetector()

	var (
		tag  int16
		seen []int16
		seg  Segment
	)
	feed := func(speech bool) Event {
		tag++
		ev, err := d.Process(frame(speech, tag))
		require.NoError(t, err)
		return ev
	}

	for i := 0; i < 5; i++ {
		if ev := feed(true); ev.Kind == SegmentStarted {
			for _, f := range ev.Frames {
				seen = append(seen, f[1])
			}
		}
	}
	require.True(t, d.Triggered())

	// A short pause mid-phrase must not end the segment.
	for i := 0; i < 3; i++ {
		feed(false)
		seen = append(seen, tag)
	}
	for i := 0; i < 4; i++ {
		feed(true)
		seen = append(seen, tag)
	}
	for seg == nil {
		ev := feed(false)
		if ev.Kind == SegmentEnded {
			seg = ev.Frames
		} else {
			seen = append(seen, tag)
		}
	}
	seen = append(seen, tag)

	got := make([]int16, 0, len(seg))
	for _, f := range seg {
		got = append(got, f[1])
	}
	assert.Equal(t, seen, got)
	assert.Len(t, seg.Samples(), len(seg)*480)
}

func TestDetector_RingNeverExceedsCapacity(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 100; i++ {
		_, err := d.Process(frame(i%3 == 0, 0))
		require.NoError(t, err)
		assert.LessOrEqual(t, d.Buffered(), RingCapacity)
	}
}

func TestDetector_ResetIsIdempotent(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 6; i++ {
		_, _ = d.Process(frame(true, 0))
	}
	require.True(t, d.Triggered())

	d.Reset()
	assert.False(t, d.Triggered())
	assert.Equal(t, 0, d.Buffered())

	d.Reset()
	assert.False(t, d.Triggered())
	assert.Equal(t, 0, d.Buffered())

	// Behaves like a fresh detector afterwards.
	for i := 0; i < 4; i++ {
		ev, err := d.Process(frame(true, 0))
		require.NoError(t, err)
		assert.Equal(t, None, ev.Kind)
	}
}

func TestDetector_InvalidFrameSize(t *testing.T) {
	d := newTestDetector()
	_, err := d.Process(make(Frame, 320))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFrameSize))
	assert.Equal(t, 0, d.Buffered())
}

func TestDetector_ClassifierErrorFailsOpen(t *testing.T) {
	var reported []error
	d := New(scripted{err: errors.New("engine hiccup")}, Config{
		OnError: func(err error) { reported = append(reported, err) },
	})

	ev, err := d.Process(frame(true, 0))
	require.NoError(t, err)
	assert.Equal(t, None, ev.Kind)
	assert.Len(t, reported, 1)
	assert.Equal(t, 0, d.Buffered())
}

func TestEnergyClassifier(t *testing.T) {
	e := NewEnergy(2)

	speech, err := e.IsSpeech(make(Frame, 480), 16000)
	require.NoError(t, err)
	assert.False(t, speech)

	loud := make(Frame, 480)
	for i := range loud {
		loud[i] = 8000
	}
	speech, err = e.IsSpeech(loud, 16000)
	require.NoError(t, err)
	assert.True(t, speech)

	assert.Less(t, NewEnergy(0).Threshold, NewEnergy(3).Threshold)
	assert.Equal(t, NewEnergy(3).Threshold, NewEnergy(9).Threshold)
}

func TestFrameBytes(t *testing.T) {
	b := Frame{0x0102, -1}.Bytes()
	assert.Equal(t, []byte{0x02, 0x01, 0xff, 0xff}, b)
}
