package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name    string
	reply   string
	handled bool
	err     error
	calls   int
}

func (s *stubHandler) Name() string { return s.name }

func (s *stubHandler) Handle(context.Context, string) (string, bool, error) {
	s.calls++
	return s.reply, s.handled, s.err
}

func TestRouter_FirstHandledWins(t *testing.T) {
	first := &stubHandler{name: "devices"}
	second := &stubHandler{name: "apps", reply: "Opening Firefox", handled: true}
	third := &stubHandler{name: "llm", reply: "hello", handled: true}

	r := New(nil, nil, first, second, third)

	reply, ok, err := r.Route(context.Background(), "open firefox")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Opening Firefox", reply)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
}

func TestRouter_SkipsFailedUnhandled(t *testing.T) {
	broken := &stubHandler{name: "intent", err: errors.New("boom")}
	llm := &stubHandler{name: "llm", reply: "hi", handled: true}

	reply, ok, err := New(nil, nil, broken, llm).Route(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi", reply)
}

func TestRouter_HandledErrorKeepsReply(t *testing.T) {
	dev := &stubHandler{name: "devices", reply: "Failed to send signal to lamp", handled: true, err: errors.New("closed")}

	reply, ok, err := New(nil, nil, dev).Route(context.Background(), "lamp on")
	assert.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Failed to send signal to lamp", reply)
}

func TestRouter_NothingHandles(t *testing.T) {
	h := &stubHandler{name: "devices"}
	r := New(nil, nil, h)

	_, ok, err := r.Route(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = r.Route(context.Background(), "   ")
	assert.False(t, ok)
	assert.Equal(t, 1, h.calls, "blank text never reaches handlers")
}

func TestRouter_CancelledContext(t *testing.T) {
	h := &stubHandler{name: "llm", handled: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := New(nil, nil, h).Route(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
	assert.Zero(t, h.calls)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "lamp on", Normalize("  Lamp   ON. "))
	assert.Equal(t, "turn the lamp off please", Normalize("Turn the lamp off, please!"))
	assert.Equal(t, "شغل المصباح", Normalize("شغل المصباح؟"))
}
