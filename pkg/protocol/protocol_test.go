package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	msg, err := Parse("HARK:ok:lamp:1:VERTEX")
	require.NoError(t, err)
	assert.Equal(t, &Message{To: "HARK", Verb: "OK", Noun: "LAMP", Args: []string{"1"}, From: "VERTEX"}, msg)
	assert.Equal(t, "HARK:OK:LAMP:1:VERTEX", msg.String())

	msg, err = Parse("ALL:ON:LAMP:0A")
	require.NoError(t, err)
	assert.Empty(t, msg.Args)

	for _, bad := range []string{
		"",
		"HARK:ON:LAMP",
		"HARK:ON:LAMP WITH SPACE:VERTEX",
		"HARK:ON:L@MP:VERTEX",
		"HARK:ON:LAMP:b/d:VERTEX",
		"HA RK:ON:LAMP:VERTEX",
	} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestMessage_OkAndError(t *testing.T) {
	m := &Message{To: "VERTEX", Verb: "ON", Noun: "LAMP", From: "HARK"}
	m.Error("BUSY", "3")
	assert.Equal(t, "VERTEX:ERR:BUSY:3:HARK", m.String())
	m.Ok("LAMP")
	assert.Equal(t, "VERTEX:OK:LAMP:HARK", m.String())
}

// fakeHub answers every frame with OK, or ERR for the BROKEN noun, and
// records what it received.
type fakeHub struct {
	mu       sync.Mutex
	received []string
	greet    []string
	silent   bool
}

func (h *fakeHub) frames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.received...)
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := ws.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for _, g := range h.greet {
		_ = conn.WriteMessage(ws.TextMessage, []byte(g))
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.received = append(h.received, string(data))
		h.mu.Unlock()

		if h.silent {
			continue
		}

		msg, err := Parse(string(data))
		if err != nil {
			continue
		}
		reply := &Message{To: msg.From, From: msg.To}
		if msg.Noun == "BROKEN" {
			reply.Error(msg.Noun)
		} else {
			reply.Ok(msg.Noun)
		}
		_ = conn.WriteMessage(ws.TextMessage, []byte(reply.String()))
	}
}

func startHub(t *testing.T, h *fakeHub, cfg Config) (*Protocol, context.CancelFunc) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Shard = "HARK"

	ctx, cancel := context.WithCancel(context.Background())
	p, err := Dial(ctx, cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, cancel
}

func TestSignal_FireAndForget(t *testing.T) {
	h := &fakeHub{silent: true}
	p, _ := startHub(t, h, Config{})

	assert.True(t, p.Connected())
	require.NoError(t, p.Signal(context.Background(), "VERTEX", "ON:LAMP"))

	require.Eventually(t, func() bool { return len(h.frames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "VERTEX:ON:LAMP:HARK", h.frames()[0])
}

func TestSignal_AckAndReject(t *testing.T) {
	h := &fakeHub{}
	p, _ := startHub(t, h, Config{Ack: true})

	require.NoError(t, p.Signal(context.Background(), "VERTEX", "ON:LAMP"))

	err := p.Signal(context.Background(), "VERTEX", "ON:BROKEN")
	require.ErrorIs(t, err, ErrRejected)
}

func TestRequest_Timeout(t *testing.T) {
	h := &fakeHub{silent: true}
	p, _ := startHub(t, h, Config{Timeout: 50 * time.Millisecond})

	_, err := p.Request(context.Background(), []string{"VERTEX", "GET", "TIME"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_EmitsUnsolicitedForThisShard(t *testing.T) {
	h := &fakeHub{greet: []string{"OTHER:ON:LAMP:VERTEX", "HARK:SET:TIME:1200:VERTEX"}}

	got := make(chan *Message, 2)
	startHub(t, h, Config{OnMessage: func(m *Message) { got <- m }})

	select {
	case m := <-got:
		assert.Equal(t, "SET", m.Verb)
		assert.Equal(t, []string{"1200"}, m.Args)
	case <-time.After(time.Second):
		t.Fatal("no message emitted")
	}

	select {
	case m := <-got:
		t.Fatalf("frame for another shard emitted: %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_StopsTransmit(t *testing.T) {
	h := &fakeHub{silent: true}
	p, _ := startHub(t, h, Config{})

	require.NoError(t, p.Close())
	assert.False(t, p.Connected())
	assert.ErrorIs(t, p.Transmit("VERTEX:ON:LAMP"), ErrNotConnected)
}
