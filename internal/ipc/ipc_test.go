package ipc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h Handler) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hark.sock")
	srv, err := Listen(path, h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})
	return path
}

func TestRoundTrip(t *testing.T) {
	got := make(chan ControlMessage, 1)
	path := startServer(t, func(_ context.Context, msg ControlMessage) ControlReply {
		got <- msg
		return ControlReply{OK: true, State: "speaking"}
	})

	reply, err := SendCommand(context.Background(), path, ControlMessage{Cmd: CmdSay, Text: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, ControlReply{OK: true, State: "speaking"}, reply)
	assert.Equal(t, ControlMessage{Cmd: CmdSay, Text: "hello there"}, <-got)
}

func TestMalformedRequest(t *testing.T) {
	path := startServer(t, func(context.Context, ControlMessage) ControlReply {
		t.Error("handler must not run")
		return ControlReply{}
	})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "malformed request")
}

func TestSendCommand_NoDaemon(t *testing.T) {
	_, err := SendCommand(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), ControlMessage{Cmd: CmdStatus})
	assert.Error(t, err)
}

func TestServe_RemovesSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hark.sock")
	srv, err := Listen(path, func(context.Context, ControlMessage) ControlReply { return ControlReply{OK: true} }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.Serve(ctx))

	_, err = net.Dial("unix", path)
	assert.Error(t, err)
}
