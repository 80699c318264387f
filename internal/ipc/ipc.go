// Package ipc is the daemon's control socket: one JSON ControlMessage per
// connection, answered by one JSON ControlReply.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const SocketPath = "/tmp/hark.sock"

const (
	CmdTrigger = "trigger"
	CmdSuspend = "suspend"
	CmdResume  = "resume"
	CmdSay     = "say"
	CmdStatus  = "status"
	CmdStop    = "stop"
)

// Commands lists every command the daemon understands.
var Commands = []string{CmdTrigger, CmdSuspend, CmdResume, CmdSay, CmdStatus, CmdStop}

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type ControlReply struct {
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

type Handler func(ctx context.Context, msg ControlMessage) ControlReply

const connTimeout = 5 * time.Second

type Server struct {
	ln      net.Listener
	path    string
	handler Handler
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Listen binds the socket at path, replacing a stale one.
func Listen(path string, handler Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Server{ln: ln, path: path, handler: handler, logger: logger}, nil
}

// Serve accepts connections until ctx is done, then waits for the
// connections in flight and removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	defer func() {
		s.wg.Wait()
		os.Remove(s.path)
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	var msg ControlMessage
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&msg); err != nil {
		s.logger.Debug("bad control message", "err", err)
		json.NewEncoder(conn).Encode(ControlReply{Error: "malformed request"})
		return
	}

	s.logger.Debug("control", "cmd", msg.Cmd)

	reply := s.handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		s.logger.Debug("control reply failed", "err", err)
	}
}

// SendCommand delivers msg to the daemon listening on path and returns its
// reply.
func SendCommand(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(connTimeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}

	return reply, nil
}
