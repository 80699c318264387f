// Package protocol speaks the hub's colon separated line protocol:
//
//	TO:VERB:NOUN[:ARG...]:FROM
//
// over a websocket. Frames addressed to another shard are ignored.
package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

var ErrRejected = errors.New("protocol: rejected by peer")

type Config struct {
	Shard     string
	URL       string
	Reconnect time.Duration
	// Timeout bounds the wait for a reply in Request.
	Timeout time.Duration
	// Ack makes Signal wait for the peer's OK/ERR reply.
	Ack       bool
	OnMessage func(*Message)
}

type Protocol struct {
	ws *WebSocket

	shard   string
	timeout time.Duration
	ack     bool

	reqMu    sync.Mutex
	waiterMu sync.Mutex
	waiter   chan *Message

	emitMu    sync.Mutex
	onMessage func(*Message)
}

func Dial(ctx context.Context, cfg Config) (*Protocol, error) {
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	ws, err := DialWebSocket(ctx, cfg.URL, cfg.Reconnect)
	if err != nil {
		log.Error("Failed to init ws connection")
		return nil, err
	}

	ptcl := &Protocol{
		shard:     cfg.Shard,
		ws:        ws,
		timeout:   cfg.Timeout,
		ack:       cfg.Ack,
		onMessage: cfg.OnMessage,
	}

	return ptcl, nil
}

// OnMessage sets the callback for frames that are not a reply.
func (ptcl *Protocol) OnMessage(f func(*Message)) {
	ptcl.emitMu.Lock()
	ptcl.onMessage = f
	ptcl.emitMu.Unlock()
}

func (ptcl *Protocol) Connected() bool {
	return ptcl.ws.Connected()
}

func (ptcl *Protocol) Close() error {
	return ptcl.ws.Close()
}

// Request transmits v and returns the next frame addressed to this shard.
func (ptcl *Protocol) Request(ctx context.Context, v any) (*Message, error) {
	ptcl.reqMu.Lock()
	defer ptcl.reqMu.Unlock()

	w := ptcl.installWaiter()
	defer ptcl.clearWaiter()

	if err := ptcl.Transmit(v); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ptcl.timeout)
	defer cancel()

	select {
	case msg := <-w:
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("protocol: waiting for reply: %w", ctx.Err())
	}
}

// Signal sends a signal such as "ON:LAMP" to the shard to. With Ack set it
// waits for the reply and fails on ERR.
func (ptcl *Protocol) Signal(ctx context.Context, to, signal string) error {
	parts := append([]string{to}, strings.Split(signal, ":")...)

	if !ptcl.ack {
		return ptcl.Transmit(parts)
	}

	resp, err := ptcl.Request(ctx, parts)
	if err != nil {
		return err
	}
	if resp.Verb == "ERR" {
		return fmt.Errorf("%w: %s", ErrRejected, resp.String())
	}
	return nil
}

func (ptcl *Protocol) Transmit(v any) error {
	var msg string

	switch m := v.(type) {
	case Message:
		m.From = ptcl.shard
		msg = m.String()
	case *Message:
		c := *m
		c.From = ptcl.shard
		msg = c.String()
	case string:
		msg = fmt.Sprintf("%s:%s", m, ptcl.shard)
	case []string:
		pay := strings.Join(m, ":")
		msg = fmt.Sprintf("%s:%s", pay, ptcl.shard)
	default:
		log.Error("Provided unsupported type", "type", fmt.Sprintf("%T", v))
		return fmt.Errorf("protocol: unsupported type %T", v)
	}

	err := ptcl.ws.Write([]byte(msg))
	if err != nil {
		log.Error("Failed to transmit", "msg", msg, "err", err)
	}
	return err
}

// Run reads frames until ctx is done or Close is called, reconnecting when
// the link drops.
func (ptcl *Protocol) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { ptcl.ws.Close() })
	defer stop()

	for {
		in := ptcl.ws.Read()
		if ctx.Err() != nil || ptcl.ws.closed.Load() {
			return nil
		}

		switch in.kind {
		case CONN_CLOSE, READ_FAILURE:
			if in.kind == READ_FAILURE {
				log.Error("Failed to read", "err", in.err)
			}
			log.Warn("Trying to reconnect on", "url", ptcl.ws.url)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return nil
			}
			log.Info("Succefully reconnected")

		case READ_OK:
			if !ptcl.checkRecipient(in.msg) {
				continue
			}

			msg, err := Parse(string(in.msg))
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}

			if ptcl.deliver(msg) {
				continue
			}

			ptcl.emitMu.Lock()
			f := ptcl.onMessage
			ptcl.emitMu.Unlock()
			if f != nil {
				f(msg)
			}
		}
	}
}

func (ptcl *Protocol) installWaiter() chan *Message {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	ptcl.waiter = make(chan *Message, 1)
	return ptcl.waiter
}

func (ptcl *Protocol) clearWaiter() {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	ptcl.waiter = nil
}

// deliver hands msg to a pending Request, if any.
func (ptcl *Protocol) deliver(msg *Message) bool {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	if ptcl.waiter == nil {
		return false
	}
	select {
	case ptcl.waiter <- msg:
	default:
	}
	return true
}

func (ptcl *Protocol) checkRecipient(msg []byte) bool {
	to, _, _ := strings.Cut(string(msg), ":")
	return to == ptcl.shard || to == "ALL"
}

func Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		// frames are single-line
		return nil, fmt.Errorf("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	to := parts[0]
	verb := parts[1]
	noun := parts[2]
	from := parts[len(parts)-1]
	args := append([]string(nil), parts[3:len(parts)-1]...)

	if !isToken(to) && !isHexID(to) && to != "ALL" {
		return nil, fmt.Errorf("invalid TO token: %q", to)
	}
	if !isToken(from) && !isHexID(from) {
		return nil, fmt.Errorf("invalid FROM token: %q", from)
	}

	if !isToken(noun) || !isToken(verb) {
		return nil, fmt.Errorf("invalid NOUN/VERB: %q %q", noun, verb)
	}
	for i, a := range args {
		if !isToken(a) {
			return nil, fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}

	msg := &Message{
		To:   to,
		Verb: strings.ToUpper(verb),
		Noun: strings.ToUpper(noun),
		Args: args,
		From: from,
	}
	return msg, nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To)
	parts = append(parts, m.Verb)
	parts = append(parts, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

func (m *Message) Error(reason string, args ...string) {
	m.Verb = "ERR"
	m.Noun = reason
	m.Args = args
}

func (m *Message) Ok(reason string, args ...string) {
	m.Verb = "OK"
	m.Noun = reason
	m.Args = args
}
