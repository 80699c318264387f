// Package hub publishes the assistant's state and chat lines to a websocket
// bus and accepts text commands from it, so an external UI can follow and
// drive the assistant.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hark/internal/session"
)

const (
	KindState   = "state"
	KindMessage = "message"
	KindCommand = "command"
	KindSay     = "say"
)

const writeTimeout = 2 * time.Second

type Message struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Kind    string    `json:"kind"`
	Content string    `json:"content"`
	Level   string    `json:"level,omitempty"`
	Time    time.Time `json:"time,omitzero"`
}

// Hub is a session observer connected to the bus.
type Hub struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	name   string
	logger *slog.Logger
}

func Dial(ctx context.Context, wsURL, name string, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to bus", "url", wsURL)
	return &Hub{conn: conn, name: name, logger: logger}, nil
}

func (h *Hub) Read() (*Message, error) {
	_, msg, err := h.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var m Message
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

func (h *Hub) Write(m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) StateChanged(s session.State) {
	h.publish(&Message{Kind: KindState, Content: s.String(), Time: time.Now()})
}

func (h *Hub) Message(m session.Message) {
	h.publish(&Message{Kind: KindMessage, Content: m.Text, Level: m.Level.String(), Time: m.Time})
}

func (h *Hub) publish(m *Message) {
	m.From = h.name
	m.To = "ALL"
	if err := h.Write(m); err != nil {
		h.logger.Debug("bus write failed", "kind", m.Kind, "err", err)
	}
}

// Listen passes command and say messages addressed to this assistant to
// handle until ctx is done or the connection drops.
func (h *Hub) Listen(ctx context.Context, handle func(Message)) error {
	stop := context.AfterFunc(ctx, func() { h.conn.Close() })
	defer stop()

	for {
		m, err := h.Read()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				h.logger.Debug("bad bus message", "err", err)
				continue
			}
			return err
		}

		if m.To != h.name && m.To != "ALL" {
			continue
		}
		switch m.Kind {
		case KindCommand, KindSay:
			handle(*m)
		}
	}
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	return h.conn.Close()
}
