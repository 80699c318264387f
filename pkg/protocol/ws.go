package protocol

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("protocol: not connected")

type WebSocket struct {
	mu     sync.Mutex
	conn   *ws.Conn
	url    string
	reconn time.Duration
	up     atomic.Bool
	closed atomic.Bool
}

func DialWebSocket(ctx context.Context, url string, reconn time.Duration) (*WebSocket, error) {
	log.Debug("init websocket protocol", "url", url)

	web := &WebSocket{
		url:    url,
		reconn: reconn,
	}

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Error("Failed to dial url", "url", url, "err", err)
		return nil, err
	}
	web.conn = conn
	web.up.Store(true)

	return web, nil
}

func (web *WebSocket) Connected() bool {
	return web.up.Load()
}

func (web *WebSocket) Write(payload []byte) error {
	web.mu.Lock()
	defer web.mu.Unlock()

	if web.conn == nil || !web.up.Load() {
		return ErrNotConnected
	}

	log.Debug("Write ws", "msg", string(payload))
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_OK
)

type Income struct {
	kind WsIncomeKind
	msg  []byte
	err  error
}

func (web *WebSocket) Read() Income {
	web.mu.Lock()
	conn := web.conn
	web.mu.Unlock()

	if conn == nil {
		return Income{kind: CONN_CLOSE, err: ErrNotConnected}
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		web.up.Store(false)
		if WsIsClosed(err) {
			return Income{
				kind: CONN_CLOSE,
				err:  err,
			}
		}
		return Income{
			kind: READ_FAILURE,
			err:  err,
		}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{
		kind: READ_OK,
		msg:  msg,
	}
}

// TryReconn redials until it succeeds, ctx is done or the socket is closed.
func (web *WebSocket) TryReconn(ctx context.Context) error {
	for {
		if web.closed.Load() {
			return ErrNotConnected
		}

		conn, _, err := ws.DefaultDialer.DialContext(ctx, web.url, nil)
		if err == nil {
			web.mu.Lock()
			if web.closed.Load() {
				web.mu.Unlock()
				conn.Close()
				return ErrNotConnected
			}
			if web.conn != nil {
				web.conn.Close()
			}
			web.conn = conn
			web.mu.Unlock()
			web.up.Store(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) Close() error {
	web.mu.Lock()
	defer web.mu.Unlock()

	web.closed.Store(true)
	web.up.Store(false)
	if web.conn == nil {
		return nil
	}
	err := web.conn.Close()
	web.conn = nil
	return err
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
