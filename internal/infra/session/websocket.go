package session

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
)

const (
	// maxFrameSize ограничивает входящий кадр: события присутствия — десятки байт.
	maxFrameSize = 64 << 10
	closeTimeout = time.Second
)

// WebSocketOptions — параметры транспорта поверх gorilla/websocket.
type WebSocketOptions struct {
	URL    string
	Header http.Header
	// PongWait — сколько ждать любого входящего кадра или pong; 0 — без дедлайна чтения.
	PongWait time.Duration
	// HandshakeTimeout — предел рукопожатия; 0 — defaultConnectTimeout.
	HandshakeTimeout time.Duration
}

// NewWebSocketDialer возвращает Dialer, открывающий текстовую websocket-сессию.
func NewWebSocketDialer(opts WebSocketOptions) Dialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultConnectTimeout
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	return func(ctx context.Context) (Link, error) {
		conn, resp, err := dialer.DialContext(ctx, opts.URL, opts.Header)
		if err != nil {
			if resp != nil {
				return nil, errors.Wrapf(err, "handshake status %d", resp.StatusCode)
			}
			return nil, err
		}
		conn.SetReadLimit(maxFrameSize)
		l := &wsLink{conn: conn, pongWait: opts.PongWait}
		l.extendDeadline()
		conn.SetPongHandler(func(string) error {
			l.extendDeadline()
			return nil
		})
		return l, nil
	}
}

type wsLink struct {
	conn     *websocket.Conn
	pongWait time.Duration
}

func (l *wsLink) extendDeadline() {
	if l.pongWait > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
	}
}

func (l *wsLink) WriteText(data []byte, timeout time.Duration) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) Ping(timeout time.Duration) error {
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Recv пропускает бинарные кадры: протокол присутствия текстовый.
func (l *wsLink) Recv() ([]byte, error) {
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		l.extendDeadline()
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (l *wsLink) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	return l.conn.Close()
}
