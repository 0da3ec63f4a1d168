package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// WebSocket is a Transport backed by a coder/websocket connection,
// grounded on a prior reconnect-aware client but stripped to the bare
// send/recv surface the Transport interface needs. It does not reconnect:
// once the connection closes and buffered messages are drained, Recv
// returns ErrClosed.
type WebSocket struct {
	conn      *websocket.Conn
	in        *inbox
	connected atomic.Bool
}

// DialWebSocket connects to url and starts its background read loop.
func DialWebSocket(ctx context.Context, url string) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, &Error{Kind: Setup, Err: err}
	}
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an already-established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	w := &WebSocket{conn: conn, in: newInbox()}
	w.connected.Store(true)
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	ctx := context.Background()
	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			w.connected.Store(false)
			w.in.closeInbox()
			return
		}
		switch typ {
		case websocket.MessageBinary:
			w.in.push(Message{Kind: Binary, Data: data})
		case websocket.MessageText:
			w.in.push(Message{Kind: Text, Text: string(data)})
		}
	}
}

func (w *WebSocket) SendBytes(ctx context.Context, b []byte) error {
	if err := w.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return &Error{Kind: IO, Err: err}
	}
	return nil
}

func (w *WebSocket) SendText(ctx context.Context, s string) error {
	if err := w.conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		return &Error{Kind: IO, Err: err}
	}
	return nil
}

func (w *WebSocket) Recv(ctx context.Context, timeout time.Duration) (Message, error) {
	return w.in.recv(ctx, timeout)
}

func (w *WebSocket) TryRecv() (Message, bool, error) {
	return w.in.tryRecv()
}

func (w *WebSocket) Kind() Kind { return KindWebSocket }

func (w *WebSocket) IsConnected() bool { return w.connected.Load() }

func (w *WebSocket) Close() error {
	w.connected.Store(false)
	w.in.closeInbox()
	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}
