package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// WebRTC is a Transport backed by a pion/webrtc data channel, grounded on
// a prior PeerManager's offer/answer and data-channel lifecycle handling
// but exposing only the Transport surface; negotiation itself lives in
// internal/negotiate.
type WebRTC struct {
	dc        *webrtc.DataChannel
	in        *inbox
	connected atomic.Bool
}

// NewWebRTC wraps an already-open data channel. The caller is responsible
// for having waited for dc to reach the Open state (internal/negotiate
// does this as part of the handshake).
func NewWebRTC(dc *webrtc.DataChannel) *WebRTC {
	w := &WebRTC{dc: dc, in: newInbox()}
	w.connected.Store(true)

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			w.in.push(Message{Kind: Text, Text: string(msg.Data)})
			return
		}
		w.in.push(Message{Kind: Binary, Data: msg.Data})
	})
	dc.OnClose(func() {
		w.connected.Store(false)
		w.in.closeInbox()
	})
	dc.OnError(func(err error) {
		w.connected.Store(false)
		w.in.closeInbox()
	})
	return w
}

func (w *WebRTC) SendBytes(ctx context.Context, b []byte) error {
	if err := w.dc.Send(b); err != nil {
		return &Error{Kind: IO, Err: err}
	}
	return nil
}

func (w *WebRTC) SendText(ctx context.Context, s string) error {
	if err := w.dc.SendText(s); err != nil {
		return &Error{Kind: IO, Err: err}
	}
	return nil
}

func (w *WebRTC) Recv(ctx context.Context, timeout time.Duration) (Message, error) {
	return w.in.recv(ctx, timeout)
}

func (w *WebRTC) TryRecv() (Message, bool, error) {
	return w.in.tryRecv()
}

func (w *WebRTC) Kind() Kind { return KindWebRTC }

func (w *WebRTC) IsConnected() bool { return w.connected.Load() }

func (w *WebRTC) Close() error {
	w.connected.Store(false)
	w.in.closeInbox()
	return w.dc.Close()
}
