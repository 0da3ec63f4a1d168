package negotiate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/beachside/beach/internal/transport"
)

// Channels lets the offerer open additional labeled data channels beyond
// the primary "beach" channel (e.g. an MCP control plane) and lets either
// side wait for a channel with a given label to open. A viewer-initiated
// secondary channel is not supported: the offerer always creates
// secondary channels, and the answerer only ever waits for them.
type Channels struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	waiters map[string][]chan transport.Transport
	opened  map[string]transport.Transport
}

// NewChannels wraps pc, registering an OnDataChannel handler that resolves
// any pending WaitFor calls for incoming channels.
func NewChannels(pc *webrtc.PeerConnection) *Channels {
	c := &Channels{pc: pc, waiters: make(map[string][]chan transport.Transport), opened: make(map[string]transport.Transport)}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		label := dc.Label()
		dc.OnOpen(func() {
			c.resolve(label, transport.NewWebRTC(dc))
		})
	})
	return c
}

// Open creates a new labeled data channel (offerer-only) and resolves any
// waiters for that label once it opens.
func (c *Channels) Open(label string) error {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return fmt.Errorf("create data channel %q: %w", label, err)
	}
	dc.OnOpen(func() {
		c.resolve(label, transport.NewWebRTC(dc))
	})
	return nil
}

func (c *Channels) resolve(label string, t transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened[label] = t
	for _, ch := range c.waiters[label] {
		ch <- t
	}
	delete(c.waiters, label)
}

// WaitFor blocks until the channel labeled label opens or timeout elapses.
func (c *Channels) WaitFor(ctx context.Context, label string, timeout time.Duration) (transport.Transport, error) {
	c.mu.Lock()
	if t, ok := c.opened[label]; ok {
		c.mu.Unlock()
		return t, nil
	}
	ch := make(chan transport.Transport, 1)
	c.waiters[label] = append(c.waiters[label], ch)
	c.mu.Unlock()

	select {
	case t := <-ch:
		return t, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
