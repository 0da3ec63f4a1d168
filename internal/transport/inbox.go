package transport

import (
	"context"
	"sync"
	"time"
)

// inbox is the shared receive-side buffering both transport
// implementations use: each backend pushes decoded Messages in from its
// own read loop (a goroutine for WebSocket, an OnMessage callback for
// WebRTC) and Recv/TryRecv pull from here, giving both implementations the
// same blocking/non-blocking semantics.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Message
	closed bool
}

func newInbox() *inbox {
	in := &inbox{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

func (in *inbox) push(msg Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.queue = append(in.queue, msg)
	in.cond.Signal()
}

func (in *inbox) closeInbox() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	in.cond.Broadcast()
}

func (in *inbox) tryRecv() (Message, bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) > 0 {
		msg := in.queue[0]
		in.queue = in.queue[1:]
		return msg, true, nil
	}
	if in.closed {
		return Message{}, false, ErrClosed
	}
	return Message{}, false, nil
}

// recv blocks until a message is available, ctx is done, or timeout
// elapses (timeout <= 0 disables the timeout, leaving ctx as the only
// bound).
func (in *inbox) recv(ctx context.Context, timeout time.Duration) (Message, error) {
	done := make(chan struct{})
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			in.mu.Lock()
			in.cond.Broadcast()
			in.mu.Unlock()
		})
		defer timer.Stop()
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				in.mu.Lock()
				in.cond.Broadcast()
				in.mu.Unlock()
			case <-done:
			}
		}()
	}
	defer close(done)

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	for {
		if len(in.queue) > 0 {
			msg := in.queue[0]
			in.queue = in.queue[1:]
			return msg, nil
		}
		if in.closed {
			return Message{}, ErrClosed
		}
		if ctx != nil && ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Message{}, ErrTimeout
		}
		in.cond.Wait()
	}
}
