package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Swappable lets a host's per-subscription writer migrate atomically from
// one Transport to another mid-session — typically WebSocket to a freshly
// negotiated WebRTC channel — without the synchronizer observing a gap.
// Grounded on a prior SwappableWriter that migrated a DataChannel-specific
// writer, generalized to the full Transport interface so it can wrap
// either direction of migration.
//
// A subscription is negotiated once but its underlying Transport may
// change mid-session (WebSocket upgraded to WebRTC once negotiation
// completes), and callers holding a Swappable never observe the swap.
type Swappable struct {
	mu      sync.Mutex
	active  Transport
	kind    Kind
	onSwap  func(from, to Kind)
}

// NewSwappable wraps initial as the active transport.
func NewSwappable(initial Transport) *Swappable {
	return &Swappable{active: initial, kind: initial.Kind()}
}

// OnSwap registers a callback invoked after a successful migration.
func (s *Swappable) OnSwap(f func(from, to Kind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwap = f
}

// MigrateTo atomically swaps the active transport to next and then closes
// the previous one. It does not wait for sends already running on the
// previous transport; such a send can fail once that transport is closed.
func (s *Swappable) MigrateTo(next Transport) error {
	s.mu.Lock()
	prev := s.active
	prevKind := s.kind
	if prevKind == next.Kind() {
		s.mu.Unlock()
		return fmt.Errorf("transport: already on %s", next.Kind())
	}
	s.active = next
	s.kind = next.Kind()
	cb := s.onSwap
	s.mu.Unlock()

	if cb != nil {
		cb(prevKind, next.Kind())
	}
	return prev.Close()
}

func (s *Swappable) current() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Swappable) SendBytes(ctx context.Context, b []byte) error {
	return s.current().SendBytes(ctx, b)
}

func (s *Swappable) SendText(ctx context.Context, str string) error {
	return s.current().SendText(ctx, str)
}

func (s *Swappable) Recv(ctx context.Context, timeout time.Duration) (Message, error) {
	return s.current().Recv(ctx, timeout)
}

func (s *Swappable) TryRecv() (Message, bool, error) {
	return s.current().TryRecv()
}

func (s *Swappable) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

func (s *Swappable) IsConnected() bool {
	return s.current().IsConnected()
}

func (s *Swappable) Close() error {
	return s.current().Close()
}
