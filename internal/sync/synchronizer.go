package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beachside/beach/internal/deltastream"
	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/transport"
	"github.com/beachside/beach/internal/wire"
)

// Synchronizer is the central scheduler: it owns no subscriptions'
// transports directly but drives each one through the snapshot/live state
// machine against a shared TerminalGrid and Stream.
type Synchronizer struct {
	grid   *gridcache.TerminalGrid
	stream *deltastream.Stream
	cfg    Config

	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextSubID uint64

	cursorMu   sync.Mutex
	lastCursor gridcache.Update
	haveCursor bool
}

// RecordCursor updates the last-known cursor position, to be attached to
// the next delta frame or to the final Snapshot frame of a lane. Called by the host loop
// alongside appending the emulator's own UpdateCursor entries to the
// stream.
func (s *Synchronizer) RecordCursor(u gridcache.Update) {
	s.cursorMu.Lock()
	s.lastCursor = u
	s.haveCursor = true
	s.cursorMu.Unlock()
}

// New creates a Synchronizer over grid and stream.
func New(grid *gridcache.TerminalGrid, stream *deltastream.Stream, cfg Config) *Synchronizer {
	return &Synchronizer{grid: grid, stream: stream, cfg: cfg, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers t as a new viewer subscription, sends its Hello and
// Grid descriptor, and enters the snapshot state machine. A subscription
// receives exactly one Hello, one Grid, then one SnapshotComplete per
// lane, then only deltas and optional backfills.
func (s *Synchronizer) Subscribe(ctx context.Context, t transport.Transport) (*Subscription, error) {
	id := atomic.AddUint64(&s.nextSubID, 1)
	sub := newSubscription(id, t)

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	hello := wire.Frame{
		Kind:         wire.KindHello,
		Subscription: id,
		MaxSeq:       s.stream.LatestSeq(),
		Features:     s.cfg.Features,
	}
	if err := s.send(ctx, sub, hello); err != nil {
		sub.markDead()
		return sub, err
	}

	grid := wire.Frame{
		Kind:            wire.KindGrid,
		Cols:            uint32(s.grid.Cols()),
		HistoryRows:     uint32(s.grid.HistoryLimit()),
		BaseRow:         s.grid.RowOffset(),
		ViewportRows:    uint32(s.grid.ViewportRows()),
		HasViewportRows: true,
	}
	if err := s.send(ctx, sub, grid); err != nil {
		sub.markDead()
		return sub, err
	}

	sub.resetToSnapshot()
	return sub, nil
}

// Unsubscribe removes sub; called on transport close.
func (s *Synchronizer) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// RequestBackfill queues a RequestBackfill for later servicing by Tick.
func (s *Synchronizer) RequestBackfill(subID, requestID, startRow, count uint64) {
	s.mu.Lock()
	sub, ok := s.subs[subID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.backfill = append(sub.backfill, backfillRequest{requestID: requestID, startRow: startRow, count: count})
	sub.mu.Unlock()
}

// Run drives every live subscription's Tick on interval until ctx is
// done, pruning dead subscriptions as it goes.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickAll(ctx)
		}
	}
}

func (s *Synchronizer) tickAll(ctx context.Context) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.IsDead() {
			s.Unsubscribe(sub.ID)
			continue
		}
		if err := s.Tick(ctx, sub); err != nil {
			sub.markDead()
		}
	}
}

// Tick advances sub by one scheduling step: snapshot chunk emission while
// in a SNAPSHOT state, or delta/backfill/heartbeat service while LIVE.
func (s *Synchronizer) Tick(ctx context.Context, sub *Subscription) error {
	sub.mu.Lock()
	st := sub.st
	sub.mu.Unlock()

	switch st {
	case stateSnapForeground:
		return s.tickSnapshot(ctx, sub, wire.LaneForeground, stateSnapRecent)
	case stateSnapRecent:
		return s.tickSnapshot(ctx, sub, wire.LaneRecent, stateSnapHistory)
	case stateSnapHistory:
		return s.tickSnapshot(ctx, sub, wire.LaneHistory, stateLive)
	case stateLive:
		if err := s.serviceBackfill(ctx, sub); err != nil {
			return err
		}
		return s.tickDelta(ctx, sub)
	default:
		return nil
	}
}

// BroadcastShutdown sends a Shutdown frame to every subscription and marks
// each dead, used once when the hosted process exits so no further ticks
// service it. Send failures are ignored: the subscription is torn down
// either way.
func (s *Synchronizer) BroadcastShutdown(ctx context.Context) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	frame := wire.Frame{Kind: wire.KindShutdown}
	for _, sub := range subs {
		_ = s.send(ctx, sub, frame)
		sub.markDead()
	}
}

func (s *Synchronizer) send(ctx context.Context, sub *Subscription, f wire.Frame) error {
	b, err := wire.Encode(f)
	if err != nil {
		return err
	}
	return sub.Transport.SendBytes(ctx, b)
}
