package sync

import (
	"context"
	"time"

	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/wire"
)

// tickDelta drains newly appended Updates since sub's watermark and sends
// them as a Delta frame, applying the transmitter cache so unchanged cells
// and already-announced styles are not resent. If sub's watermark has
// fallen off the delta ring, it is dropped back to a fresh snapshot cycle
// (StreamGap recovery). When there is nothing new to send and the
// heartbeat interval has elapsed, a Heartbeat frame is sent instead so
// the viewer can detect a silently dead connection.
func (s *Synchronizer) tickDelta(ctx context.Context, sub *Subscription) error {
	sub.mu.Lock()
	since := sub.lastDelivered
	sub.mu.Unlock()

	raw, ok := s.stream.CollectSince(since, s.cfg.DeltaBudget)
	if !ok {
		sub.resetToSnapshot()
		return nil
	}

	filtered := filterUpdates(sub, raw)
	if len(filtered) == 0 {
		return s.maybeHeartbeat(ctx, sub)
	}

	newWatermark := raw[len(raw)-1].Seq
	frame := wire.Frame{
		Kind:         wire.KindDelta,
		Subscription: sub.ID,
		Watermark:    newWatermark,
		Updates:      filtered,
	}
	if cur, ok := s.cursorUpdate(); ok {
		frame.HasCursor = true
		frame.Cursor = cur
	}
	if err := s.send(ctx, sub, frame); err != nil {
		return err
	}

	sub.mu.Lock()
	sub.lastDelivered = newWatermark
	sub.lastHeartbeat = time.Now()
	sub.mu.Unlock()
	return nil
}

// filterUpdates applies the transmitter cache to cell-bearing updates and
// records style announcements, dropping cell writes that reproduce what the
// subscription was already sent. Non-cell updates (trim, cursor, rect,
// style) always pass through.
func filterUpdates(sub *Subscription, updates []gridcache.Update) []gridcache.Update {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	out := make([]gridcache.Update, 0, len(updates))
	for _, u := range updates {
		switch u.Kind {
		case gridcache.UpdateCell:
			if sub.suppressedCell(u.Row, u.Col, u.Cell) {
				continue
			}
			sub.needsStyle(u.Cell.StyleID())
			out = append(out, u)
		case gridcache.UpdateRow, gridcache.UpdateRowSegment:
			changed := false
			for i, c := range u.Cells {
				if !sub.suppressedCell(u.Row, u.StartCol+i, c) {
					changed = true
				}
				sub.needsStyle(c.StyleID())
			}
			if changed {
				out = append(out, u)
			}
		case gridcache.UpdateRect:
			sub.needsStyle(u.Fill.StyleID())
			out = append(out, u)
		case gridcache.UpdateStyle:
			if sub.needsStyle(u.StyleID) {
				out = append(out, u)
			}
		default:
			out = append(out, u)
		}
	}
	return out
}

func (s *Synchronizer) maybeHeartbeat(ctx context.Context, sub *Subscription) error {
	sub.mu.Lock()
	due := time.Since(sub.lastHeartbeat) >= s.cfg.HeartbeatInterval
	sub.mu.Unlock()
	if !due {
		return nil
	}
	frame := wire.Frame{Kind: wire.KindHeartbeat, Seq: s.stream.LatestSeq(), TimestampMs: uint64(time.Now().UnixMilli())}
	if err := s.send(ctx, sub, frame); err != nil {
		return err
	}
	sub.mu.Lock()
	sub.lastHeartbeat = time.Now()
	sub.mu.Unlock()
	return nil
}
