package sync

import (
	"context"

	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/wire"
)

// tickSnapshot emits one budgeted chunk of lane's snapshot to sub. When the
// lane is exhausted it sends SnapshotComplete and advances sub to next.
func (s *Synchronizer) tickSnapshot(ctx context.Context, sub *Subscription, lane wire.Lane, next state) error {
	sub.mu.Lock()
	if sub.snapshotEnd == 0 && sub.snapshotCursor == 0 {
		lo, hi := s.laneRange(lane)
		sub.snapshotCursor = lo
		sub.snapshotEnd = hi
	}
	cursor, end := sub.snapshotCursor, sub.snapshotEnd
	sub.mu.Unlock()

	budget := s.cfg.budgetFor(lane)
	updates := make([]gridcache.Update, 0, budget)
	buf := make([]gridcache.PackedCell, s.grid.Cols())

	row := cursor
	for row < end && len(updates) < budget {
		n, ok := s.grid.SnapshotRowInto(row, buf)
		if ok {
			updates = append(updates, rowToUpdates(s.grid.Styles(), sub, row, buf[:n])...)
		}
		row++
		if len(updates) >= budget {
			break
		}
	}

	hasMore := row < end
	frame := wire.Frame{
		Kind:         wire.KindSnapshot,
		Subscription: sub.ID,
		Lane:         lane,
		Watermark:    s.stream.LatestSeq(),
		HasMore:      hasMore,
		Updates:      updates,
	}
	if !hasMore {
		if cur, ok := s.cursorUpdate(); ok {
			frame.HasCursor = true
			frame.Cursor = cur
		}
	}
	if err := s.send(ctx, sub, frame); err != nil {
		return err
	}

	sub.mu.Lock()
	sub.snapshotCursor = row
	if !hasMore {
		sub.snapshotCursor = 0
		sub.snapshotEnd = 0
	}
	sub.mu.Unlock()

	if hasMore {
		return nil
	}

	complete := wire.Frame{Kind: wire.KindSnapshotComplete, Subscription: sub.ID, Lane: lane}
	if err := s.send(ctx, sub, complete); err != nil {
		return err
	}

	sub.mu.Lock()
	sub.st = next
	if next == stateLive {
		sub.lastDelivered = s.stream.LatestSeq()
	}
	sub.mu.Unlock()
	return nil
}

// laneRange returns the [lo, hi) absolute row range a lane covers.
// Foreground is the current viewport; Recent is the configured tail of
// scrollback above it; History is everything older still resident.
func (s *Synchronizer) laneRange(lane wire.Lane) (uint64, uint64) {
	last := s.grid.LastRowID() + 1
	first := s.grid.FirstRowID()
	viewport := uint64(s.grid.ViewportRows())

	switch lane {
	case wire.LaneForeground:
		lo := uint64(0)
		if last > viewport {
			lo = last - viewport
		}
		if lo < first {
			lo = first
		}
		return lo, last
	case wire.LaneRecent:
		fgLo := uint64(0)
		if last > viewport {
			fgLo = last - viewport
		}
		recentSpan := uint64(s.cfg.RecentRows)
		lo := uint64(0)
		if fgLo > recentSpan {
			lo = fgLo - recentSpan
		}
		if lo < first {
			lo = first
		}
		return lo, fgLo
	case wire.LaneHistory:
		fgLo := uint64(0)
		if last > viewport {
			fgLo = last - viewport
		}
		recentSpan := uint64(s.cfg.RecentRows)
		recentLo := uint64(0)
		if fgLo > recentSpan {
			recentLo = fgLo - recentSpan
		}
		if recentLo < first {
			recentLo = first
		}
		return first, recentLo
	default:
		return first, first
	}
}

// rowToUpdates turns a resident row's cells into a Style update for every
// style sub hasn't been sent yet, followed by one RowUpdate when any cell
// changed (an empty slice when every cell is already known to sub's
// transmitter cache and no new style was discovered).
func rowToUpdates(styles *gridcache.StyleTable, sub *Subscription, absRow uint64, cells []gridcache.PackedCell) []gridcache.Update {
	changed := false
	var out []gridcache.Update
	for col, c := range cells {
		if !sub.suppressedCell(absRow, col, c) {
			changed = true
		}
		if sub.needsStyle(c.StyleID()) {
			if st, ok := styles.Lookup(c.StyleID()); ok {
				out = append(out, gridcache.NewStyleUpdate(0, c.StyleID(), st))
			}
		}
	}
	if !changed {
		return out
	}
	owned := make([]gridcache.PackedCell, len(cells))
	copy(owned, cells)
	return append(out, gridcache.NewRowUpdate(0, absRow, owned))
}

func (s *Synchronizer) cursorUpdate() (gridcache.Update, bool) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.lastCursor, s.haveCursor
}
