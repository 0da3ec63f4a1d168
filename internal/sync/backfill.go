package sync

import (
	"context"

	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/wire"
)

// historyBackfillChunk bounds how many rows one HistoryBackfill frame
// carries, independent of the snapshot lane budgets.
const historyBackfillChunk = 256

// serviceBackfill services at most one queued RequestBackfill per tick,
// chunking the response across HistoryBackfill frames with has_more=true on
// every frame but the last. A request whose range falls entirely outside
// [FirstRowID, LastRowID] gets a single empty, has_more=false response.
func (s *Synchronizer) serviceBackfill(ctx context.Context, sub *Subscription) error {
	sub.mu.Lock()
	if len(sub.backfill) == 0 {
		sub.mu.Unlock()
		return nil
	}
	req := sub.backfill[0]
	sub.backfill = sub.backfill[1:]
	sub.mu.Unlock()

	first := s.grid.FirstRowID()
	last := s.grid.LastRowID() + 1

	lo := req.startRow
	hi := req.startRow + req.count
	if lo < first {
		lo = first
	}
	if hi > last {
		hi = last
	}
	if lo >= hi {
		frame := wire.Frame{
			Kind:         wire.KindHistoryBackfill,
			Subscription: sub.ID,
			RequestID:    req.requestID,
			StartRow:     req.startRow,
			Count:        0,
			HasMore:      false,
		}
		return s.send(ctx, sub, frame)
	}

	buf := make([]gridcache.PackedCell, s.grid.Cols())
	row := lo
	for row < hi {
		chunkEnd := row + historyBackfillChunk
		if chunkEnd > hi {
			chunkEnd = hi
		}
		var updates []gridcache.Update
		for r := row; r < chunkEnd; r++ {
			n, ok := s.grid.SnapshotRowInto(r, buf)
			if !ok {
				continue
			}
			cells := make([]gridcache.PackedCell, n)
			copy(cells, buf[:n])
			for _, c := range cells {
				if sub.needsStyle(c.StyleID()) {
					if st, ok := s.grid.Styles().Lookup(c.StyleID()); ok {
						updates = append(updates, gridcache.NewStyleUpdate(0, c.StyleID(), st))
					}
				}
			}
			updates = append(updates, gridcache.NewRowUpdate(0, r, cells))
		}
		hasMore := chunkEnd < hi
		frame := wire.Frame{
			Kind:         wire.KindHistoryBackfill,
			Subscription: sub.ID,
			RequestID:    req.requestID,
			StartRow:     row,
			Count:        chunkEnd - row,
			Updates:      updates,
			HasMore:      hasMore,
		}
		if err := s.send(ctx, sub, frame); err != nil {
			return err
		}
		row = chunkEnd
	}
	return nil
}
