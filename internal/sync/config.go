// Package sync implements the synchronizer: the central per-subscription
// scheduler that walks a TerminalGrid and a delta stream, driving each
// viewer through snapshot lanes to LIVE delta delivery with on-demand
// backfill.
package sync

import (
	"time"

	"github.com/beachside/beach/internal/wire"
)

// Config tunes the synchronizer's scheduling. SnapshotBudgets and
// DeltaBudget bound how many Updates a single frame may carry; RecentRows
// fixes the boundary of the "recent" lane and is left as a configuration
// parameter rather than a fixed constant.
type Config struct {
	SnapshotBudgets   map[wire.Lane]int
	DeltaBudget       int
	RecentRows        int
	HeartbeatInterval time.Duration
	Features          uint32
}

// DefaultConfig returns reasonable defaults: 512-update snapshot chunks
// per lane, 256-update delta batches, a 200-row recent lane, and a 2s
// heartbeat when idle.
func DefaultConfig() Config {
	return Config{
		SnapshotBudgets: map[wire.Lane]int{
			wire.LaneForeground: 512,
			wire.LaneRecent:     512,
			wire.LaneHistory:    512,
		},
		DeltaBudget:       256,
		RecentRows:        200,
		HeartbeatInterval: 2 * time.Second,
	}
}

func (c Config) budgetFor(lane wire.Lane) int {
	if b, ok := c.SnapshotBudgets[lane]; ok && b > 0 {
		return b
	}
	return 256
}
