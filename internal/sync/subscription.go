package sync

import (
	"sync"
	"time"

	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/transport"
)

// state is the subscription's position in the snapshot/live state machine.
type state int

const (
	stateNew state = iota
	stateSnapForeground
	stateSnapRecent
	stateSnapHistory
	stateLive
	stateDead
)

// backfillRequest is a queued RequestBackfill awaiting service.
type backfillRequest struct {
	requestID uint64
	startRow  uint64
	count     uint64
}

// Subscription is per-viewer synchronizer state: the bound transport, the
// current lane cursor, the last-delivered seq, and a transmitter cache
// suppressing redundant re-sends during delta emission.
type Subscription struct {
	ID        uint64
	Transport transport.Transport

	mu sync.Mutex

	st state

	// snapshotCursor is the next absolute row id to emit within the
	// current snapshot lane.
	snapshotCursor uint64
	snapshotEnd    uint64

	lastDelivered uint64
	lastHeartbeat time.Time

	backfill []backfillRequest

	// transmitter cache: last cell/style sent per (row,col) so delta
	// emission can suppress unchanged cells. Keyed by absolute row*cols+col
	// is the caller's responsibility; here we key by (row,col) pair
	// directly since rows can exceed int range only after ~2^32 cols.
	sentCells map[rowCol]gridcache.PackedCell
	sentStyle map[gridcache.StyleID]bool

	lastCursor gridcache.Update
	haveCursor bool

	dead bool
}

type rowCol struct {
	row uint64
	col int
}

func newSubscription(id uint64, t transport.Transport) *Subscription {
	return &Subscription{
		ID:        id,
		Transport: t,
		st:        stateNew,
		sentCells: make(map[rowCol]gridcache.PackedCell),
		sentStyle: make(map[gridcache.StyleID]bool),
	}
}

// markDead flags the subscription as terminated; no retries are attempted
// on a dead subscription.
func (s *Subscription) markDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = true
	s.st = stateDead
}

// IsDead reports whether a transport write failure has killed this
// subscription.
func (s *Subscription) IsDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

// resetToSnapshot drops the subscription back to a fresh snapshot cycle,
// used both for the initial hello and for StreamGap recovery.
func (s *Subscription) resetToSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = stateSnapForeground
	s.sentCells = make(map[rowCol]gridcache.PackedCell)
	s.sentStyle = make(map[gridcache.StyleID]bool)
}

func (s *Subscription) suppressedCell(row uint64, col int, cell gridcache.PackedCell) bool {
	key := rowCol{row, col}
	if prev, ok := s.sentCells[key]; ok && prev == cell {
		return true
	}
	s.sentCells[rowCol{row, col}] = cell
	return false
}

// needsStyle reports whether id has not yet been announced to this
// subscription, marking it announced as a side effect. Style definitions
// are sent at most once per subscription unless they change.
func (s *Subscription) needsStyle(id gridcache.StyleID) bool {
	if s.sentStyle[id] {
		return false
	}
	s.sentStyle[id] = true
	return true
}
