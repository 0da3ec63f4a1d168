package emulator

import (
	"sync"

	"github.com/beachside/beach/internal/gridcache"
)

// Simple is a line-buffered emulator aware of CR, LF, TAB, and BS. It does
// not interpret ANSI escape sequences beyond stripping CSI/OSC sequences so
// they do not pollute the grid as literal text; it exists for tests and as
// a fallback when the full VT parser is unavailable.
type Simple struct {
	mu    sync.Mutex
	grid  *gridcache.TerminalGrid
	seq   seqCounter
	curs  cursorState
	row   uint64
	col   int
	attn  bool
	tabW  int
	inEsc bool // mid control-sequence, skip bytes until terminator
	escSt int  // 0=none, 1=saw ESC, 2=saw ESC [ (CSI), 3=saw ESC ] (OSC)
}

// NewSimple creates a Simple emulator writing into grid, starting at
// absolute row 0, column 0.
func NewSimple(grid *gridcache.TerminalGrid) *Simple {
	return &Simple{grid: grid, tabW: 8}
}

func (e *Simple) Grid() *gridcache.TerminalGrid { return e.grid }

func (e *Simple) Cursor() (uint64, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.row, e.col, true
}

func (e *Simple) Attention() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.attn
	e.attn = false
	return v
}

func (e *Simple) Close() error { return nil }

func (e *Simple) Resize(rows, cols int) []gridcache.Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.grid.Resize(rows, cols)
	if e.col >= cols {
		e.col = cols - 1
	}
	return e.drainTrimLocked()
}

// Write processes p byte by byte, advancing the cursor and writing packed
// cells into the grid, wrapping at the configured column width and
// scrolling (advancing to a fresh absolute row) at newline or wrap.
func (e *Simple) Write(p []byte) ([]gridcache.Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var updates []gridcache.Update
	cols := e.grid.Cols()

	for _, b := range p {
		if e.inEsc {
			e.consumeEscByte(b)
			continue
		}
		switch b {
		case 0x1b: // ESC
			e.inEsc = true
			e.escSt = 1
			continue
		case 0x07: // BEL
			e.attn = true
			continue
		case '\r':
			e.col = 0
			continue
		case '\n':
			e.col = 0
			e.advanceRow()
			continue
		case '\t':
			next := ((e.col / e.tabW) + 1) * e.tabW
			if next >= cols {
				next = cols - 1
			}
			e.col = next
			continue
		case 0x08: // BS
			if e.col > 0 {
				e.col--
			}
			continue
		}

		if b < 0x20 {
			continue // ignore other control bytes
		}

		seq := e.seq.allocate()
		cell := gridcache.PackCell(rune(b), gridcache.DefaultStyleID, false)
		if e.grid.WritePackedCellIfNewer(e.row, e.col, seq, cell) {
			updates = append(updates, gridcache.NewCellUpdate(seq, e.row, e.col, cell))
		}
		e.col++
		if e.col >= cols {
			e.col = 0
			e.advanceRow()
		}
	}

	if e.curs.changed(e.row, e.col, true) {
		seq := e.seq.allocate()
		e.curs.update(e.row, e.col, true)
		updates = append(updates, gridcache.NewCursorUpdate(seq, e.row, e.col, true))
	}

	updates = append(updates, e.drainTrimLocked()...)
	return updates, nil
}

// consumeEscByte skips over a CSI or OSC control sequence so its bytes
// never reach the grid as literal text. It is not a full VT parser: it
// only recognizes enough structure to find the sequence terminator.
func (e *Simple) consumeEscByte(b byte) {
	switch e.escSt {
	case 1: // just saw ESC
		switch b {
		case '[':
			e.escSt = 2
		case ']':
			e.escSt = 3
		default:
			e.inEsc = false
			e.escSt = 0
		}
	case 2: // CSI: ESC [ ... final-byte in 0x40-0x7e
		if b >= 0x40 && b <= 0x7e {
			e.inEsc = false
			e.escSt = 0
		}
	case 3: // OSC: ESC ] ... terminated by BEL or ST (ESC \\)
		if b == 0x07 {
			e.inEsc = false
			e.escSt = 0
		}
		// ESC \ terminator is handled loosely: a second ESC restarts escSt=1,
		// which is good enough for the fallback emulator's purposes.
		if b == 0x1b {
			e.escSt = 1
		}
	}
}

func (e *Simple) advanceRow() {
	e.row++
	if e.row > e.grid.LastRowID() {
		// force the grid to allocate the new row now so seq-ordered trim
		// events are produced in the same tick as the cursor move that
		// caused them, matching the emulator's resize-then-trim ordering.
		e.grid.WritePackedCellIfNewer(e.row, 0, e.seq.allocate(), gridcache.BlankCell)
	}
}

func (e *Simple) drainTrimLocked() []gridcache.Update {
	evs := e.grid.DrainTrimEvents()
	if len(evs) == 0 {
		return nil
	}
	out := make([]gridcache.Update, 0, len(evs))
	for _, ev := range evs {
		out = append(out, gridcache.NewTrimUpdate(e.seq.allocate(), ev))
	}
	return out
}
