package emulator

import (
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"

	"github.com/beachside/beach/internal/gridcache"
)

// rowDenseThreshold: a row is emitted whole (Row update) when more than
// this fraction of its cells differ from the previous capture; otherwise
// each contiguous run of changed cells is emitted as a RowSegment update,
// or as a Cell update when the run is a single column.
const rowDenseThreshold = 0.5

// Full drives a VT parser (charmbracelet/x/vt) and, for each output chunk,
// re-captures the visible grid and diffs it against the previous capture
// to emit minimal cell/row updates. Scrollback is captured via the
// emulator's ScrollOut callback and written into the grid as newly
// allocated absolute rows, never rewritten in place with a lower id.
//
// Grounded on a prior VTerm wrapper, generalized from an ANSI-snapshot
// reconnect payload to a cell-level diff producing gridcache.Update
// values.
type Full struct {
	mu   sync.Mutex
	emu  *vt.Emulator
	grid *gridcache.TerminalGrid
	seq  seqCounter
	curs cursorState

	rows, cols int

	// pendingStyle accumulates Style updates discovered while scrolling
	// lines into history during this Write call, so they can be prepended
	// ahead of the row/cell updates that reference them.
	pendingStyle []gridcache.Update

	// nextAbsRow is the absolute row id the emulator's viewport row 0
	// currently maps to; it advances by one for every line scrolled out.
	nextAbsRow uint64

	// prevStyle holds the last-captured style id per visible cell, used to
	// detect style-only changes without a full Style re-diff; prevRunes
	// holds the last-captured rune per visible cell.
	prevRunes []rune
	prevStyle []gridcache.StyleID

	altScreen bool
	attn      bool
}

// NewFull creates a Full emulator over a freshly constructed grid of the
// given dimensions and history capacity.
func NewFull(rows, cols, historyLimit int) *Full {
	grid := gridcache.NewTerminalGrid(rows, cols, historyLimit)
	f := &Full{
		grid:       grid,
		rows:       rows,
		cols:       cols,
		nextAbsRow: uint64(historyLimit - rows),
		prevRunes:  make([]rune, rows*cols),
		prevStyle:  make([]gridcache.StyleID, rows*cols),
	}
	f.emu = vt.NewEmulator(cols, rows)
	f.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			f.onScrollOut(lines)
		},
		AltScreen: func(on bool) {
			f.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			// Recorded via Cursor() on next diff; nothing to do eagerly.
			_ = visible
		},
	})
	return f
}

func (f *Full) Grid() *gridcache.TerminalGrid { return f.grid }

func (f *Full) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emu.Close()
}

func (f *Full) Attention() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.attn
	f.attn = false
	return v
}

func (f *Full) Cursor() (uint64, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.curs.row, f.curs.col, f.curs.visible
}

// onScrollOut is invoked by the VT parser (with f.mu already held by the
// caller of Write) whenever rows scroll off the top of the viewport. Each
// scrolled line is written into the grid at a fresh absolute row id so
// history is append-only, mirroring VTerm's ring-buffer scrollback but
// addressed by absolute row instead of a flat string ring.
func (f *Full) onScrollOut(lines []uv.Line) {
	if f.altScreen {
		return
	}
	for _, line := range lines {
		absRow := f.nextAbsRow
		f.nextAbsRow++
		cells := f.lineToCells(line)
		seq := f.seq.allocate()
		f.grid.WriteRowIfNewer(absRow, 0, seq, cells)
	}
}

func (f *Full) lineToCells(line uv.Line) []gridcache.PackedCell {
	cells := make([]gridcache.PackedCell, f.cols)
	for i := range cells {
		cells[i] = gridcache.BlankCell
	}
	n := line.Len()
	if n > f.cols {
		n = f.cols
	}
	for x := 0; x < n; x++ {
		cell := line.At(x)
		style := f.internStyle(cell)
		id, isNew := f.grid.EnsureStyleID(style)
		if isNew {
			f.pendingStyle = append(f.pendingStyle, gridcache.NewStyleUpdate(f.seq.allocate(), id, style))
		}
		cells[x] = gridcache.PackCell(cell.Rune(), id, cell.Width() == 2 && x+1 < n)
	}
	return cells
}

// internStyle converts a ultraviolet cell style into the grid's interned
// Style representation.
func (f *Full) internStyle(cell uv.Cell) gridcache.Style {
	st := cell.Style()
	var attrs gridcache.Attrs
	if st.Bold() {
		attrs |= gridcache.AttrBold
	}
	if st.Faint() {
		attrs |= gridcache.AttrDim
	}
	if st.Italic() {
		attrs |= gridcache.AttrItalic
	}
	if st.Underline() {
		attrs |= gridcache.AttrUnderline
	}
	if st.Blink() {
		attrs |= gridcache.AttrBlink
	}
	if st.Reverse() {
		attrs |= gridcache.AttrReverse
	}
	if st.Conceal() {
		attrs |= gridcache.AttrHidden
	}
	if st.Strikethrough() {
		attrs |= gridcache.AttrStrike
	}
	return gridcache.Style{
		Fg:    colorKey(st.Foreground()),
		Bg:    colorKey(st.Background()),
		Attrs: attrs,
	}
}

// colorKey reduces an ultraviolet color to the grid's packed representation:
// every non-nil color, palette colors included, is resolved through RGBA()
// to bit 24 set plus a 24-bit RGB value; the palette-index form is never
// produced, and nil maps to 0.
func colorKey(c uv.Color) uint32 {
	if c == nil {
		return 0
	}
	r, g, b, _ := c.RGBA()
	return 1<<24 | (uint32(r>>8) << 16) | (uint32(g>>8) << 8) | uint32(b>>8)
}

func (f *Full) Resize(rows, cols int) []gridcache.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emu.Resize(cols, rows)
	f.grid.Resize(rows, cols)
	f.rows, f.cols = rows, cols
	f.prevRunes = make([]rune, rows*cols)
	f.prevStyle = make([]gridcache.StyleID, rows*cols)
	return f.drainTrimLocked()
}

// Write feeds raw PTY bytes to the VT parser, then re-captures the visible
// grid and diffs it against the previous capture to produce minimal
// updates: a row is emitted whole when more than rowDenseThreshold of its
// cells changed, otherwise each contiguous run of changed cells is emitted
// as a RowSegment (or a Cell update for a single-column run). Trim
// events queued by scrollback writes during this chunk are drained and
// forwarded last, matching the documented resize-then-trim ordering.
func (f *Full) Write(p []byte) ([]gridcache.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range p {
		if b == 0x07 {
			f.attn = true
		}
	}

	n, err := f.emu.Write(p)
	if err != nil {
		return nil, err
	}
	_ = n

	updates := f.pendingStyle
	f.pendingStyle = nil
	viewportBase := f.nextAbsRow

	for y := 0; y < f.rows; y++ {
		absRow := viewportBase + uint64(y)
		line := f.emu.Screen().Line(y)
		changed := 0
		rowCells := make([]gridcache.PackedCell, f.cols)
		dirty := make([]bool, f.cols)
		for x := 0; x < f.cols; x++ {
			idx := y*f.cols + x
			var r rune
			var style gridcache.StyleID
			if x < line.Len() {
				cell := line.At(x)
				st := f.internStyle(cell)
				id, isNew := f.grid.EnsureStyleID(st)
				if isNew {
					updates = append(updates, gridcache.NewStyleUpdate(f.seq.allocate(), id, st))
				}
				r, style = cell.Rune(), id
			} else {
				r, style = ' ', gridcache.DefaultStyleID
			}
			rowCells[x] = gridcache.PackCell(r, style, false)
			if f.prevRunes[idx] != r || f.prevStyle[idx] != style {
				changed++
				dirty[x] = true
			}
			f.prevRunes[idx] = r
			f.prevStyle[idx] = style
		}

		if changed == 0 {
			continue
		}
		seq := f.seq.allocate()
		if float64(changed) > float64(f.cols)*rowDenseThreshold {
			f.grid.WriteRowIfNewer(absRow, 0, seq, rowCells)
			updates = append(updates, gridcache.NewRowUpdate(seq, absRow, rowCells))
			continue
		}
		// Contiguous dirty runs coalesce into one RowSegment update rather
		// than one Cell update per changed column.
		for x := 0; x < f.cols; {
			if !dirty[x] {
				x++
				continue
			}
			start := x
			for x < f.cols && dirty[x] {
				x++
			}
			if x-start == 1 {
				cSeq := f.seq.allocate()
				if f.grid.WritePackedCellIfNewer(absRow, start, cSeq, rowCells[start]) {
					updates = append(updates, gridcache.NewCellUpdate(cSeq, absRow, start, rowCells[start]))
				}
				continue
			}
			segCells := make([]gridcache.PackedCell, x-start)
			copy(segCells, rowCells[start:x])
			segSeq := f.seq.allocate()
			f.grid.WriteRowIfNewer(absRow, start, segSeq, segCells)
			updates = append(updates, gridcache.NewRowSegmentUpdate(segSeq, absRow, start, segCells))
		}
	}

	pos := f.emu.CursorPosition()
	cursorRow := viewportBase + uint64(pos.Y)
	visible := f.emu.CursorVisible()
	if f.curs.changed(cursorRow, pos.X, visible) {
		seq := f.seq.allocate()
		f.curs.update(cursorRow, pos.X, visible)
		updates = append(updates, gridcache.NewCursorUpdate(seq, cursorRow, pos.X, visible))
	}

	updates = append(updates, f.drainTrimLocked()...)
	return updates, nil
}

func (f *Full) drainTrimLocked() []gridcache.Update {
	evs := f.grid.DrainTrimEvents()
	if len(evs) == 0 {
		return nil
	}
	out := make([]gridcache.Update, 0, len(evs))
	for _, ev := range evs {
		out = append(out, gridcache.NewTrimUpdate(f.seq.allocate(), ev))
	}
	return out
}
