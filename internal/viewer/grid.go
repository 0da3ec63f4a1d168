package viewer

import "github.com/beachside/beach/internal/gridcache"

// localGrid is the viewer's own mirror of the host's TerminalGrid: a
// sparse map of absolute row id to cells, built from Snapshot/Delta
// updates rather than PTY bytes. It never evicts on its own; it only
// drops rows in response to a Trim update, mirroring the host's eviction.
type localGrid struct {
	cols   int
	rows   map[uint64][]gridcache.PackedCell
	styles map[gridcache.StyleID]gridcache.Style

	cursorRow     uint64
	cursorCol     int
	cursorVisible bool

	firstRow uint64
	lastRow  uint64
	haveRows bool
}

func newLocalGrid(cols int) *localGrid {
	return &localGrid{
		cols:   cols,
		rows:   make(map[uint64][]gridcache.PackedCell),
		styles: map[gridcache.StyleID]gridcache.Style{gridcache.DefaultStyleID: {}},
	}
}

func (g *localGrid) setRow(absRow uint64, cells []gridcache.PackedCell) {
	row := make([]gridcache.PackedCell, g.cols)
	copy(row, cells)
	for i := len(cells); i < g.cols; i++ {
		row[i] = gridcache.BlankCell
	}
	g.rows[absRow] = row
	g.trackExtent(absRow)
}

func (g *localGrid) setCell(absRow uint64, col int, cell gridcache.PackedCell) {
	row, ok := g.rows[absRow]
	if !ok {
		row = make([]gridcache.PackedCell, g.cols)
		for i := range row {
			row[i] = gridcache.BlankCell
		}
		g.rows[absRow] = row
	}
	if col >= 0 && col < len(row) {
		row[col] = cell
	}
	g.trackExtent(absRow)
}

func (g *localGrid) fillRect(rowLo, rowHi uint64, colLo, colHi int, fill gridcache.PackedCell) {
	for r := rowLo; r < rowHi; r++ {
		for c := colLo; c < colHi; c++ {
			g.setCell(r, c, fill)
		}
	}
}

func (g *localGrid) trim(startRow, count uint64) {
	for r := startRow; r < startRow+count; r++ {
		delete(g.rows, r)
	}
}

func (g *localGrid) trackExtent(absRow uint64) {
	if !g.haveRows {
		g.firstRow, g.lastRow, g.haveRows = absRow, absRow, true
		return
	}
	if absRow < g.firstRow {
		g.firstRow = absRow
	}
	if absRow > g.lastRow {
		g.lastRow = absRow
	}
}

func (g *localGrid) learnStyle(id gridcache.StyleID, style gridcache.Style) {
	g.styles[id] = style
}

func (g *localGrid) styleFor(id gridcache.StyleID) gridcache.Style {
	return g.styles[id]
}

// apply folds one Update into the mirror grid.
func (g *localGrid) apply(u gridcache.Update) {
	switch u.Kind {
	case gridcache.UpdateCell:
		g.setCell(u.Row, u.Col, u.Cell)
	case gridcache.UpdateRow:
		g.setRow(u.Row, u.Cells)
	case gridcache.UpdateRowSegment:
		row, ok := g.rows[u.Row]
		if !ok {
			row = make([]gridcache.PackedCell, g.cols)
			for i := range row {
				row[i] = gridcache.BlankCell
			}
			g.rows[u.Row] = row
		}
		for i, c := range u.Cells {
			col := u.StartCol + i
			if col >= 0 && col < len(row) {
				row[col] = c
			}
		}
		g.trackExtent(u.Row)
	case gridcache.UpdateRect:
		g.fillRect(u.RowLo, u.RowHi, u.ColLo, u.ColHi, u.Fill)
	case gridcache.UpdateTrim:
		g.trim(u.TrimStartRow, u.TrimCount)
	case gridcache.UpdateStyle:
		g.learnStyle(u.StyleID, u.Style)
	case gridcache.UpdateCursor:
		g.cursorRow, g.cursorCol, g.cursorVisible = u.CursorRow, u.CursorCol, u.CursorVisible
	}
}

// line returns absRow's cells, or an all-blank row if it is not resident
// (e.g. the viewer has not yet received it).
func (g *localGrid) line(absRow uint64) []gridcache.PackedCell {
	if row, ok := g.rows[absRow]; ok {
		return row
	}
	blank := make([]gridcache.PackedCell, g.cols)
	for i := range blank {
		blank[i] = gridcache.BlankCell
	}
	return blank
}
