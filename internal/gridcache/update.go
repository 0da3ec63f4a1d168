package gridcache

// UpdateKind discriminates the variant carried by an Update.
type UpdateKind uint8

const (
	UpdateCell UpdateKind = iota
	UpdateRow
	UpdateRowSegment
	UpdateRect
	UpdateTrim
	UpdateStyle
	UpdateCursor
)

// Update is the global ordering primitive: every mutation the emulator
// makes to the grid or the cursor is expressed as one Update, seq-stamped
// from a single per-grid counter so a reader that has observed every
// Update in seq order has reconstructed the grid exactly.
//
// Only the fields relevant to Kind are populated; the rest are zero. This
// is a flattened envelope-plus-payload-union style rather than a Go
// interface-per-variant, since Updates are produced in tight loops during
// PTY output processing and must not allocate per cell.
type Update struct {
	Seq  uint64
	Kind UpdateKind

	// UpdateCell
	Row  uint64
	Col  int
	Cell PackedCell

	// UpdateRow / UpdateRowSegment
	StartCol int
	Cells    []PackedCell

	// UpdateRect
	RowLo, RowHi uint64
	ColLo, ColHi int
	Fill         PackedCell

	// UpdateTrim
	TrimStartRow uint64
	TrimCount    uint64

	// UpdateStyle
	StyleID StyleID
	Style   Style

	// UpdateCursor
	CursorRow     uint64
	CursorCol     int
	CursorVisible bool
}

// NewCellUpdate builds a single-cell Update.
func NewCellUpdate(seq, row uint64, col int, cell PackedCell) Update {
	return Update{Seq: seq, Kind: UpdateCell, Row: row, Col: col, Cell: cell}
}

// NewRowUpdate builds an Update replacing an entire row from column 0.
func NewRowUpdate(seq, row uint64, cells []PackedCell) Update {
	return Update{Seq: seq, Kind: UpdateRow, Row: row, StartCol: 0, Cells: cells}
}

// NewRowSegmentUpdate builds an Update replacing part of a row.
func NewRowSegmentUpdate(seq, row uint64, startCol int, cells []PackedCell) Update {
	return Update{Seq: seq, Kind: UpdateRowSegment, Row: row, StartCol: startCol, Cells: cells}
}

// NewRectUpdate builds an Update filling a rectangle with one cell value,
// used for clear-to-end-of-screen and similar bulk VT operations.
func NewRectUpdate(seq uint64, rowLo, rowHi uint64, colLo, colHi int, fill PackedCell) Update {
	return Update{Seq: seq, Kind: UpdateRect, RowLo: rowLo, RowHi: rowHi, ColLo: colLo, ColHi: colHi, Fill: fill}
}

// NewTrimUpdate builds an Update reflecting a TrimEvent drained from the
// grid, so subscribers can advance their own history watermarks in lockstep
// with the grid's eviction.
func NewTrimUpdate(seq uint64, ev TrimEvent) Update {
	return Update{Seq: seq, Kind: UpdateTrim, TrimStartRow: ev.StartAbsRow, TrimCount: ev.Count}
}

// NewStyleUpdate builds an Update announcing a newly interned style, sent
// once per id the first time a subscriber's lane needs it.
func NewStyleUpdate(seq uint64, id StyleID, style Style) Update {
	return Update{Seq: seq, Kind: UpdateStyle, StyleID: id, Style: style}
}

// NewCursorUpdate builds an Update reflecting a cursor move or visibility
// change.
func NewCursorUpdate(seq uint64, row uint64, col int, visible bool) Update {
	return Update{Seq: seq, Kind: UpdateCursor, CursorRow: row, CursorCol: col, CursorVisible: visible}
}
