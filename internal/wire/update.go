package wire

import "github.com/beachside/beach/internal/gridcache"

// updateTag is the one-byte discriminator written before each Update's
// variant fields.
type updateTag byte

const (
	tagCell updateTag = iota
	tagRow
	tagRowSegment
	tagRect
	tagTrim
	tagStyle
	tagCursor
)

func encodeUpdates(e *encoder, updates []gridcache.Update) {
	e.writeUvarint(uint64(len(updates)))
	for _, u := range updates {
		encodeUpdate(e, u)
	}
}

func decodeUpdates(c *cursor) ([]gridcache.Update, error) {
	n, err := c.readUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]gridcache.Update, 0, n)
	for i := uint64(0); i < n; i++ {
		u, err := decodeUpdate(c)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeUpdate(e *encoder, u gridcache.Update) {
	e.writeUvarint(u.Seq)
	switch u.Kind {
	case gridcache.UpdateCell:
		e.writeByte(byte(tagCell))
		e.writeUvarint(u.Row)
		e.writeUvarint(uint64(u.Col))
		e.writeUvarint(uint64(u.Cell))

	case gridcache.UpdateRow:
		e.writeByte(byte(tagRow))
		e.writeUvarint(u.Row)
		encodeCells(e, u.Cells)

	case gridcache.UpdateRowSegment:
		e.writeByte(byte(tagRowSegment))
		e.writeUvarint(u.Row)
		e.writeUvarint(uint64(u.StartCol))
		encodeCells(e, u.Cells)

	case gridcache.UpdateRect:
		e.writeByte(byte(tagRect))
		e.writeUvarint(u.RowLo)
		e.writeUvarint(u.RowHi)
		e.writeUvarint(uint64(u.ColLo))
		e.writeUvarint(uint64(u.ColHi))
		e.writeUvarint(uint64(u.Fill))

	case gridcache.UpdateTrim:
		e.writeByte(byte(tagTrim))
		e.writeUvarint(u.TrimStartRow)
		e.writeUvarint(u.TrimCount)

	case gridcache.UpdateStyle:
		e.writeByte(byte(tagStyle))
		e.writeUvarint(uint64(u.StyleID))
		e.writeUvarint(uint64(u.Style.Fg))
		e.writeUvarint(uint64(u.Style.Bg))
		e.writeUvarint(uint64(u.Style.Attrs))

	case gridcache.UpdateCursor:
		e.writeByte(byte(tagCursor))
		e.writeUvarint(u.CursorRow)
		e.writeUvarint(uint64(u.CursorCol))
		e.writeBool(u.CursorVisible)
	}
}

func decodeUpdate(c *cursor) (gridcache.Update, error) {
	seq, err := c.readUvarint()
	if err != nil {
		return gridcache.Update{}, err
	}
	tagByte, err := c.readByte()
	if err != nil {
		return gridcache.Update{}, err
	}

	switch updateTag(tagByte) {
	case tagCell:
		row, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		col, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		cell, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		return gridcache.NewCellUpdate(seq, row, int(col), gridcache.PackedCell(cell)), nil

	case tagRow:
		row, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		cells, err := decodeCells(c)
		if err != nil {
			return gridcache.Update{}, err
		}
		return gridcache.NewRowUpdate(seq, row, cells), nil

	case tagRowSegment:
		row, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		startCol, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		cells, err := decodeCells(c)
		if err != nil {
			return gridcache.Update{}, err
		}
		return gridcache.NewRowSegmentUpdate(seq, row, int(startCol), cells), nil

	case tagRect:
		rowLo, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		rowHi, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		colLo, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		colHi, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		fill, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		return gridcache.NewRectUpdate(seq, rowLo, rowHi, int(colLo), int(colHi), gridcache.PackedCell(fill)), nil

	case tagTrim:
		start, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		count, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		return gridcache.NewTrimUpdate(seq, gridcache.TrimEvent{StartAbsRow: start, Count: count}), nil

	case tagStyle:
		id, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		fg, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		bg, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		attrs, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		style := gridcache.Style{Fg: uint32(fg), Bg: uint32(bg), Attrs: gridcache.Attrs(attrs)}
		return gridcache.NewStyleUpdate(seq, gridcache.StyleID(id), style), nil

	case tagCursor:
		row, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		col, err := c.readUvarint()
		if err != nil {
			return gridcache.Update{}, err
		}
		visible, err := c.readBool()
		if err != nil {
			return gridcache.Update{}, err
		}
		return gridcache.NewCursorUpdate(seq, row, int(col), visible), nil

	default:
		return gridcache.Update{}, wireErr(UnknownUpdateTag, nil)
	}
}

func encodeCells(e *encoder, cells []gridcache.PackedCell) {
	e.writeUvarint(uint64(len(cells)))
	for _, c := range cells {
		e.writeUvarint(uint64(c))
	}
}

func decodeCells(c *cursor) ([]gridcache.PackedCell, error) {
	n, err := c.readUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]gridcache.PackedCell, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := c.readUvarint()
		if err != nil {
			return nil, err
		}
		out = append(out, gridcache.PackedCell(v))
	}
	return out, nil
}
