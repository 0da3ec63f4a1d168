// Package wire implements the binary host↔viewer frame codec: a one-byte
// header, unsigned LEB128 varints, and length-prefixed strings/bytes.
package wire

import "github.com/beachside/beach/internal/gridcache"

// Version is the only wire protocol version this codec understands.
const Version uint8 = 1

// Kind identifies a frame variant. Values below 10 are host→viewer frames;
// 10 and above are viewer→host frames.
type Kind uint8

const (
	KindHeartbeat Kind = iota
	KindHello
	KindGrid
	KindSnapshot
	KindSnapshotComplete
	KindDelta
	KindHistoryBackfill
	KindInputAck
	KindCursor
	KindShutdown

	KindInput
	KindResize
	KindRequestBackfill
	KindViewportCommand
	KindUnknown
)

// Lane is a snapshot priority class.
type Lane uint8

const (
	LaneForeground Lane = iota
	LaneRecent
	LaneHistory
)

// Frame is every wire frame variant flattened into one struct; only the
// fields relevant to Kind are populated. This mirrors gridcache.Update's
// flattened-sum-type style, chosen for the same reason: frames are
// encoded/decoded in the hot send/recv path and must not force an
// interface-per-variant allocation.
type Frame struct {
	Kind Kind

	// Hello
	Subscription uint64
	MaxSeq       uint64
	Config       []byte
	Features     uint32

	// Grid
	Cols            uint32
	HistoryRows     uint32
	BaseRow         uint64
	ViewportRows    uint32
	HasViewportRows bool

	// Snapshot / SnapshotComplete / Delta / HistoryBackfill
	Lane      Lane
	Watermark uint64
	HasMore   bool
	Updates   []gridcache.Update
	HasCursor bool
	Cursor    gridcache.Update

	// HistoryBackfill / RequestBackfill
	RequestID uint64
	StartRow  uint64
	Count     uint64

	// Input / InputAck
	Seq  uint64
	Data []byte

	// Resize
	ResizeCols uint32
	ResizeRows uint32

	// ViewportCommand
	Command string

	// Heartbeat
	TimestampMs uint64
}

// Encode serializes f into its wire representation.
func Encode(f Frame) ([]byte, error) {
	e := &encoder{}
	e.writeByte(byte(Version<<5) | byte(f.Kind)&0x1F)

	switch f.Kind {
	case KindHeartbeat:
		e.writeUvarint(f.Seq)
		e.writeUvarint(f.TimestampMs)

	case KindHello:
		e.writeUvarint(f.Subscription)
		e.writeUvarint(f.MaxSeq)
		e.writeByteSlice(f.Config)
		e.writeUvarint(uint64(f.Features))

	case KindGrid:
		e.writeUvarint(uint64(f.Cols))
		e.writeUvarint(uint64(f.HistoryRows))
		e.writeUvarint(f.BaseRow)
		if f.HasViewportRows {
			e.writeByte(1)
			e.writeUvarint(uint64(f.ViewportRows))
		} else {
			e.writeByte(0)
		}

	case KindSnapshot, KindDelta:
		e.writeUvarint(f.Subscription)
		if f.Kind == KindSnapshot {
			e.writeByte(byte(f.Lane))
		}
		e.writeUvarint(f.Watermark)
		e.writeBool(f.HasMore)
		encodeUpdates(e, f.Updates)
		e.writeBool(f.HasCursor)
		if f.HasCursor {
			encodeUpdate(e, f.Cursor)
		}

	case KindSnapshotComplete:
		e.writeUvarint(f.Subscription)
		e.writeByte(byte(f.Lane))

	case KindHistoryBackfill:
		e.writeUvarint(f.Subscription)
		e.writeUvarint(f.RequestID)
		e.writeUvarint(f.StartRow)
		e.writeUvarint(f.Count)
		encodeUpdates(e, f.Updates)
		e.writeBool(f.HasMore)
		e.writeBool(f.HasCursor)
		if f.HasCursor {
			encodeUpdate(e, f.Cursor)
		}

	case KindInputAck:
		e.writeUvarint(f.Seq)

	case KindCursor:
		e.writeUvarint(f.Subscription)
		encodeUpdate(e, f.Cursor)

	case KindShutdown:
		// no body

	case KindInput:
		e.writeUvarint(f.Seq)
		e.writeByteSlice(f.Data)

	case KindResize:
		e.writeUvarint(uint64(f.ResizeCols))
		e.writeUvarint(uint64(f.ResizeRows))

	case KindRequestBackfill:
		e.writeUvarint(f.Subscription)
		e.writeUvarint(f.RequestID)
		e.writeUvarint(f.StartRow)
		e.writeUvarint(f.Count)

	case KindViewportCommand:
		e.writeString(f.Command)

	case KindUnknown:
		// no body

	default:
		return nil, wireErr(UnknownFrameType, nil)
	}

	return e.bytes(), nil
}

// Decode parses a wire frame. Decoders first attempt the current layout and
// fall back to recognizing a legacy Grid layout (no ViewportRows marker) on
// remainder mismatch.
func Decode(b []byte) (Frame, error) {
	c := &cursor{buf: b}
	header, err := c.readByte()
	if err != nil {
		return Frame{}, err
	}
	version := header >> 5
	kind := Kind(header & 0x1F)
	if version != Version {
		return Frame{}, wireErr(InvalidVersion, nil)
	}

	var f Frame
	f.Kind = kind

	switch kind {
	case KindHeartbeat:
		f.Seq, err = c.readUvarint()
		if err == nil {
			f.TimestampMs, err = c.readUvarint()
		}

	case KindHello:
		f.Subscription, err = c.readUvarint()
		if err == nil {
			f.MaxSeq, err = c.readUvarint()
		}
		if err == nil {
			f.Config, err = c.readByteSlice()
		}
		if err == nil {
			var features uint64
			features, err = c.readUvarint()
			f.Features = uint32(features)
		}

	case KindGrid:
		err = decodeGrid(c, &f)

	case KindSnapshot, KindDelta:
		f.Subscription, err = c.readUvarint()
		if err == nil && kind == KindSnapshot {
			var laneByte byte
			laneByte, err = c.readByte()
			f.Lane = Lane(laneByte)
		}
		if err == nil {
			f.Watermark, err = c.readUvarint()
		}
		if err == nil {
			f.HasMore, err = c.readBool()
		}
		if err == nil {
			f.Updates, err = decodeUpdates(c)
		}
		if err == nil {
			f.HasCursor, err = c.readBool()
		}
		if err == nil && f.HasCursor {
			f.Cursor, err = decodeUpdate(c)
		}

	case KindSnapshotComplete:
		f.Subscription, err = c.readUvarint()
		if err == nil {
			var laneByte byte
			laneByte, err = c.readByte()
			f.Lane = Lane(laneByte)
		}

	case KindHistoryBackfill:
		f.Subscription, err = c.readUvarint()
		if err == nil {
			f.RequestID, err = c.readUvarint()
		}
		if err == nil {
			f.StartRow, err = c.readUvarint()
		}
		if err == nil {
			f.Count, err = c.readUvarint()
		}
		if err == nil {
			f.Updates, err = decodeUpdates(c)
		}
		if err == nil {
			f.HasMore, err = c.readBool()
		}
		if err == nil {
			f.HasCursor, err = c.readBool()
		}
		if err == nil && f.HasCursor {
			f.Cursor, err = decodeUpdate(c)
		}

	case KindInputAck:
		f.Seq, err = c.readUvarint()

	case KindCursor:
		f.Subscription, err = c.readUvarint()
		if err == nil {
			f.Cursor, err = decodeUpdate(c)
		}

	case KindShutdown:
		// no body

	case KindInput:
		f.Seq, err = c.readUvarint()
		if err == nil {
			f.Data, err = c.readByteSlice()
		}

	case KindResize:
		var cols, rows uint64
		cols, err = c.readUvarint()
		if err == nil {
			rows, err = c.readUvarint()
		}
		f.ResizeCols, f.ResizeRows = uint32(cols), uint32(rows)

	case KindRequestBackfill:
		f.Subscription, err = c.readUvarint()
		if err == nil {
			f.RequestID, err = c.readUvarint()
		}
		if err == nil {
			f.StartRow, err = c.readUvarint()
		}
		if err == nil {
			f.Count, err = c.readUvarint()
		}

	case KindViewportCommand:
		f.Command, err = c.readString()

	case KindUnknown:
		// no body

	default:
		return Frame{}, wireErr(UnknownFrameType, nil)
	}

	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// decodeGrid tries the current layout (cols, history_rows, base_row,
// has_viewport_rows flag, [viewport_rows]) first; if a trailing-byte
// mismatch is detected, retry assuming the legacy layout that omits the
// viewport-rows flag entirely.
func decodeGrid(c *cursor, f *Frame) error {
	start := c.pos
	cols, err := c.readUvarint()
	if err != nil {
		return err
	}
	historyRows, err := c.readUvarint()
	if err != nil {
		return err
	}
	baseRow, err := c.readUvarint()
	if err != nil {
		return err
	}
	if c.remaining() == 0 {
		// Legacy layout: no viewport-rows marker at all.
		f.Cols, f.HistoryRows, f.BaseRow = uint32(cols), uint32(historyRows), baseRow
		f.HasViewportRows = false
		return nil
	}
	flag, err := c.readByte()
	if err != nil {
		c.pos = start
		return wireErr(InvalidData, err)
	}
	f.Cols, f.HistoryRows, f.BaseRow = uint32(cols), uint32(historyRows), baseRow
	if flag == 0 {
		f.HasViewportRows = false
		return nil
	}
	vp, err := c.readUvarint()
	if err != nil {
		return err
	}
	f.HasViewportRows = true
	f.ViewportRows = uint32(vp)
	return nil
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
}

func (c *cursor) readBool() (bool, error) {
	b, err := c.readByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
