package wire

import (
	"reflect"
	"testing"

	"github.com/beachside/beach/internal/gridcache"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	b, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode(%+v): %v", f, err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode(Encode(%+v)): %v", f, err)
	}
	return got
}

func TestHostFrameRoundTrip(t *testing.T) {
	cell := gridcache.PackCell('x', 3, false)
	allUpdates := []gridcache.Update{
		gridcache.NewCellUpdate(1, 5, 2, cell),
		gridcache.NewRowUpdate(2, 6, []gridcache.PackedCell{cell, cell}),
		gridcache.NewRowSegmentUpdate(3, 6, 4, []gridcache.PackedCell{cell}),
		gridcache.NewRectUpdate(4, 0, 3, 0, 10, cell),
		gridcache.NewTrimUpdate(5, gridcache.TrimEvent{StartAbsRow: 0, Count: 2}),
		gridcache.NewStyleUpdate(6, 3, gridcache.Style{Fg: 1, Bg: 2, Attrs: gridcache.AttrBold}),
		gridcache.NewCursorUpdate(7, 6, 4, true),
	}
	cursor := gridcache.NewCursorUpdate(8, 6, 4, true)

	frames := []Frame{
		{Kind: KindHeartbeat, Seq: 42, TimestampMs: 1_700_000_000_000},
		{Kind: KindHello, Subscription: 1, MaxSeq: 99, Config: []byte{1, 2, 3}, Features: 0},
		{Kind: KindGrid, Cols: 80, HistoryRows: 10000, BaseRow: 12, ViewportRows: 24, HasViewportRows: true},
		{Kind: KindSnapshot, Subscription: 1, Lane: LaneHistory, Watermark: 10, HasMore: true, Updates: allUpdates, HasCursor: true, Cursor: cursor},
		{Kind: KindSnapshot, Subscription: 1, Lane: LaneForeground, Watermark: 0, HasMore: false, Updates: []gridcache.Update{}},
		{Kind: KindSnapshotComplete, Subscription: 1, Lane: LaneRecent},
		{Kind: KindDelta, Subscription: 1, Watermark: 55, HasMore: false, Updates: allUpdates, HasCursor: true, Cursor: cursor},
		{Kind: KindHistoryBackfill, Subscription: 1, RequestID: 7, StartRow: 100, Count: 50, Updates: allUpdates, HasMore: true},
		{Kind: KindInputAck, Seq: 3},
		{Kind: KindCursor, Subscription: 1, Cursor: cursor},
		{Kind: KindShutdown},
	}
	for _, f := range frames {
		got := roundTrip(t, f)
		if !reflect.DeepEqual(got, f) {
			t.Errorf("round trip mismatch for kind %d:\n got  %+v\n want %+v", f.Kind, got, f)
		}
	}
}

func TestViewerFrameRoundTrip(t *testing.T) {
	frames := []Frame{
		{Kind: KindInput, Seq: 1, Data: []byte("echo world\r")},
		{Kind: KindInput, Seq: 2, Data: []byte{}},
		{Kind: KindResize, ResizeCols: 120, ResizeRows: 40},
		{Kind: KindRequestBackfill, Subscription: 1, RequestID: 9, StartRow: 0, Count: 20},
		{Kind: KindViewportCommand, Command: "page-up"},
		{Kind: KindUnknown},
	}
	for _, f := range frames {
		got := roundTrip(t, f)
		if !reflect.DeepEqual(got, f) {
			t.Errorf("round trip mismatch for kind %d:\n got  %+v\n want %+v", f.Kind, got, f)
		}
	}
}

func TestGridLegacyLayoutFallback(t *testing.T) {
	// Build the legacy encoding by hand: no has-viewport-rows flag byte at
	// all, just cols/history_rows/base_row.
	e := &encoder{}
	e.writeByte(byte(Version<<5) | byte(KindGrid))
	e.writeUvarint(80)
	e.writeUvarint(10000)
	e.writeUvarint(5)

	f, err := Decode(e.bytes())
	if err != nil {
		t.Fatalf("Decode legacy Grid: %v", err)
	}
	if f.Cols != 80 || f.HistoryRows != 10000 || f.BaseRow != 5 || f.HasViewportRows {
		t.Fatalf("decoded legacy Grid = %+v", f)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	b := []byte{byte(2<<5) | byte(KindHeartbeat)}
	_, err := Decode(b)
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
	werr, ok := err.(*Error)
	if !ok || werr.Kind != InvalidVersion {
		t.Fatalf("err = %v, want InvalidVersion", err)
	}
}

func TestDecodeTruncatedFrameIsUnexpectedEOF(t *testing.T) {
	full, err := Encode(Frame{Kind: KindHello, Subscription: 1, MaxSeq: 2, Features: 3})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decode(full[:len(full)-2])
	if err == nil {
		t.Fatal("expected error decoding a truncated frame")
	}
	werr, ok := err.(*Error)
	if !ok || werr.Kind != UnexpectedEOF {
		t.Fatalf("err = %v, want UnexpectedEOF", err)
	}
}

func TestDecodeUnknownUpdateTag(t *testing.T) {
	e := &encoder{}
	e.writeUvarint(1) // count
	e.writeUvarint(0) // seq
	e.writeByte(0xEE) // bogus tag
	_, err := decodeUpdates(&cursor{buf: e.bytes()})
	if err == nil {
		t.Fatal("expected error for unknown update tag")
	}
	werr, ok := err.(*Error)
	if !ok || werr.Kind != UnknownUpdateTag {
		t.Fatalf("err = %v, want UnknownUpdateTag", err)
	}
}
