package viewer

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/transport"
	"github.com/beachside/beach/internal/wire"
)

// recordingTransport is a transport.Transport double recording every
// frame a Model sends, with a blocking Recv fed by a channel the test
// controls directly.
type recordingTransport struct {
	sent [][]byte
	in   chan transport.Message
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{in: make(chan transport.Message, 8)}
}

func (r *recordingTransport) SendBytes(ctx context.Context, b []byte) error {
	r.sent = append(r.sent, append([]byte(nil), b...))
	return nil
}
func (r *recordingTransport) SendText(ctx context.Context, s string) error { return nil }
func (r *recordingTransport) Recv(ctx context.Context, timeout time.Duration) (transport.Message, error) {
	msg, ok := <-r.in
	if !ok {
		return transport.Message{}, transport.ErrClosed
	}
	return msg, nil
}
func (r *recordingTransport) TryRecv() (transport.Message, bool, error) { return transport.Message{}, false, nil }
func (r *recordingTransport) Kind() transport.Kind                     { return transport.KindWebSocket }
func (r *recordingTransport) IsConnected() bool                        { return true }
func (r *recordingTransport) Close() error                             { close(r.in); return nil }

func TestApplyFrameHelloThenGridInitializesLocalGrid(t *testing.T) {
	m := New(newRecordingTransport())
	m.applyFrame(wire.Frame{Kind: wire.KindHello, Subscription: 5, MaxSeq: 100})
	if m.subID != 5 || m.maxSeq != 100 {
		t.Fatalf("subID/maxSeq = %d/%d, want 5/100", m.subID, m.maxSeq)
	}

	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 40, HistoryRows: 10000, BaseRow: 0, HasViewportRows: true, ViewportRows: 24})
	if m.grid == nil {
		t.Fatal("expected Grid frame to initialize the local grid mirror")
	}
	if m.grid.cols != 40 {
		t.Fatalf("grid.cols = %d, want 40", m.grid.cols)
	}
	if m.viewportRows != 24 {
		t.Fatalf("viewportRows = %d, want 24", m.viewportRows)
	}
}

func TestApplyFrameSnapshotCompleteOnHistoryLaneMarksReady(t *testing.T) {
	m := New(newRecordingTransport())
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10})

	m.applyFrame(wire.Frame{Kind: wire.KindSnapshotComplete, Lane: wire.LaneForeground})
	if m.ready {
		t.Fatal("should not be ready until the history lane completes")
	}
	m.applyFrame(wire.Frame{Kind: wire.KindSnapshotComplete, Lane: wire.LaneRecent})
	if m.ready {
		t.Fatal("should not be ready until the history lane completes")
	}
	m.applyFrame(wire.Frame{Kind: wire.KindSnapshotComplete, Lane: wire.LaneHistory})
	if !m.ready {
		t.Fatal("expected ready after the history lane's SnapshotComplete")
	}
}

func TestApplyFrameDeltaAppliesUpdatesAndAdvancesWatermark(t *testing.T) {
	m := New(newRecordingTransport())
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10})

	update := gridcache.NewCellUpdate(1, 0, 0, gridcache.PackCell('z', gridcache.DefaultStyleID, false))
	m.applyFrame(wire.Frame{Kind: wire.KindDelta, Watermark: 1, Updates: []gridcache.Update{update}})

	if m.lastSeq != 1 {
		t.Fatalf("lastSeq = %d, want 1", m.lastSeq)
	}
	if m.grid.line(0)[0].Rune() != 'z' {
		t.Fatal("expected the delta's cell update to reach the local grid")
	}
}

func TestApplyFrameDeltaIgnoresStaleWatermark(t *testing.T) {
	m := New(newRecordingTransport())
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10})

	first := gridcache.NewCellUpdate(5, 0, 0, gridcache.PackCell('a', gridcache.DefaultStyleID, false))
	m.applyFrame(wire.Frame{Kind: wire.KindDelta, Watermark: 5, Updates: []gridcache.Update{first}})

	stale := gridcache.NewCellUpdate(3, 0, 0, gridcache.PackCell('b', gridcache.DefaultStyleID, false))
	m.applyFrame(wire.Frame{Kind: wire.KindDelta, Watermark: 3, Updates: []gridcache.Update{stale}})

	if m.grid.line(0)[0].Rune() != 'a' {
		t.Fatal("a delta with a watermark <= lastSeq must not be applied")
	}
	if m.lastSeq != 5 {
		t.Fatalf("lastSeq = %d, want 5 (unchanged by the stale delta)", m.lastSeq)
	}
}

func TestApplyFrameInputAckDropsPredictedEcho(t *testing.T) {
	m := New(newRecordingTransport())
	m.predicted = []predicted{{seq: 1, col: 0, rune: 'x'}, {seq: 2, col: 1, rune: 'y'}}
	m.applyFrame(wire.Frame{Kind: wire.KindInputAck, Seq: 1})
	if len(m.predicted) != 1 || m.predicted[0].seq != 2 {
		t.Fatalf("predicted = %+v, want only seq 2 remaining", m.predicted)
	}
}

func TestApplyFrameShutdownSetsQuitting(t *testing.T) {
	m := New(newRecordingTransport())
	m.applyFrame(wire.Frame{Kind: wire.KindShutdown})
	if !m.quitting {
		t.Fatal("expected KindShutdown to set quitting")
	}
	if m.View() != "" {
		t.Fatal("View() should render empty once quitting")
	}
}

func TestHandleKeyCtrlCQuits(t *testing.T) {
	m := New(newRecordingTransport())
	_, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !m.quitting {
		t.Fatal("expected Ctrl+C to set quitting")
	}
	if cmd == nil {
		t.Fatal("expected a tea.Quit command")
	}
}

func TestHandleKeyCtrlBTogglesCopyMode(t *testing.T) {
	m := New(newRecordingTransport())
	m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlB})
	if !m.copyMode {
		t.Fatal("expected Ctrl+B to enter copy mode")
	}
	m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlB})
	if m.copyMode {
		t.Fatal("expected a second Ctrl+B to leave copy mode")
	}
}

func TestHandleKeySendsEncodedInputFrame(t *testing.T) {
	rt := newRecordingTransport()
	m := New(rt)
	m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})

	if len(rt.sent) != 1 {
		t.Fatalf("len(rt.sent) = %d, want 1", len(rt.sent))
	}
	f, err := wire.Decode(rt.sent[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != wire.KindInput || string(f.Data) != "a" {
		t.Fatalf("decoded frame = %+v, want Input with data %q", f, "a")
	}
}

func TestHandleKeyEnterSendsCarriageReturn(t *testing.T) {
	rt := newRecordingTransport()
	m := New(rt)
	m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})

	f, err := wire.Decode(rt.sent[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(f.Data) != "\r" {
		t.Fatalf("f.Data = %q, want \\r", f.Data)
	}
}

func TestCopyModeNavigationMovesWithinResidentRows(t *testing.T) {
	rt := newRecordingTransport()
	m := New(rt)
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10, HasViewportRows: true, ViewportRows: 5})
	for r := uint64(0); r < 10; r++ {
		m.grid.setCell(r, 0, gridcache.PackCell('a', gridcache.DefaultStyleID, false))
	}
	m.copyMode = true
	m.copyCursorR = 5

	m.handleCopyModeKey(tea.KeyMsg{Type: tea.KeyUp})
	if m.copyCursorR != 4 {
		t.Fatalf("copyCursorR = %d, want 4", m.copyCursorR)
	}
	m.handleCopyModeKey(tea.KeyMsg{Type: tea.KeyDown})
	if m.copyCursorR != 5 {
		t.Fatalf("copyCursorR = %d, want 5", m.copyCursorR)
	}
	m.handleCopyModeKey(tea.KeyMsg{Type: tea.KeyHome})
	if m.copyCursorR != m.grid.firstRow || m.copyCursorC != 0 {
		t.Fatalf("Home should reset to firstRow/col 0, got (%d,%d)", m.copyCursorR, m.copyCursorC)
	}
	m.handleCopyModeKey(tea.KeyMsg{Type: tea.KeyEnd})
	if m.copyCursorR != m.grid.lastRow {
		t.Fatalf("End should move to lastRow, got %d want %d", m.copyCursorR, m.grid.lastRow)
	}
	m.handleCopyModeKey(tea.KeyMsg{Type: tea.KeyEsc})
	if m.copyMode {
		t.Fatal("Esc should leave copy mode")
	}
}

func TestRequestOlderRowsSendsRequestBackfillFrame(t *testing.T) {
	rt := newRecordingTransport()
	m := New(rt)
	m.applyFrame(wire.Frame{Kind: wire.KindHello, Subscription: 9})
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10, HasViewportRows: true, ViewportRows: 5})
	m.grid.setCell(100, 0, gridcache.PackCell('a', gridcache.DefaultStyleID, false))

	m.requestOlderRows()

	if len(rt.sent) != 1 {
		t.Fatalf("len(rt.sent) = %d, want 1", len(rt.sent))
	}
	f, err := wire.Decode(rt.sent[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != wire.KindRequestBackfill || f.Subscription != 9 {
		t.Fatalf("frame = %+v, want RequestBackfill for subscription 9", f)
	}
	if f.StartRow != 95 || f.Count != 5 {
		t.Fatalf("StartRow/Count = %d/%d, want 95/5", f.StartRow, f.Count)
	}
}

func TestRequestOlderRowsNoopsAtRowZero(t *testing.T) {
	rt := newRecordingTransport()
	m := New(rt)
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10, HasViewportRows: true, ViewportRows: 5})
	m.grid.setCell(0, 0, gridcache.PackCell('a', gridcache.DefaultStyleID, false))

	m.requestOlderRows()
	if len(rt.sent) != 0 {
		t.Fatal("expected no RequestBackfill frame when firstRow is already 0")
	}
}

func TestSelectionExtractsTextBetweenAnchorAndCursor(t *testing.T) {
	m := New(newRecordingTransport())
	m.applyFrame(wire.Frame{Kind: wire.KindGrid, Cols: 10})
	word := "hello"
	for i, r := range word {
		m.grid.setCell(0, i, gridcache.PackCell(r, gridcache.DefaultStyleID, false))
	}
	m.copyAnchor = 0
	m.copyCursorC = 4
	m.copyCursorR = 0

	if got := m.Selection(); got != word {
		t.Fatalf("Selection() = %q, want %q", got, word)
	}
}

func TestSelectionReturnsEmptyStringBeforeGridExists(t *testing.T) {
	m := New(newRecordingTransport())
	if got := m.Selection(); got != "" {
		t.Fatalf("Selection() = %q, want empty before the grid is initialized", got)
	}
}

func TestViewReportsConnectingBeforeReady(t *testing.T) {
	m := New(newRecordingTransport())
	if got := m.View(); got != "connecting...\n" {
		t.Fatalf("View() = %q, want the connecting placeholder", got)
	}
}
