package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beachside/beach/internal/deltastream"
	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/transport"
	"github.com/beachside/beach/internal/wire"
)

// fakeTransport is an in-memory transport.Transport double that records
// every frame sent to it, for asserting on synchronizer output without a
// real socket.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	failing bool
}

func (f *fakeTransport) SendBytes(ctx context.Context, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return &transport.Error{Kind: transport.IO, Err: context.DeadlineExceeded}
	}
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeTransport) SendText(ctx context.Context, s string) error { return nil }
func (f *fakeTransport) Recv(ctx context.Context, timeout time.Duration) (transport.Message, error) {
	return transport.Message{}, transport.ErrClosed
}
func (f *fakeTransport) TryRecv() (transport.Message, bool, error) { return transport.Message{}, false, nil }
func (f *fakeTransport) Kind() transport.Kind                      { return transport.KindWebSocket }
func (f *fakeTransport) IsConnected() bool                         { return !f.closed }
func (f *fakeTransport) Close() error                              { f.closed = true; return nil }

func (f *fakeTransport) frames(t *testing.T) []wire.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Frame, 0, len(f.sent))
	for _, b := range f.sent {
		fr, err := wire.Decode(b)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		out = append(out, fr)
	}
	return out
}

func newTestSynchronizer(t *testing.T) (*Synchronizer, *gridcache.TerminalGrid, *deltastream.Stream) {
	t.Helper()
	grid := gridcache.NewTerminalGrid(4, 8, 1000)
	stream := deltastream.New(1024)
	cfg := DefaultConfig()
	return New(grid, stream, cfg), grid, stream
}

func drainToLive(t *testing.T, s *Synchronizer, sub *Subscription) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 64; i++ {
		sub.mu.Lock()
		st := sub.st
		sub.mu.Unlock()
		if st == stateLive {
			return
		}
		if err := s.Tick(ctx, sub); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	t.Fatal("subscription never reached stateLive")
}

func TestSubscribeSendsHelloThenGrid(t *testing.T) {
	s, _, _ := newTestSynchronizer(t)
	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	frames := ft.frames(t)
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2 (Hello, Grid)", len(frames))
	}
	if frames[0].Kind != wire.KindHello || frames[0].Subscription != sub.ID {
		t.Fatalf("frame[0] = %+v, want Hello for sub %d", frames[0], sub.ID)
	}
	if frames[1].Kind != wire.KindGrid || frames[1].Cols != 8 {
		t.Fatalf("frame[1] = %+v, want Grid with Cols=8", frames[1])
	}
}

func TestTickDrivesThroughAllThreeSnapshotLanesToLive(t *testing.T) {
	s, grid, _ := newTestSynchronizer(t)
	buf := make([]gridcache.PackedCell, grid.Cols())
	for col := 0; col < grid.Cols(); col++ {
		buf[col] = gridcache.PackCell('x', gridcache.DefaultStyleID, false)
	}
	grid.WriteRowIfNewer(0, 0, 1, buf)

	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	drainToLive(t, s, sub)

	var sawComplete = map[wire.Lane]bool{}
	for _, f := range ft.frames(t) {
		if f.Kind == wire.KindSnapshotComplete {
			sawComplete[f.Lane] = true
		}
	}
	for _, lane := range []wire.Lane{wire.LaneForeground, wire.LaneRecent, wire.LaneHistory} {
		if !sawComplete[lane] {
			t.Errorf("missing SnapshotComplete for lane %v", lane)
		}
	}
}

func TestTickDeltaSendsNewAppendedUpdates(t *testing.T) {
	s, grid, stream := newTestSynchronizer(t)
	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatal(err)
	}
	drainToLive(t, s, sub)

	cell := gridcache.PackCell('q', gridcache.DefaultStyleID, false)
	grid.WritePackedCellIfNewer(0, 0, 50, cell)
	stream.Append([]gridcache.Update{gridcache.NewCellUpdate(50, 0, 0, cell)})

	if err := s.Tick(context.Background(), sub); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	frames := ft.frames(t)
	last := frames[len(frames)-1]
	if last.Kind != wire.KindDelta || len(last.Updates) != 1 || last.Watermark != 50 {
		t.Fatalf("last frame = %+v, want a Delta carrying the new cell at watermark 50", last)
	}
}

func TestTickDeltaSuppressesUnchangedCellOnRetransmit(t *testing.T) {
	s, grid, stream := newTestSynchronizer(t)
	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatal(err)
	}
	drainToLive(t, s, sub)

	cell := gridcache.PackCell('q', gridcache.DefaultStyleID, false)
	grid.WritePackedCellIfNewer(0, 0, 50, cell)
	stream.Append([]gridcache.Update{gridcache.NewCellUpdate(50, 0, 0, cell)})
	s.Tick(context.Background(), sub)

	// Re-append an identical cell value at a higher seq: the transmitter
	// cache should suppress it since the subscription already has it.
	stream.Append([]gridcache.Update{gridcache.NewCellUpdate(51, 0, 0, cell)})
	before := len(ft.frames(t))
	s.Tick(context.Background(), sub)
	after := ft.frames(t)
	if len(after) != before {
		t.Fatalf("expected no new frame for a fully-suppressed delta, got %d new frames", len(after)-before)
	}
}

func TestTickDeltaSendsHeartbeatWhenIdle(t *testing.T) {
	s, _, _ := newTestSynchronizer(t)
	s.cfg.HeartbeatInterval = 0
	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatal(err)
	}
	drainToLive(t, s, sub)

	before := len(ft.frames(t))
	if err := s.Tick(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	frames := ft.frames(t)
	if len(frames) != before+1 || frames[len(frames)-1].Kind != wire.KindHeartbeat {
		t.Fatalf("expected exactly one Heartbeat frame appended, got %+v", frames[before:])
	}
}

func TestStreamGapResetsSubscriptionToSnapshot(t *testing.T) {
	s, _, stream := newTestSynchronizer(t)
	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatal(err)
	}
	drainToLive(t, s, sub)

	// Deliver one update first so the subscription's watermark
	// becomes a small positive seq.
	stream.Append([]gridcache.Update{
		gridcache.NewCellUpdate(1, 0, 0, gridcache.PackCell('a', gridcache.DefaultStyleID, false)),
	})
	if err := s.Tick(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	sub.mu.Lock()
	if sub.lastDelivered != 1 {
		t.Fatalf("lastDelivered = %d, want 1", sub.lastDelivered)
	}
	sub.mu.Unlock()

	// Now flood the ring with far more updates than its capacity, pushing
	// the oldest resident seq well past the subscription's watermark.
	updates := make([]gridcache.Update, 0, 2000)
	for i := uint64(2); i <= 2000; i++ {
		updates = append(updates, gridcache.NewCellUpdate(i, 0, 0, gridcache.PackCell('a', gridcache.DefaultStyleID, false)))
	}
	stream.Append(updates)

	if err := s.Tick(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	sub.mu.Lock()
	st := sub.st
	sub.mu.Unlock()
	if st != stateSnapForeground {
		t.Fatalf("state after StreamGap = %v, want stateSnapForeground", st)
	}
}

func TestRequestBackfillServicedDuringLiveTick(t *testing.T) {
	s, grid, _ := newTestSynchronizer(t)
	buf := make([]gridcache.PackedCell, grid.Cols())
	for col := range buf {
		buf[col] = gridcache.PackCell('h', gridcache.DefaultStyleID, false)
	}
	grid.WriteRowIfNewer(2, 0, 1, buf)

	ft := &fakeTransport{}
	sub, err := s.Subscribe(context.Background(), ft)
	if err != nil {
		t.Fatal(err)
	}
	drainToLive(t, s, sub)

	s.RequestBackfill(sub.ID, 9, 2, 1)
	if err := s.Tick(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, f := range ft.frames(t) {
		if f.Kind == wire.KindHistoryBackfill && f.RequestID == 9 {
			found = true
			if f.HasMore {
				t.Fatal("single-row backfill should not set HasMore")
			}
		}
	}
	if !found {
		t.Fatal("expected a HistoryBackfill frame for the queued request")
	}
}

func TestTransportSendFailureMarksSubscriptionDead(t *testing.T) {
	s, _, _ := newTestSynchronizer(t)
	ft := &fakeTransport{failing: true}
	sub, err := s.Subscribe(context.Background(), ft)
	if err == nil {
		t.Fatal("expected Subscribe to fail when the transport rejects every send")
	}
	if !sub.IsDead() {
		t.Fatal("subscription should be marked dead after a send failure")
	}
}
