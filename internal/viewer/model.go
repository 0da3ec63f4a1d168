// Package viewer implements the viewer loop: it decodes host frames over
// a transport.Transport and drives a bubbletea-rendered terminal grid.
package viewer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/transport"
	"github.com/beachside/beach/internal/wire"
)

// renderInterval is the period of the model's tick. Handling a tick only
// schedules the next one: the model itself does not coalesce redraws or
// limit how often View's output changes, and it has no separate
// immediate-redraw path for the first frame or a resize.
const renderInterval = 33 * time.Millisecond

type laneState int

const (
	laneWaiting laneState = iota
	laneComplete
)

// frameMsg wraps a decoded host frame for tea.Model.Update.
type frameMsg wire.Frame

// transportErrMsg reports the transport loop's terminal error.
type transportErrMsg struct{ err error }

// tickMsg paces redraws to renderInterval.
type tickMsg time.Time

// predicted is one not-yet-acknowledged predictively-echoed keystroke.
type predicted struct {
	seq  uint64
	col  int
	rune rune
}

// Model is the viewer's bubbletea model: it owns the local grid mirror,
// the copy-mode cursor, and the predictive-echo overlay.
type Model struct {
	t transport.Transport

	width, height int

	grid *localGrid

	subID        uint64
	maxSeq       uint64
	historyRows  uint64
	baseRow      uint64
	viewportRows int

	lanes map[wire.Lane]laneState
	ready bool

	lastSeq uint64

	inputSeq  atomic.Uint64
	predicted []predicted

	copyMode    bool
	copyAnchor  int
	copyCursorR uint64
	copyCursorC int

	frames chan wire.Frame
	errs   chan error

	connected bool
	quitting  bool
}

// New creates a Model that will decode frames arriving on t.
func New(t transport.Transport) *Model {
	return &Model{
		t:         t,
		lanes:     map[wire.Lane]laneState{wire.LaneForeground: laneWaiting, wire.LaneRecent: laneWaiting, wire.LaneHistory: laneWaiting},
		frames:    make(chan wire.Frame, 64),
		errs:      make(chan error, 1),
		connected: true,
	}
}

func (m *Model) Init() tea.Cmd {
	go m.recvLoop()
	return tea.Batch(m.listenForFrames(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(renderInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// recvLoop blocks on transport.Recv, decoding wire frames and forwarding
// them to m.frames until the transport closes or errors terminally.
func (m *Model) recvLoop() {
	ctx := context.Background()
	for {
		msg, err := m.t.Recv(ctx, 0)
		if err != nil {
			m.errs <- err
			return
		}
		if msg.Kind != transport.Binary {
			continue
		}
		f, err := wire.Decode(msg.Data)
		if err != nil {
			continue
		}
		m.frames <- f
	}
}

func (m *Model) listenForFrames() tea.Cmd {
	return func() tea.Msg {
		select {
		case f := <-m.frames:
			return frameMsg(f)
		case err := <-m.errs:
			return transportErrMsg{err: err}
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case frameMsg:
		m.applyFrame(wire.Frame(msg))
		return m, m.listenForFrames()

	case transportErrMsg:
		m.connected = false
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) applyFrame(f wire.Frame) {
	switch f.Kind {
	case wire.KindHello:
		m.subID = f.Subscription
		m.maxSeq = f.MaxSeq

	case wire.KindGrid:
		m.historyRows = uint64(f.HistoryRows)
		m.baseRow = f.BaseRow
		if f.HasViewportRows {
			m.viewportRows = int(f.ViewportRows)
		}
		if m.grid == nil {
			m.grid = newLocalGrid(int(f.Cols))
		}

	case wire.KindSnapshot:
		for _, u := range f.Updates {
			m.grid.apply(u)
		}
		if f.HasCursor {
			m.grid.apply(f.Cursor)
		}

	case wire.KindSnapshotComplete:
		m.lanes[f.Lane] = laneComplete
		if f.Lane == wire.LaneHistory {
			m.ready = true
		}

	case wire.KindDelta:
		if f.Watermark <= m.lastSeq && m.lastSeq != 0 {
			return
		}
		for _, u := range f.Updates {
			m.grid.apply(u)
			m.ackPredicted(u)
		}
		if f.HasCursor {
			m.grid.apply(f.Cursor)
		}
		m.lastSeq = f.Watermark

	case wire.KindHistoryBackfill:
		for _, u := range f.Updates {
			m.grid.apply(u)
		}

	case wire.KindCursor:
		m.grid.apply(f.Cursor)

	case wire.KindInputAck:
		m.dropPredicted(f.Seq)

	case wire.KindHeartbeat:
		// liveness only; no state change.

	case wire.KindShutdown:
		m.quitting = true
	}
}

// ackPredicted drops a predictive echo once the corresponding server-side
// cell write is observed, regardless of whether it matches (the server is
// always authoritative).
func (m *Model) ackPredicted(u gridcache.Update) {
	if u.Kind != gridcache.UpdateCell {
		return
	}
	out := m.predicted[:0]
	for _, p := range m.predicted {
		if p.seq == u.Seq {
			continue
		}
		out = append(out, p)
	}
	m.predicted = out
}

func (m *Model) dropPredicted(seq uint64) {
	out := m.predicted[:0]
	for _, p := range m.predicted {
		if p.seq != seq {
			out = append(out, p)
		}
	}
	m.predicted = out
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.quitting = true
		return m, tea.Quit
	}
	if msg.Type == tea.KeyCtrlB {
		m.copyMode = !m.copyMode
		return m, nil
	}
	if m.copyMode {
		return m.handleCopyModeKey(msg)
	}

	data := []byte(msg.String())
	if msg.Type == tea.KeyRunes {
		data = []byte(string(msg.Runes))
	} else if msg.Type == tea.KeyEnter {
		data = []byte{'\r'}
	}
	seq := m.inputSeq.Add(1) - 1
	frame := wire.Frame{Kind: wire.KindInput, Seq: seq, Data: data}
	b, err := wire.Encode(frame)
	if err == nil {
		m.t.SendBytes(context.Background(), b)
	}
	return m, nil
}

func (m *Model) handleCopyModeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyUp:
		if m.copyCursorR > m.grid.firstRow {
			m.copyCursorR--
		} else {
			m.requestOlderRows()
		}
	case tea.KeyDown:
		if m.copyCursorR < m.grid.lastRow {
			m.copyCursorR++
		}
	case tea.KeyHome:
		m.copyCursorR = m.grid.firstRow
		m.copyCursorC = 0
	case tea.KeyEnd:
		m.copyCursorR = m.grid.lastRow
	case tea.KeyPgUp:
		if m.copyCursorR > m.grid.firstRow+uint64(m.viewportRows) {
			m.copyCursorR -= uint64(m.viewportRows)
		} else {
			m.copyCursorR = m.grid.firstRow
			m.requestOlderRows()
		}
	case tea.KeyPgDown:
		m.copyCursorR += uint64(m.viewportRows)
		if m.copyCursorR > m.grid.lastRow {
			m.copyCursorR = m.grid.lastRow
		}
	case tea.KeySpace:
		m.copyAnchor = m.copyCursorC
	case tea.KeyEsc:
		m.copyMode = false
	}
	return m, nil
}

// requestOlderRows issues a RequestBackfill for the scrollback span just
// above the oldest row currently resident in the local mirror, triggered
// when copy-mode navigation runs off the top of what's resident.
func (m *Model) requestOlderRows() {
	if m.grid.firstRow == 0 {
		return
	}
	count := uint64(m.viewportRows)
	if count == 0 {
		count = 24
	}
	start := uint64(0)
	if m.grid.firstRow > count {
		start = m.grid.firstRow - count
	}
	frame := wire.Frame{
		Kind:         wire.KindRequestBackfill,
		Subscription: m.subID,
		RequestID:    m.inputSeq.Add(1) - 1,
		StartRow:     start,
		Count:        m.grid.firstRow - start,
	}
	b, err := wire.Encode(frame)
	if err == nil {
		m.t.SendBytes(context.Background(), b)
	}
}

// Selection extracts the plain text between the copy-mode anchor and
// cursor, inclusive, for the current row. Multi-row selection is left for
// a future iteration; this matches a single-row yank which covers the
// common case.
func (m *Model) Selection() string {
	if m.grid == nil {
		return ""
	}
	lo, hi := m.copyAnchor, m.copyCursorC
	if lo > hi {
		lo, hi = hi, lo
	}
	cells := m.grid.line(m.copyCursorR)
	if hi >= len(cells) {
		hi = len(cells) - 1
	}
	var b strings.Builder
	for c := lo; c <= hi && c < len(cells); c++ {
		if !cells[c].IsWideSpacer() {
			fmt.Fprintf(&b, "%c", cells[c].Rune())
		}
	}
	return b.String()
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready || m.grid == nil {
		return "connecting...\n"
	}
	return m.render()
}
