// Package emulator consumes raw PTY bytes and produces ordered
// gridcache.Update values, maintaining a virtual screen with scrollback
// awareness. Two implementations are provided: Simple (line-buffered,
// dependency-free, used by tests and as a fallback) and Full (drives a VT
// parser for full-fidelity capture-and-diff rendering).
package emulator

import (
	"sync/atomic"

	"github.com/beachside/beach/internal/gridcache"
)

// Emulator consumes PTY output and maintains an authoritative grid,
// returning the Updates each write produced so the caller can append them
// to a delta stream.
type Emulator interface {
	// Write feeds a chunk of raw PTY output through the emulator and
	// returns the Updates it produced, already applied to the grid.
	Write(p []byte) ([]gridcache.Update, error)

	// Resize informs the emulator of a new viewport size and returns any
	// Updates the resize itself produced (e.g. a Cursor clamp).
	Resize(rows, cols int) []gridcache.Update

	// Cursor returns the last-known cursor position and visibility.
	Cursor() (row uint64, col int, visible bool)

	// Grid returns the backing TerminalGrid.
	Grid() *gridcache.TerminalGrid

	// Attention reports whether the underlying program signaled for the
	// operator's attention (e.g. a bell) since the last call, clearing the
	// flag. Additive to the core Update stream, not itself an Update
	// variant.
	Attention() bool

	Close() error
}

// seqCounter allocates the strictly increasing seq that the whole pipeline
// orders on. Shared by both emulator implementations.
type seqCounter struct {
	next uint64
}

func (s *seqCounter) allocate() uint64 {
	return atomic.AddUint64(&s.next, 1) - 1
}

// cursorState tracks the last cursor reported via a Cursor update so a new
// one is emitted only when something actually changed.
type cursorState struct {
	row     uint64
	col     int
	visible bool
	set     bool
}

func (c *cursorState) changed(row uint64, col int, visible bool) bool {
	return !c.set || c.row != row || c.col != col || c.visible != visible
}

func (c *cursorState) update(row uint64, col int, visible bool) {
	c.row, c.col, c.visible, c.set = row, col, visible, true
}
