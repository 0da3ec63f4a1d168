// Package gridcache implements the authoritative terminal screen model: a
// history-bounded grid of packed cells with absolute row addressing and an
// interned style table, as consumed by internal/emulator and served by
// internal/sync.
package gridcache

import "sync"

// StyleID identifies an interned Style. Ids are monotonic and never reused
// for the lifetime of a StyleTable.
type StyleID uint32

// Style is a cell's visual attributes: foreground/background color index
// (an ANSI-256-plus-truecolor convention, packed as a 25-bit value: bit24
// set means the low 24 bits are an RGB truecolor, clear means the low 8
// bits are a palette index) and an attribute bitmask.
type Style struct {
	Fg    uint32
	Bg    uint32
	Attrs Attrs
}

// Attrs is a bitmask of cell rendering attributes, mirroring the flags a
// VT parser reports for bold/underline/etc.
type Attrs uint16

const (
	AttrBold Attrs = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrHidden
	AttrStrike
)

// DefaultStyleID is the style every fresh cell references: no color, no
// attributes. It is always id 0 and is pre-interned by NewStyleTable.
const DefaultStyleID StyleID = 0

// StyleTable interns Styles to small integer ids so PackedCell can carry a
// style reference in a few bits instead of a full Style struct. The zero
// value is not usable; use NewStyleTable.
type StyleTable struct {
	mu      sync.RWMutex
	byID    []Style
	byValue map[Style]StyleID
}

// NewStyleTable creates a StyleTable with DefaultStyleID already interned.
func NewStyleTable() *StyleTable {
	t := &StyleTable{
		byID:    make([]Style, 0, 64),
		byValue: make(map[Style]StyleID, 64),
	}
	t.byID = append(t.byID, Style{})
	t.byValue[Style{}] = DefaultStyleID
	return t
}

// EnsureIDWithNew returns the id for style, interning it if this is the
// first time it has been seen. is_new reports whether a fresh id was
// minted, which callers use to decide whether a Style wire update must be
// emitted to subscribers that have not seen it yet.
func (t *StyleTable) EnsureIDWithNew(style Style) (id StyleID, isNew bool) {
	t.mu.RLock()
	if id, ok := t.byValue[style]; ok {
		t.mu.RUnlock()
		return id, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byValue[style]; ok {
		return id, false
	}
	id = StyleID(len(t.byID))
	t.byID = append(t.byID, style)
	t.byValue[style] = id
	return id, true
}

// Lookup returns the Style for id and whether it is currently live.
func (t *StyleTable) Lookup(id StyleID) (Style, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.byID) {
		return Style{}, false
	}
	return t.byID[id], true
}

// Len returns the number of interned styles, including the default.
func (t *StyleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
