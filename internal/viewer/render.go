package viewer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/beachside/beach/internal/gridcache"
)

// render draws the viewport rows of the local grid, styling each run of
// same-style cells with one lipgloss.Style application rather than one
// per cell.
func (m *Model) render() string {
	rows := m.viewportRows
	if rows == 0 {
		rows = m.height
	}
	if rows <= 0 {
		rows = 24
	}

	lo := uint64(0)
	if m.grid.lastRow+1 > uint64(rows) {
		lo = m.grid.lastRow + 1 - uint64(rows)
	}
	if lo < m.grid.firstRow {
		lo = m.grid.firstRow
	}

	var b strings.Builder
	for r := lo; r <= m.grid.lastRow; r++ {
		b.WriteString(m.renderLine(m.grid.line(r)))
		b.WriteByte('\n')
	}
	if m.copyMode {
		b.WriteString(lipgloss.NewStyle().Reverse(true).Render(fmt.Sprintf(" COPY %d:%d ", m.copyCursorR, m.copyCursorC)))
	}
	return b.String()
}

func (m *Model) renderLine(cells []gridcache.PackedCell) string {
	var b strings.Builder
	var runStyle gridcache.Style
	var run []rune
	haveRun := false

	flush := func() {
		if !haveRun {
			return
		}
		b.WriteString(styleToLipgloss(runStyle).Render(string(run)))
		run = run[:0]
		haveRun = false
	}

	for _, c := range cells {
		if c.IsWideSpacer() {
			continue
		}
		st := m.grid.styleFor(c.StyleID())
		if !haveRun {
			runStyle, haveRun = st, true
		} else if st != runStyle {
			flush()
			runStyle, haveRun = st, true
		}
		run = append(run, c.Rune())
	}
	flush()
	return b.String()
}

func styleToLipgloss(st gridcache.Style) lipgloss.Style {
	out := lipgloss.NewStyle()
	if st.Attrs&gridcache.AttrBold != 0 {
		out = out.Bold(true)
	}
	if st.Attrs&gridcache.AttrDim != 0 {
		out = out.Faint(true)
	}
	if st.Attrs&gridcache.AttrItalic != 0 {
		out = out.Italic(true)
	}
	if st.Attrs&gridcache.AttrUnderline != 0 {
		out = out.Underline(true)
	}
	if st.Attrs&gridcache.AttrBlink != 0 {
		out = out.Blink(true)
	}
	if st.Attrs&gridcache.AttrReverse != 0 {
		out = out.Reverse(true)
	}
	if st.Attrs&gridcache.AttrStrike != 0 {
		out = out.Strikethrough(true)
	}
	if st.Attrs&gridcache.AttrHidden != 0 {
		out = out.Foreground(out.GetBackground())
	}
	if st.Fg != 0 {
		out = out.Foreground(colorFromPacked(st.Fg))
	}
	if st.Bg != 0 {
		out = out.Background(colorFromPacked(st.Bg))
	}
	return out
}

// colorFromPacked converts the grid's packed color representation (bit 24
// set means truecolor RGB in the low 24 bits, clear means an ANSI-256
// palette index in the low 8 bits) into a lipgloss.Color.
func colorFromPacked(v uint32) lipgloss.Color {
	const truecolorBit = uint32(1) << 24
	if v&truecolorBit != 0 {
		rgb := v & 0xFFFFFF
		return lipgloss.Color(fmt.Sprintf("#%06x", rgb))
	}
	return lipgloss.Color(fmt.Sprintf("%d", v&0xFF))
}
