package gridcache

import "testing"

func TestPackCellRoundTrip(t *testing.T) {
	cases := []struct {
		r      rune
		style  StyleID
		spacer bool
	}{
		{'a', 0, false},
		{'Z', 42, false},
		{'世', 1<<20 - 1, true},
		{' ', DefaultStyleID, false},
	}
	for _, c := range cases {
		cell := PackCell(c.r, c.style, c.spacer)
		if got := cell.Rune(); got != c.r {
			t.Errorf("Rune() = %q, want %q", got, c.r)
		}
		if got := cell.StyleID(); got != c.style {
			t.Errorf("StyleID() = %d, want %d", got, c.style)
		}
		if got := cell.IsWideSpacer(); got != c.spacer {
			t.Errorf("IsWideSpacer() = %v, want %v", got, c.spacer)
		}
	}
}

func TestWithStyle(t *testing.T) {
	cell := PackCell('x', 3, true)
	restyled := cell.WithStyle(9)
	if restyled.Rune() != 'x' || !restyled.IsWideSpacer() {
		t.Errorf("WithStyle changed rune or spacer flag: %+v", restyled)
	}
	if restyled.StyleID() != 9 {
		t.Errorf("StyleID() = %d, want 9", restyled.StyleID())
	}
}

func TestBlankCell(t *testing.T) {
	if BlankCell.Rune() != ' ' {
		t.Errorf("BlankCell.Rune() = %q, want space", BlankCell.Rune())
	}
	if BlankCell.StyleID() != DefaultStyleID {
		t.Errorf("BlankCell.StyleID() = %d, want default", BlankCell.StyleID())
	}
}
