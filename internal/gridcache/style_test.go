package gridcache

import "testing"

func TestStyleTableDefaultIsPreinterned(t *testing.T) {
	st := NewStyleTable()
	if st.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", st.Len())
	}
	style, ok := st.Lookup(DefaultStyleID)
	if !ok || style != (Style{}) {
		t.Fatalf("Lookup(DefaultStyleID) = %+v, %v", style, ok)
	}
}

func TestEnsureIDWithNewMintsFreshMonotonicIDs(t *testing.T) {
	st := NewStyleTable()
	a := Style{Fg: 1, Attrs: AttrBold}
	b := Style{Fg: 2, Attrs: AttrItalic}

	idA, isNew := st.EnsureIDWithNew(a)
	if !isNew || idA != 1 {
		t.Fatalf("first style: id=%d isNew=%v, want 1 true", idA, isNew)
	}
	idB, isNew := st.EnsureIDWithNew(b)
	if !isNew || idB != 2 {
		t.Fatalf("second style: id=%d isNew=%v, want 2 true", idB, isNew)
	}

	// Re-interning an already-seen style returns the same id and is_new=false.
	idAAgain, isNew := st.EnsureIDWithNew(a)
	if isNew || idAAgain != idA {
		t.Fatalf("re-intern: id=%d isNew=%v, want %d false", idAAgain, isNew, idA)
	}
}

func TestLookupUnknownID(t *testing.T) {
	st := NewStyleTable()
	if _, ok := st.Lookup(999); ok {
		t.Fatal("Lookup(999) reported ok for an id never interned")
	}
}
