package grid

import (
	"reflect"
	"testing"

	"github.com/yetty/core/widget"
)

func TestNewGridStartsWithFullDamage(t *testing.T) {
	g := NewGrid(4, 3)
	if g.Cols() != 4 || g.Rows() != 3 {
		t.Fatalf("got %dx%d, want 4x3", g.Cols(), g.Rows())
	}
	d := g.TakeDamage()
	if d.Kind != DamageFull {
		t.Fatalf("expected DamageFull on a fresh grid, got %v", d.Kind)
	}
	if d2 := g.TakeDamage(); d2.Kind != DamageNone {
		t.Fatalf("second TakeDamage should report DamageNone, got %v", d2.Kind)
	}
}

func TestResizeReallocatesAndMarksFull(t *testing.T) {
	g := NewGrid(2, 2)
	g.TakeDamage()
	g.SetCell(0, 0, 5, [4]byte{1, 2, 3, 4}, [4]byte{}, AttrBold)
	g.TakeDamage()

	g.Resize(5, 5)
	if g.Cols() != 5 || g.Rows() != 5 {
		t.Fatalf("got %dx%d, want 5x5", g.Cols(), g.Rows())
	}
	d := g.TakeDamage()
	if d.Kind != DamageFull {
		t.Fatalf("expected DamageFull after Resize, got %v", d.Kind)
	}
	if glyphIdx, _, _, _, ok := g.Cell(0, 0); !ok || glyphIdx != 0 {
		t.Fatalf("expected cleared glyph after resize, got %d (ok=%v)", glyphIdx, ok)
	}
}

func TestSetCellAndCellRoundTrip(t *testing.T) {
	g := NewGrid(3, 3)
	g.TakeDamage()

	fg := [4]byte{10, 20, 30, 255}
	bg := [4]byte{1, 2, 3, 4}
	g.SetCell(1, 2, 42, fg, bg, AttrItalic|AttrUnderline)

	glyphIdx, gotFg, gotBg, attrs, ok := g.Cell(1, 2)
	if !ok {
		t.Fatal("expected Cell to report ok=true for an in-bounds cell")
	}
	if glyphIdx != 42 || gotFg != fg || gotBg != bg || attrs != AttrItalic|AttrUnderline {
		t.Fatalf("got (%d, %v, %v, %v)", glyphIdx, gotFg, gotBg, attrs)
	}

	if _, _, _, _, ok := g.Cell(99, 99); ok {
		t.Error("expected Cell to report ok=false for an out-of-bounds cell")
	}

	// Out-of-bounds SetCell must not panic and must not affect damage.
	g.SetCell(-1, 0, 1, fg, bg, 0)
	g.SetCell(0, 99, 1, fg, bg, 0)
	if d := g.TakeDamage(); d.Kind != DamageRects || len(d.Rects) != 1 {
		t.Fatalf("expected only the in-bounds SetCell's rect as damage, got %v (%d rects)", d.Kind, len(d.Rects))
	}
}

func TestTakeDamageAccumulatesRectsUntilFull(t *testing.T) {
	g := NewGrid(10, 10)
	g.TakeDamage() // drain initial Full

	g.SetCell(0, 0, 1, [4]byte{}, [4]byte{}, 0)
	g.SetCell(1, 1, 2, [4]byte{}, [4]byte{}, 0)

	d := g.TakeDamage()
	if d.Kind != DamageRects {
		t.Fatalf("expected DamageRects, got %v", d.Kind)
	}
	if len(d.Rects) != 2 {
		t.Fatalf("expected 2 accumulated rects, got %d", len(d.Rects))
	}

	// Damage is drained by TakeDamage.
	if d2 := g.TakeDamage(); d2.Kind != DamageNone {
		t.Fatalf("expected DamageNone after drain, got %v", d2.Kind)
	}

	// A later MarkFullDamage escalates over any pending rects.
	g.SetCell(2, 2, 3, [4]byte{}, [4]byte{}, 0)
	g.MarkFullDamage()
	if d3 := g.TakeDamage(); d3.Kind != DamageFull {
		t.Fatalf("expected DamageFull after MarkFullDamage, got %v", d3.Kind)
	}
}

func TestMarkDirtyAddsExternalRect(t *testing.T) {
	g := NewGrid(4, 4)
	g.TakeDamage()

	g.MarkDirty(Rect{X: 1, Y: 1, W: 2, H: 2})
	d := g.TakeDamage()
	if d.Kind != DamageRects || len(d.Rects) != 1 {
		t.Fatalf("expected one DamageRects entry, got %v (%d rects)", d.Kind, len(d.Rects))
	}
	if d.Rects[0] != (Rect{X: 1, Y: 1, W: 2, H: 2}) {
		t.Fatalf("unexpected rect: %v", d.Rects[0])
	}
}

func TestCellArraysIsALiveViewForWidgetReservation(t *testing.T) {
	g := NewGrid(6, 4)
	g.TakeDamage()

	w := &widget.Widget{ID: 7, X: 1, Y: 1, WidthCells: 2, HeightCells: 2}
	w.ReserveCells(g.CellArrays(), g.Rows())

	glyphIdx, fg, bg, _, ok := g.Cell(1, 1)
	if !ok {
		t.Fatal("reserved cell should be in bounds")
	}
	if glyphIdx != widget.GlyphDecorator {
		t.Fatalf("expected GlyphDecorator after ReserveCells, got %d", glyphIdx)
	}
	if widget.DecodeWidgetFg(fg) != 7 {
		t.Fatalf("expected widget id 7 encoded in fg, got %d", widget.DecodeWidgetFg(fg))
	}
	if bg != ([4]byte{}) {
		t.Fatalf("expected zeroed bg, got %v", bg)
	}

	// A cell outside the widget's footprint must be untouched.
	if glyphIdx, _, _, _, ok := g.Cell(0, 0); !ok || glyphIdx != 0 {
		t.Fatalf("expected untouched cell outside widget footprint, got %d", glyphIdx)
	}

	w.RestoreCells(g.CellArrays(), g.Rows())
	glyphIdx, fg, bg, _, ok = g.Cell(1, 1)
	if !ok || glyphIdx != 0 || fg != ([4]byte{}) || bg != ([4]byte{}) {
		t.Fatalf("expected cell restored to space/defaults, got (%d, %v, %v)", glyphIdx, fg, bg)
	}
}

func TestGlyphBytesLittleEndian(t *testing.T) {
	g := NewGrid(2, 1)
	g.SetCell(0, 0, 0x1234, [4]byte{}, [4]byte{}, 0)
	g.SetCell(1, 0, 0xABCD, [4]byte{}, [4]byte{}, 0)

	want := []byte{0x34, 0x12, 0xCD, 0xAB}
	if got := g.GlyphBytes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("GlyphBytes() = %v, want %v", got, want)
	}
}

func TestFgBgAttrsBytesFlattenRowMajor(t *testing.T) {
	g := NewGrid(2, 2)
	g.SetCell(0, 0, 0, [4]byte{1, 0, 0, 0}, [4]byte{0, 1, 0, 0}, 0x01)
	g.SetCell(1, 0, 0, [4]byte{2, 0, 0, 0}, [4]byte{0, 2, 0, 0}, 0x02)
	g.SetCell(0, 1, 0, [4]byte{3, 0, 0, 0}, [4]byte{0, 3, 0, 0}, 0x03)
	g.SetCell(1, 1, 0, [4]byte{4, 0, 0, 0}, [4]byte{0, 4, 0, 0}, 0x04)

	wantFg := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0}
	if got := g.FgBytes(); !reflect.DeepEqual(got, wantFg) {
		t.Fatalf("FgBytes() = %v, want %v", got, wantFg)
	}

	wantBg := []byte{0, 1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0}
	if got := g.BgBytes(); !reflect.DeepEqual(got, wantBg) {
		t.Fatalf("BgBytes() = %v, want %v", got, wantBg)
	}

	wantAttrs := []byte{0x01, 0x02, 0x03, 0x04}
	if got := g.AttrsBytes(); !reflect.DeepEqual(got, wantAttrs) {
		t.Fatalf("AttrsBytes() = %v, want %v", got, wantAttrs)
	}
}

func TestSubregionExtractionMatchesFullPlaneWindow(t *testing.T) {
	g := NewGrid(4, 4)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			v := uint16(row*4 + col)
			g.SetCell(col, row, v, [4]byte{byte(v), 0, 0, 0}, [4]byte{0, byte(v), 0, 0}, uint8(v))
		}
	}

	rect := Rect{X: 1, Y: 1, W: 2, H: 2}
	glyphSub := g.SubregionGlyph(rect)
	fgSub := g.SubregionFg(rect)
	bgSub := g.SubregionBg(rect)
	attrsSub := g.SubregionAttrs(rect)

	if len(glyphSub) != rect.W*rect.H*2 {
		t.Fatalf("SubregionGlyph length = %d, want %d", len(glyphSub), rect.W*rect.H*2)
	}
	if len(fgSub) != rect.W*rect.H*4 || len(bgSub) != rect.W*rect.H*4 {
		t.Fatalf("SubregionFg/Bg length mismatch: %d / %d", len(fgSub), len(bgSub))
	}
	if len(attrsSub) != rect.W*rect.H {
		t.Fatalf("SubregionAttrs length = %d, want %d", len(attrsSub), rect.W*rect.H)
	}

	// Spot-check the first texel of the subregion is cell (1,1)'s value.
	wantV := uint16(1*4 + 1)
	gotV := uint16(glyphSub[0]) | uint16(glyphSub[1])<<8
	if gotV != wantV {
		t.Fatalf("subregion origin glyph = %d, want %d", gotV, wantV)
	}
	if attrsSub[0] != uint8(wantV) {
		t.Fatalf("subregion origin attrs = %d, want %d", attrsSub[0], wantV)
	}
}

func TestCursorZeroValueIsInvisible(t *testing.T) {
	var c Cursor
	if c.Visible {
		t.Error("zero-value Cursor should not be visible")
	}
}
