package richtext

import (
	"testing"

	"github.com/yetty/core/msdf"
)

func mustFont(t *testing.T) *msdf.Font {
	t.Helper()
	f, err := msdf.NewFont(msdf.DefaultFontConfig())
	if err != nil {
		t.Fatalf("msdf.NewFont: %v", err)
	}
	return f
}

func TestFontManagerResolvesRegisteredFamily(t *testing.T) {
	deflt := mustFont(t)
	roboto := mustFont(t)

	fm := NewFontManager(deflt)
	fm.Register("Roboto", roboto)

	got, ok := fm.Resolve("Roboto")
	if !ok || got != roboto {
		t.Fatalf("expected Roboto font, got %v (ok=%v)", got, ok)
	}
}

func TestFontManagerFallsBackToDefault(t *testing.T) {
	deflt := mustFont(t)
	fm := NewFontManager(deflt)

	got, ok := fm.Resolve("Unknown Family")
	if !ok || got != deflt {
		t.Fatalf("expected fallback to default font, got %v (ok=%v)", got, ok)
	}
}

func TestFontManagerResolveFailsWithNoDefault(t *testing.T) {
	fm := NewFontManager(nil)
	if _, ok := fm.Resolve("Anything"); ok {
		t.Fatal("expected Resolve to fail with no registered family and no default")
	}
}

func TestLayoutDocumentEmptyReturnsError(t *testing.T) {
	fm := NewFontManager(mustFont(t))
	if _, err := LayoutDocument(Document{}, fm); err == nil {
		t.Fatal("expected error for a document with neither spans nor chars")
	}
}

func TestLayoutDocumentSkipsUnresolvableFamily(t *testing.T) {
	fm := NewFontManager(nil)
	doc := Document{Chars: []PositionedChar{{Codepoint: 'a', FontFamily: "Missing", Size: 16}}}

	result, err := LayoutDocument(doc, fm)
	if err != nil {
		t.Fatalf("LayoutDocument: %v", err)
	}
	if len(result.Batches) != 0 {
		t.Fatalf("expected no batches when the font can't be resolved, got %d", len(result.Batches))
	}
}

func TestLayoutDocumentSkipsSentinelOnlyGlyphs(t *testing.T) {
	// A freshly-created Font has only the zero-sized sentinel entry, so
	// every glyph lookup resolves to a zero BitmapSize and is skipped,
	// per spec.md §4.H "Skip glyphs with sub-pixel size".
	fm := NewFontManager(mustFont(t))
	doc := Document{Chars: []PositionedChar{
		{Codepoint: 'h', Size: 16},
		{Codepoint: 'i', Size: 16},
	}}

	result, err := LayoutDocument(doc, fm)
	if err != nil {
		t.Fatalf("LayoutDocument: %v", err)
	}
	if len(result.Batches) != 0 {
		t.Fatalf("expected all sentinel glyphs skipped, got %d batches", len(result.Batches))
	}
	if result.ContentWidth != 0 || result.ContentHeight != 0 {
		t.Fatalf("expected zero content bounds, got %v x %v", result.ContentWidth, result.ContentHeight)
	}
}

func TestLayoutSpansAdvancesCursorOnNewline(t *testing.T) {
	fm := NewFontManager(mustFont(t))
	spans := []Span{{Text: "a\nb", X: 5, Y: 10, Size: 16, LineHeight: 20}}

	chars := layoutSpans(spans, fm)
	if len(chars) != 2 {
		t.Fatalf("expected 2 positioned chars ('a' and 'b'), got %d", len(chars))
	}
	if chars[0].X != 5 || chars[0].Y != 10 {
		t.Fatalf("first char should start at span origin, got (%v, %v)", chars[0].X, chars[0].Y)
	}
	if chars[1].X != 5 || chars[1].Y != 30 {
		t.Fatalf("second char should be on the next line at span.X, got (%v, %v)", chars[1].X, chars[1].Y)
	}
}

func TestLayoutSpansSkipsUnresolvableFamily(t *testing.T) {
	fm := NewFontManager(nil)
	spans := []Span{{Text: "hi", FontFamily: "Missing"}}
	if chars := layoutSpans(spans, fm); len(chars) != 0 {
		t.Fatalf("expected no chars when the span's font can't be resolved, got %d", len(chars))
	}
}
